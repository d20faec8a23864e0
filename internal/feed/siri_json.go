package feed

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// SiriJsonSource reads a SIRI VehicleMonitoring JSON feed.
type SiriJsonSource struct {
	httpSource
}

// NewSiriJsonSource returns a source for the SIRI VM JSON document at url.
func NewSiriJsonSource(url string, timeout time.Duration) *SiriJsonSource {
	return &SiriJsonSource{httpSource: newHTTPSource("siri json", url, timeout)}
}

// Fetch downloads and parses the current VehicleMonitoring delivery.
func (s *SiriJsonSource) Fetch(ctx context.Context) ([]Vehicle, error) {
	body, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return parseSiriJSON(b)
}

// parseSiriJSON walks Siri?.ServiceDelivery.VehicleMonitoringDelivery[].VehicleActivity[].
func parseSiriJSON(b []byte) ([]Vehicle, error) {
	var root map[string]any
	if err := json.Unmarshal(b, &root); err != nil {
		return nil, err
	}
	if siri, ok := root["Siri"].(map[string]any); ok && siri != nil {
		root = siri
	}
	sd, _ := root["ServiceDelivery"].(map[string]any)
	vmdArr, _ := sd["VehicleMonitoringDelivery"].([]any)
	vehicles := make([]Vehicle, 0, 256)
	for _, vmdAny := range vmdArr {
		vmd, _ := vmdAny.(map[string]any)
		vaArr, _ := vmd["VehicleActivity"].([]any)
		for _, vaAny := range vaArr {
			va, _ := vaAny.(map[string]any)
			mvj, _ := va["MonitoredVehicleJourney"].(map[string]any)
			if mvj == nil {
				continue
			}
			id := stringFrom(mvj["VehicleRef"])
			if id == "" {
				id = stringFromNested(mvj, "FramedVehicleJourneyRef", "DatedVehicleJourneyRef")
			}
			lat, _ := floatFromNested(mvj, "VehicleLocation", "Latitude")
			lon, _ := floatFromNested(mvj, "VehicleLocation", "Longitude")
			if id == "" || (lat == 0 && lon == 0) {
				continue
			}
			v := Vehicle{
				ID:        id,
				RouteID:   stringFrom(mvj["LineRef"]),
				Lat:       lat,
				Lon:       lon,
				Timestamp: parseTime(stringFrom(va["RecordedAtTime"])),
			}
			if br, ok := floatFrom(mvj["Bearing"]); ok {
				v.Bearing = &br
			}
			vehicles = append(vehicles, v)
		}
	}
	return vehicles, nil
}

// stringFrom accepts a bare string or the {"value": "..."} wrapper some
// SIRI JSON encoders emit.
func stringFrom(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		s, _ := t["value"].(string)
		return s
	}
	return ""
}

func stringFromNested(m map[string]any, k1, k2 string) string {
	m1, _ := m[k1].(map[string]any)
	return stringFrom(m1[k2])
}

func floatFrom(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func floatFromNested(m map[string]any, k1, k2 string) (float64, bool) {
	m1, _ := m[k1].(map[string]any)
	return floatFrom(m1[k2])
}
