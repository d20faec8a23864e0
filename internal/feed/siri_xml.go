package feed

import (
	"context"
	"encoding/xml"
	"io"
	"time"
)

// SiriXmlSource reads a SIRI VehicleMonitoring XML feed.
type SiriXmlSource struct {
	httpSource
}

// NewSiriXmlSource returns a source for the SIRI VM XML document at url.
func NewSiriXmlSource(url string, timeout time.Duration) *SiriXmlSource {
	return &SiriXmlSource{httpSource: newHTTPSource("siri xml", url, timeout)}
}

// Fetch downloads and parses the current VehicleMonitoring delivery.
func (s *SiriXmlSource) Fetch(ctx context.Context) ([]Vehicle, error) {
	body, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return parseSiriXML(body)
}

type siriActivity struct {
	id, line, lat, lon, bearing, recordedAt string
}

// parseSiriXML is a streaming extraction, namespace tolerant via Name.Local.
func parseSiriXML(r io.Reader) ([]Vehicle, error) {
	dec := xml.NewDecoder(r)

	var (
		inSiri, inSD, inVMD, inVA, inMVJ, inVL bool
		cur                                    siriActivity
		vehicles                               []Vehicle
	)
	text := func(se *xml.StartElement, dst *string) {
		var v string
		if err := dec.DecodeElement(&v, se); err == nil {
			*dst = v
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "Siri":
				inSiri = true
			case "ServiceDelivery":
				if inSiri {
					inSD = true
				}
			case "VehicleMonitoringDelivery":
				if inSD {
					inVMD = true
				}
			case "VehicleActivity":
				if inVMD {
					inVA = true
					cur = siriActivity{}
				}
			case "RecordedAtTime":
				if inVA && !inMVJ {
					text(&se, &cur.recordedAt)
				}
			case "MonitoredVehicleJourney":
				if inVA {
					inMVJ = true
				}
			case "LineRef":
				if inMVJ {
					text(&se, &cur.line)
				}
			case "Bearing":
				if inMVJ {
					text(&se, &cur.bearing)
				}
			case "VehicleLocation":
				if inMVJ || inVA {
					inVL = true
				}
			case "VehicleRef":
				if inMVJ || inVA {
					text(&se, &cur.id)
				}
			case "Latitude":
				if inVL {
					text(&se, &cur.lat)
				}
			case "Longitude":
				if inVL {
					text(&se, &cur.lon)
				}
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "VehicleLocation":
				inVL = false
			case "MonitoredVehicleJourney":
				inMVJ = false
			case "VehicleActivity":
				if inVA {
					inVA = false
					if v, ok := cur.vehicle(); ok {
						vehicles = append(vehicles, v)
					}
				}
			case "VehicleMonitoringDelivery":
				inVMD = false
			case "ServiceDelivery":
				inSD = false
			case "Siri":
				inSiri = false
			}
		}
	}
	return vehicles, nil
}

func (a siriActivity) vehicle() (Vehicle, bool) {
	if a.id == "" || a.lat == "" || a.lon == "" {
		return Vehicle{}, false
	}
	lat, lon, ok := parseLatLon(a.lat, a.lon)
	if !ok {
		return Vehicle{}, false
	}
	return Vehicle{
		ID:        a.id,
		RouteID:   a.line,
		Lat:       lat,
		Lon:       lon,
		Bearing:   parseOptionalFloat(a.bearing),
		Timestamp: parseTime(a.recordedAt),
	}, true
}
