package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/campustrack/busrelay/internal/config"
	"github.com/campustrack/busrelay/internal/logging"
)

// Directory refreshes a Catalog from the fleet backend's REST API.
type Directory struct {
	catalog    *Catalog
	baseURL    string
	interval   time.Duration
	httpClient *http.Client
	log        logging.Logger
}

// NewDirectory returns a Directory that polls baseURL every interval.
func NewDirectory(catalog *Catalog, baseURL string, interval, timeout time.Duration, log logging.Logger) *Directory {
	if log == nil {
		log = logging.Noop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Directory{
		catalog:    catalog,
		baseURL:    strings.TrimRight(baseURL, "/"),
		interval:   interval,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Backend documents carry either "id" or a Mongo "_id". Lists may be bare
// arrays or wrapped as {"routes": [...]} / {"buses": [...]}.
type backendRoute struct {
	ID        string        `json:"id"`
	OID       string        `json:"_id"`
	RouteName string        `json:"routeName"`
	Name      string        `json:"name"`
	Stops     []backendStop `json:"stops"`
}

// backendStop is either a stop document or a route entry whose "stopId"
// holds the populated stop or its bare id.
type backendStop struct {
	ID       string          `json:"id"`
	OID      string          `json:"_id"`
	Name     string          `json:"name"`
	Landmark string          `json:"landmark"`
	Location backendLocation `json:"location"`
	StopID   json.RawMessage `json:"stopId"`
}

// backendLocation accepts GeoJSON points (coordinates are [lng, lat]) as
// well as flat latitude/longitude.
type backendLocation struct {
	Coordinates []float64 `json:"coordinates"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
}

func (l backendLocation) latLon() (float64, float64) {
	if len(l.Coordinates) >= 2 {
		return l.Coordinates[1], l.Coordinates[0]
	}
	return l.Latitude, l.Longitude
}

type backendBus struct {
	ID        string `json:"id"`
	OID       string `json:"_id"`
	BusNumber string `json:"busNumber"`
	RouteID   docRef `json:"routeId"`
	Capacity  int    `json:"capacity"`
	Status    string `json:"status"`
}

// docRef is a reference that may arrive as an id string or as the
// populated document.
type docRef string

func (r *docRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*r = ""
		return nil
	case b[0] == '{':
		var doc struct {
			ID  string `json:"id"`
			OID string `json:"_id"`
		}
		if err := json.Unmarshal(b, &doc); err != nil {
			return err
		}
		*r = docRef(firstNonEmpty(doc.ID, doc.OID))
		return nil
	default:
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = docRef(s)
		return nil
	}
}

func (s backendStop) stop() (config.Stop, error) {
	ref := bytes.TrimSpace(s.StopID)
	if len(ref) > 0 && ref[0] == '{' {
		var inner backendStop
		if err := json.Unmarshal(ref, &inner); err != nil {
			return config.Stop{}, fmt.Errorf("decode stopId: %w", err)
		}
		return inner.stop()
	}
	id := firstNonEmpty(s.ID, s.OID)
	if len(ref) > 0 && ref[0] == '"' {
		var sid string
		if err := json.Unmarshal(ref, &sid); err != nil {
			return config.Stop{}, fmt.Errorf("decode stopId: %w", err)
		}
		id = firstNonEmpty(id, sid)
	}
	lat, lon := s.Location.latLon()
	return config.Stop{
		ID:        id,
		Name:      s.Name,
		Latitude:  lat,
		Longitude: lon,
		Landmark:  s.Landmark,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Refresh fetches routes and buses once and replaces the catalog contents.
// The catalog is left unchanged on any error.
func (d *Directory) Refresh(ctx context.Context) error {
	var routes []backendRoute
	if err := d.get(ctx, "/api/routes", "routes", &routes); err != nil {
		return err
	}
	var buses []backendBus
	if err := d.get(ctx, "/api/buses", "buses", &buses); err != nil {
		return err
	}

	outRoutes := make([]config.Route, 0, len(routes))
	for _, r := range routes {
		route := config.Route{ID: firstNonEmpty(r.ID, r.OID), Name: firstNonEmpty(r.RouteName, r.Name)}
		if route.ID == "" {
			continue
		}
		for _, bs := range r.Stops {
			stop, err := bs.stop()
			if err != nil {
				return fmt.Errorf("route %s: %w", route.ID, err)
			}
			route.Stops = append(route.Stops, stop)
		}
		outRoutes = append(outRoutes, route)
	}
	outBuses := make([]config.Bus, 0, len(buses))
	for _, b := range buses {
		bus := config.Bus{
			ID:       firstNonEmpty(b.ID, b.OID),
			Number:   b.BusNumber,
			RouteID:  string(b.RouteID),
			Capacity: b.Capacity,
			Status:   b.Status,
		}
		if bus.ID == "" {
			continue
		}
		outBuses = append(outBuses, bus)
	}

	d.catalog.Replace(outRoutes, outBuses)
	d.log.Debug(ctx, "catalog refreshed",
		logging.Int("routes", len(outRoutes)),
		logging.Int("buses", len(outBuses)),
	)
	return nil
}

// get fetches path and decodes its list into out. An object body is read
// as an envelope and its key field is decoded instead.
func (d *Directory) get(ctx context.Context, path, key string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: http status %d", path, resp.StatusCode)
	}
	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		list, ok := envelope[key]
		if !ok {
			return fmt.Errorf("decode %s: missing %q list", path, key)
		}
		body = list
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Run refreshes immediately and then on every interval until ctx is done.
func (d *Directory) Run(ctx context.Context) {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn(ctx, "catalog refresh failed", logging.Err(err))
			}
			t.Reset(d.interval)
		}
	}
}
