package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campustrack/busrelay/internal/config"
)

func seeded() *Catalog {
	return NewCatalog(
		[]config.Route{
			{ID: "R2", Name: "Hostel Shuttle"},
			{ID: "R1", Name: "Campus Loop", Stops: []config.Stop{{ID: "S1", Name: "Main Gate", Landmark: "Library"}}},
		},
		[]config.Bus{{ID: "B1", Number: "OD-02-1234", RouteID: "R1", Status: "active"}},
	)
}

func TestCatalogResolve(t *testing.T) {
	c := seeded()
	num, route, status := c.Resolve("B1", "R1")
	if num != "OD-02-1234" || route != "Campus Loop" || status != "active" {
		t.Fatalf("Resolve = %q %q %q", num, route, status)
	}
	num, route, status = c.Resolve("B9", "R9")
	if num != "" || route != "" || status != "" {
		t.Fatalf("unknown entities resolved to %q %q %q", num, route, status)
	}
}

func TestCatalogRoutesSorted(t *testing.T) {
	routes := seeded().Routes()
	if len(routes) != 2 || routes[0].ID != "R1" || routes[1].ID != "R2" {
		t.Fatalf("Routes = %+v", routes)
	}
	r, ok := seeded().Route("R1")
	if !ok || len(r.Stops) != 1 || r.Stops[0].Landmark != "Library" {
		t.Fatalf("Route(R1) = %+v, %v", r, ok)
	}
}

func TestCatalogReplaceKeepsNilHalf(t *testing.T) {
	c := seeded()
	c.Replace(nil, []config.Bus{{ID: "B2", Number: "OD-02-9999"}})
	if _, ok := c.Route("R1"); !ok {
		t.Fatalf("routes dropped by a bus-only replace")
	}
	if _, ok := c.Bus("B1"); ok {
		t.Fatalf("old bus survived replace")
	}
	if b, ok := c.Bus("B2"); !ok || b.Number != "OD-02-9999" {
		t.Fatalf("Bus(B2) = %+v, %v", b, ok)
	}
}

func TestDirectoryRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/routes", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"_id":"R7","name":"North Loop","stops":[{"_id":"S1","name":"Gate","landmark":"Clock","location":{"latitude":20.1,"longitude":85.2}}]}]`))
	})
	mux.HandleFunc("/api/buses", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"_id":"B7","busNumber":"OD-07","routeId":"R7","capacity":40,"status":"maintenance"},{"busNumber":"no-id"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewCatalog(nil, nil)
	d := NewDirectory(c, srv.URL+"/", time.Minute, time.Second, nil)
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	num, route, status := c.Resolve("B7", "R7")
	if num != "OD-07" || route != "North Loop" || status != "maintenance" {
		t.Fatalf("Resolve = %q %q %q", num, route, status)
	}
	r, _ := c.Route("R7")
	if len(r.Stops) != 1 || r.Stops[0].Latitude != 20.1 || r.Stops[0].Landmark != "Clock" {
		t.Fatalf("stops = %+v", r.Stops)
	}
	if n := len(c.Buses()); n != 1 {
		t.Fatalf("buses = %d, want 1 (id-less entry skipped)", n)
	}
}

func TestDirectoryRefreshErrorKeepsCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := seeded()
	d := NewDirectory(c, srv.URL, time.Minute, time.Second, nil)
	if err := d.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error from failing backend")
	}
	if _, route, _ := c.Resolve("", "R1"); route != "Campus Loop" {
		t.Fatalf("catalog changed after failed refresh")
	}
}

func TestDirectoryRefreshMongoShapes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/routes", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"routes":[{"_id":"R7","routeName":"North Loop","stops":[
			{"stopId":{"_id":"S1","name":"Gate","landmark":"Clock","location":{"type":"Point","coordinates":[85.2,20.1]}}},
			{"stopId":"S2","name":"Hostel","location":{"type":"Point","coordinates":[85.3,20.4]}}
		]}]}`))
	})
	mux.HandleFunc("/api/buses", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"buses":[{"_id":"B7","busNumber":"OD-07","routeId":{"_id":"R7","routeName":"North Loop"},"status":"active"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewCatalog(nil, nil)
	if err := NewDirectory(c, srv.URL, time.Minute, time.Second, nil).Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	r, ok := c.Route("R7")
	if !ok || r.Name != "North Loop" {
		t.Fatalf("route = %+v, %v", r, ok)
	}
	if len(r.Stops) != 2 {
		t.Fatalf("stops = %+v", r.Stops)
	}
	if s := r.Stops[0]; s.ID != "S1" || s.Name != "Gate" || s.Latitude != 20.1 || s.Longitude != 85.2 || s.Landmark != "Clock" {
		t.Fatalf("first stop = %+v", s)
	}
	if s := r.Stops[1]; s.ID != "S2" || s.Latitude != 20.4 || s.Longitude != 85.3 {
		t.Fatalf("second stop = %+v", s)
	}
	b, ok := c.Bus("B7")
	if !ok || b.RouteID != "R7" || b.Number != "OD-07" {
		t.Fatalf("bus = %+v, %v", b, ok)
	}
}

func TestDirectoryRefreshRejectsEnvelopeWithoutList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	c := seeded()
	if err := NewDirectory(c, srv.URL, time.Minute, time.Second, nil).Refresh(context.Background()); err == nil {
		t.Fatalf("expected error for envelope without routes")
	}
	if _, ok := c.Route("R1"); !ok {
		t.Fatalf("catalog changed after failed refresh")
	}
}
