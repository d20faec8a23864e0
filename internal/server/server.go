// Package server exposes the relay over HTTP: report ingest, last known
// position queries, the route catalog, a GTFS-RT export, metrics and the
// viewer websocket.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/campustrack/busrelay/internal/logging"
	"github.com/campustrack/busrelay/internal/metadata"
	"github.com/campustrack/busrelay/internal/observability"
	"github.com/campustrack/busrelay/internal/relay"
)

// Deps are the components the routes are served from. Metrics, WebSocket
// and Catalog are optional.
type Deps struct {
	Hub       *relay.Hub
	Catalog   *metadata.Catalog
	WebSocket http.Handler
	Metrics   *observability.RelayCollector
	Log       logging.Logger
	// StaticDir, when set, is served at "/".
	StaticDir string
}

type api struct {
	hub     *relay.Hub
	catalog *metadata.Catalog
	log     logging.Logger
	now     func() time.Time
}

const maxReportBytes = 64 << 10

// NewRouter builds the HTTP handler tree.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = logging.Noop()
	}
	if d.Catalog == nil {
		d.Catalog = metadata.NewCatalog(nil, nil)
	}
	a := &api{hub: d.Hub, catalog: d.Catalog, log: d.Log, now: time.Now}

	r := mux.NewRouter()
	r.Use(withLogging(d.Log, d.Metrics))

	r.HandleFunc("/api/health", a.health).Methods(http.MethodGet)
	r.HandleFunc("/api/locations", a.postLocation).Methods(http.MethodPost)
	r.HandleFunc("/api/locations", a.listLocations).Methods(http.MethodGet)
	r.HandleFunc("/api/buses/{busId}/location", a.busLocation).Methods(http.MethodGet)
	r.HandleFunc("/api/routes", a.listRoutes).Methods(http.MethodGet)
	r.HandleFunc("/api/routes/{routeId}/stops", a.routeStops).Methods(http.MethodGet)
	r.HandleFunc("/api/gtfsrt/vehicle-positions", a.vehiclePositions).Methods(http.MethodGet)

	if d.WebSocket != nil {
		r.Handle("/ws", d.WebSocket)
	}
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}
	if d.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(d.StaticDir)))
	}
	return r
}

// New returns an http.Server for the router on port.
func New(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
