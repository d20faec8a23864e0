package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/campustrack/busrelay/internal/logging"
	"github.com/campustrack/busrelay/internal/relay"
)

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

type healthBody struct {
	Status        string `json:"status"`
	Connections   int    `json:"connections"`
	Subscriptions int    `json:"subscriptions"`
	CachedBuses   int    `json:"cachedBuses"`
	LastIngest    int64  `json:"lastIngest,omitempty"`
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{
		Status:        "ok",
		Connections:   a.hub.Registry().Len(),
		Subscriptions: a.hub.Index().Len(),
		CachedBuses:   a.hub.Cache().Len(),
	}
	if t := a.hub.LastIngest(); !t.IsZero() {
		body.LastIngest = t.UnixMilli()
	}
	writeJSON(w, http.StatusOK, body)
}

type receiptBody struct {
	Accepted  bool `json:"accepted"`
	Stale     bool `json:"stale"`
	Cached    bool `json:"cached"`
	Delivered int  `json:"delivered"`
	Failed    int  `json:"failed"`
}

func (a *api) postLocation(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}
	report, err := relay.DecodeReport(data)
	if err == nil {
		var receipt relay.Receipt
		receipt, err = a.hub.Ingest(r.Context(), report)
		if err == nil {
			writeJSON(w, http.StatusAccepted, receiptBody{
				Accepted:  true,
				Stale:     receipt.Stale,
				Cached:    receipt.Cached,
				Delivered: receipt.Delivery.Delivered,
				Failed:    len(receipt.Delivery.Failed),
			})
			return
		}
	}

	var ire *relay.InvalidReportError
	switch {
	case errors.As(err, &ire):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Field: ire.Field})
	case errors.Is(err, relay.ErrInvalidReport):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.log.Error(r.Context(), "ingest failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *api) listLocations(w http.ResponseWriter, r *http.Request) {
	routeID := strings.TrimSpace(r.URL.Query().Get("routeId"))
	writeJSON(w, http.StatusOK, a.hub.Cache().Snapshot(routeID))
}

func (a *api) busLocation(w http.ResponseWriter, r *http.Request) {
	busID := mux.Vars(r)["busId"]
	u, ok := a.hub.Cache().Get(busID)
	if !ok {
		writeError(w, http.StatusNotFound, "no known location for bus "+busID)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type routeSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StopCount int    `json:"stopCount"`
}

func (a *api) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes := a.catalog.Routes()
	out := make([]routeSummary, 0, len(routes))
	for _, rt := range routes {
		out = append(out, routeSummary{ID: rt.ID, Name: rt.Name, StopCount: len(rt.Stops)})
	}
	writeJSON(w, http.StatusOK, out)
}

type stopView struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Coordinates relay.Location `json:"coordinates"`
	Landmark    string         `json:"landmark,omitempty"`
}

func (a *api) routeStops(w http.ResponseWriter, r *http.Request) {
	routeID := mux.Vars(r)["routeId"]
	route, ok := a.catalog.Route(routeID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown route "+routeID)
		return
	}
	out := make([]stopView, 0, len(route.Stops))
	for _, s := range route.Stops {
		out = append(out, stopView{
			ID:          s.ID,
			Name:        s.Name,
			Coordinates: relay.Location{Latitude: s.Latitude, Longitude: s.Longitude},
			Landmark:    s.Landmark,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
