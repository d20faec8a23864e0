// Package ws is the viewer-facing websocket transport of the relay.
package ws

import (
	"encoding/json"

	"github.com/campustrack/busrelay/internal/relay"
)

// Inbound control message types.
const (
	TypeSubscribe   = "subscribe-to-route"
	TypeUnsubscribe = "unsubscribe-from-route"
)

// Outbound event names.
const (
	EventLocationUpdate = "bus-location-update"
	EventRouteSnapshot  = "route-snapshot"
	EventUnsubscribed   = "unsubscribed"
	EventError          = "error"

	// EventBusOffline carries the last cached position of a bus that
	// stopped reporting; viewers drop its marker.
	EventBusOffline = "user-disconnect"
)

// ControlMessage is what viewers send.
type ControlMessage struct {
	Type    string `json:"type"`
	RouteID string `json:"routeId"`
}

// Envelope is what viewers receive.
type Envelope struct {
	Event   string `json:"event"`
	RouteID string `json:"routeId,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
}

func encodeUpdate(u relay.LocationUpdate) ([]byte, error) {
	if u.Offline {
		return json.Marshal(Envelope{Event: EventBusOffline, RouteID: u.RouteID, Data: u})
	}
	return json.Marshal(Envelope{Event: EventLocationUpdate, Data: u})
}

func encodeSnapshot(routeID string, updates []relay.LocationUpdate) ([]byte, error) {
	if updates == nil {
		updates = []relay.LocationUpdate{}
	}
	return json.Marshal(Envelope{Event: EventRouteSnapshot, RouteID: routeID, Data: updates})
}

func encodeEvent(event, routeID string, data any) []byte {
	b, _ := json.Marshal(Envelope{Event: event, RouteID: routeID, Data: data})
	return b
}
