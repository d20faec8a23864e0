package relay

import "time"

// ConnectionID identifies one viewer transport session.
type ConnectionID string

// LocationReport is a single GPS fix for a bus on a route. Reports are values;
// nothing in the relay mutates one after Ingest has accepted it.
type LocationReport struct {
	BusID     string    `json:"busId" validate:"required"`
	RouteID   string    `json:"routeId" validate:"required"`
	Latitude  float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Speed     *float64  `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Heading   *float64  `json:"heading,omitempty" validate:"omitempty,gte=0,lte=360"`
	Timestamp time.Time `json:"timestamp"`
}

// Location is the coordinate pair viewers render.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationUpdate is what subscribers receive: the report plus display metadata.
type LocationUpdate struct {
	BusID     string    `json:"busId"`
	RouteID   string    `json:"routeId"`
	BusNumber string    `json:"busNumber,omitempty"`
	RouteName string    `json:"routeName,omitempty"`
	BusStatus string    `json:"busStatus,omitempty"`
	Location  Location  `json:"location"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Stale     bool      `json:"stale,omitempty"`

	// Offline marks the final update of a bus that stopped reporting; its
	// cached position has been dropped.
	Offline bool `json:"offline,omitempty"`
}

// Report returns the location report carried by u.
func (u LocationUpdate) Report() LocationReport {
	return LocationReport{
		BusID:     u.BusID,
		RouteID:   u.RouteID,
		Latitude:  u.Location.Latitude,
		Longitude: u.Location.Longitude,
		Speed:     u.Speed,
		Heading:   u.Heading,
		Timestamp: u.Timestamp,
	}
}

// Sink is the transport handle of a connection. Send must not block on the
// network; implementations queue the update and write it elsewhere.
type Sink interface {
	Send(update LocationUpdate) error
	Close() error
}

// Metadata resolves display names for a bus and its route. Missing entries
// resolve to empty strings.
type Metadata interface {
	Resolve(busID, routeID string) (busNumber, routeName, busStatus string)
}

// Receipt describes the outcome of an accepted report.
type Receipt struct {
	Update   LocationUpdate
	Stale    bool
	Cached   bool
	Delivery Delivery
}

// Delivery summarises one fan-out.
type Delivery struct {
	Delivered int
	Failed    []ConnectionID
}
