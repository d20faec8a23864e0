package relay

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errSinkClosed = errors.New("sink closed")

// recordingSink captures every update it is sent.
type recordingSink struct {
	mu      sync.Mutex
	updates []LocationUpdate
	fail    bool
	closed  int
}

func (s *recordingSink) Send(u LocationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || s.closed > 0 {
		return errSinkClosed
	}
	s.updates = append(s.updates, u)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *recordingSink) received() []LocationUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LocationUpdate, len(s.updates))
	copy(out, s.updates)
	return out
}

func (s *recordingSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type staticMetadata map[string][3]string

func (m staticMetadata) Resolve(busID, routeID string) (string, string, string) {
	v := m[busID]
	return v[0], v[1], v[2]
}

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func report(bus, route string, lat, lon float64, ts int64) LocationReport {
	return LocationReport{BusID: bus, RouteID: route, Latitude: lat, Longitude: lon, Timestamp: at(ts)}
}

func floatPtr(v float64) *float64 { return &v }

// assertIndexConsistent checks both directions of the subscription invariant
// and that every indexed connection is still registered.
func assertIndexConsistent(t *testing.T, reg *Registry) {
	t.Helper()
	ix := reg.Index()
	for _, route := range ix.Routes() {
		for _, id := range ix.SubscribersOf(route) {
			c, ok := reg.Get(id)
			if !ok {
				t.Fatalf("route %q lists unregistered connection %s", route, id)
			}
			if !c.SubscribedTo(route) {
				t.Fatalf("route %q lists %s but the connection does not follow it", route, id)
			}
		}
	}
	for _, id := range reg.IDs() {
		c, ok := reg.Get(id)
		if !ok {
			continue
		}
		for _, route := range c.Routes() {
			if !containsID(ix.SubscribersOf(route), id) {
				t.Fatalf("connection %s follows %q but is missing from the index", id, route)
			}
		}
	}
}

func containsID(ids []ConnectionID, id ConnectionID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
