// Package metadata holds the route and bus catalog used to label relayed
// positions and to answer route queries.
package metadata

import (
	"sort"
	"sync"

	"github.com/campustrack/busrelay/internal/config"
)

// Catalog is a concurrency-safe, replaceable view of routes and buses.
type Catalog struct {
	mu     sync.RWMutex
	routes map[string]config.Route
	buses  map[string]config.Bus
}

// NewCatalog builds a catalog seeded with routes and buses.
func NewCatalog(routes []config.Route, buses []config.Bus) *Catalog {
	c := &Catalog{}
	c.Replace(routes, buses)
	return c
}

// Replace swaps the catalog contents atomically. A nil slice leaves the
// corresponding half untouched.
func (c *Catalog) Replace(routes []config.Route, buses []config.Bus) {
	var rm map[string]config.Route
	if routes != nil {
		rm = make(map[string]config.Route, len(routes))
		for _, r := range routes {
			rm[r.ID] = r
		}
	}
	var bm map[string]config.Bus
	if buses != nil {
		bm = make(map[string]config.Bus, len(buses))
		for _, b := range buses {
			bm[b.ID] = b
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rm != nil || c.routes == nil {
		c.routes = rm
	}
	if bm != nil || c.buses == nil {
		c.buses = bm
	}
}

// Resolve implements relay.Metadata.
func (c *Catalog) Resolve(busID, routeID string) (busNumber, routeName, busStatus string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if b, ok := c.buses[busID]; ok {
		busNumber, busStatus = b.Number, b.Status
	}
	if r, ok := c.routes[routeID]; ok {
		routeName = r.Name
	}
	return busNumber, routeName, busStatus
}

// Routes returns all routes sorted by ID.
func (c *Catalog) Routes() []config.Route {
	c.mu.RLock()
	out := make([]config.Route, 0, len(c.routes))
	for _, r := range c.routes {
		out = append(out, r)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Route looks up a single route.
func (c *Catalog) Route(id string) (config.Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[id]
	return r, ok
}

// Bus looks up a single bus.
func (c *Catalog) Bus(id string) (config.Bus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.buses[id]
	return b, ok
}

// Buses returns all buses sorted by ID.
func (c *Catalog) Buses() []config.Bus {
	c.mu.RLock()
	out := make([]config.Bus, 0, len(c.buses))
	for _, b := range c.buses {
		out = append(out, b)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
