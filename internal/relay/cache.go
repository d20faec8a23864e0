package relay

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const cacheShards = 32

type cacheShard struct {
	mu    sync.RWMutex
	buses map[string]LocationUpdate
}

// Cache holds the last known position of every bus, keyed by bus id.
type Cache struct {
	shards [cacheShards]cacheShard
}

// NewCache returns an empty last-known-position cache.
func NewCache() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i].buses = make(map[string]LocationUpdate)
	}
	return c
}

func (c *Cache) shard(busID string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(busID))
	return &c.shards[h.Sum32()%cacheShards]
}

// apply stores u unless the cache already holds a newer report for the bus.
// It returns the previously cached entry, if any, and whether u was stored.
func (c *Cache) apply(u LocationUpdate) (prev LocationUpdate, hadPrev, stored bool) {
	s := c.shard(u.BusID)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, hadPrev = s.buses[u.BusID]
	if hadPrev && u.Timestamp.Before(prev.Timestamp) {
		return prev, true, false
	}
	s.buses[u.BusID] = u
	return prev, hadPrev, true
}

// olderThan lists the buses whose cached report predates cutoff.
func (c *Cache) olderThan(cutoff time.Time) []string {
	var ids []string
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for id, u := range s.buses {
			if u.Timestamp.Before(cutoff) {
				ids = append(ids, id)
			}
		}
		s.mu.RUnlock()
	}
	return ids
}

// removeIfOlder drops busID when its cached report still predates cutoff.
func (c *Cache) removeIfOlder(busID string, cutoff time.Time) (LocationUpdate, bool) {
	s := c.shard(busID)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.buses[busID]
	if !ok || !u.Timestamp.Before(cutoff) {
		return LocationUpdate{}, false
	}
	delete(s.buses, busID)
	return u, true
}

// Get returns the last known position of busID.
func (c *Cache) Get(busID string) (LocationUpdate, bool) {
	s := c.shard(busID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.buses[busID]
	return u, ok
}

// Snapshot returns the cached positions of buses last seen on routeID, or of
// every bus when routeID is empty, ordered by bus id.
func (c *Cache) Snapshot(routeID string) []LocationUpdate {
	var out []LocationUpdate
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for _, u := range s.buses {
			if routeID == "" || u.RouteID == routeID {
				out = append(out, u)
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusID < out[j].BusID })
	return out
}

// Len returns the number of buses with a cached position.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.buses)
		s.mu.RUnlock()
	}
	return n
}
