package relay

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const indexShards = 32

type indexShard struct {
	mu     sync.RWMutex
	routes map[string]map[ConnectionID]struct{}
}

// Index maps route ids to subscriber connection ids. Routes are spread over
// independently locked shards so unrelated routes never contend.
type Index struct {
	registry *Registry
	shards   [indexShards]indexShard
	count    atomic.Int64
}

func newIndex(r *Registry) *Index {
	ix := &Index{registry: r}
	for i := range ix.shards {
		ix.shards[i].routes = make(map[string]map[ConnectionID]struct{})
	}
	return ix
}

func (ix *Index) shard(routeID string) *indexShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(routeID))
	return &ix.shards[h.Sum32()%indexShards]
}

// Subscribe adds routeID to the connection's route set and the connection to
// the route's subscriber set. It returns ErrUnknownConnection when the
// connection is gone; subscribing twice is a no-op.
func (ix *Index) Subscribe(id ConnectionID, routeID string) error {
	c, ok := ix.registry.Get(id)
	if !ok {
		return ErrUnknownConnection
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrUnknownConnection
	}
	if _, dup := c.routes[routeID]; dup {
		return nil
	}
	c.routes[routeID] = struct{}{}
	ix.add(routeID, id)
	return nil
}

// Unsubscribe is the inverse of Subscribe. Unknown connections and routes the
// connection does not follow are ignored.
func (ix *Index) Unsubscribe(id ConnectionID, routeID string) error {
	c, ok := ix.registry.Get(id)
	if !ok {
		return ErrUnknownConnection
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrUnknownConnection
	}
	if _, ok := c.routes[routeID]; !ok {
		return nil
	}
	delete(c.routes, routeID)
	ix.remove(routeID, id)
	return nil
}

// SubscribersOf returns a snapshot of the connections following routeID.
func (ix *Index) SubscribersOf(routeID string) []ConnectionID {
	s := ix.shard(routeID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.routes[routeID]
	out := make([]ConnectionID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Routes returns every route id with at least one subscriber.
func (ix *Index) Routes() []string {
	var out []string
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.RLock()
		for r := range s.routes {
			out = append(out, r)
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the total number of (connection, route) subscriptions.
func (ix *Index) Len() int { return int(ix.count.Load()) }

// add and remove must be called with the owning connection's lock held.
func (ix *Index) add(routeID string, id ConnectionID) {
	s := ix.shard(routeID)
	s.mu.Lock()
	set, ok := s.routes[routeID]
	if !ok {
		set = make(map[ConnectionID]struct{})
		s.routes[routeID] = set
	}
	if _, dup := set[id]; !dup {
		set[id] = struct{}{}
		ix.count.Add(1)
	}
	s.mu.Unlock()
}

func (ix *Index) remove(routeID string, id ConnectionID) {
	s := ix.shard(routeID)
	s.mu.Lock()
	if set, ok := s.routes[routeID]; ok {
		if _, present := set[id]; present {
			delete(set, id)
			ix.count.Add(-1)
		}
		if len(set) == 0 {
			delete(s.routes, routeID)
		}
	}
	s.mu.Unlock()
}
