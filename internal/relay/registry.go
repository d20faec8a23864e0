package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is a registered viewer: its transport handle and the routes it
// follows. The route set is guarded by mu; closed is set once the connection
// has been unregistered so late subscribes become no-ops.
type Connection struct {
	ID          ConnectionID
	ConnectedAt time.Time

	sink   Sink
	mu     sync.Mutex
	routes map[string]struct{}
	closed bool
}

// Routes returns a copy of the connection's subscribed route ids.
func (c *Connection) Routes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.routes))
	for r := range c.routes {
		out = append(out, r)
	}
	return out
}

// SubscribedTo reports whether the connection currently follows routeID.
func (c *Connection) SubscribedTo(routeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.routes[routeID]
	return ok
}

// Sink returns the transport handle.
func (c *Connection) Sink() Sink { return c.sink }

// Registry tracks connected viewers. Unregister cascades into the
// subscription index, which is owned by the registry.
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnectionID]*Connection
	index *Index

	onChange func(connections int)
}

// NewRegistry creates an empty registry together with its subscription index.
func NewRegistry() *Registry {
	r := &Registry{conns: make(map[ConnectionID]*Connection)}
	r.index = newIndex(r)
	return r
}

// Index returns the route subscription index backed by this registry.
func (r *Registry) Index() *Index { return r.index }

// Register adds a connection with an empty subscription set.
func (r *Registry) Register(sink Sink) ConnectionID {
	c := &Connection{
		ID:          ConnectionID(uuid.NewString()),
		ConnectedAt: time.Now(),
		sink:        sink,
		routes:      make(map[string]struct{}),
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	r.notify()
	return c.ID
}

// Unregister removes the connection and drops it from every route it was
// subscribed to. Unknown ids are ignored. It reports whether an entry was
// removed by this call.
func (r *Registry) Unregister(id ConnectionID) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	// Index entries are dropped before the registry entry so the index never
	// names a connection the registry has forgotten.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	for routeID := range c.routes {
		r.index.remove(routeID, id)
	}
	c.routes = make(map[string]struct{})
	c.mu.Unlock()

	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
	r.notify()
	return true
}

// Get looks up a registered connection.
func (r *Registry) Get(id ConnectionID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IDs returns the ids of every registered connection.
func (r *Registry) IDs() []ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnectionID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

// OnChange installs a callback invoked with the connection count after every
// register or unregister.
func (r *Registry) OnChange(fn func(connections int)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Registry) notify() {
	r.mu.RLock()
	fn, n := r.onChange, len(r.conns)
	r.mu.RUnlock()
	if fn != nil {
		fn(n)
	}
}
