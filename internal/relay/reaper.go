package relay

import (
	"context"

	"github.com/campustrack/busrelay/internal/logging"
)

// Reaper removes dead connections. Transport closes arrive through
// OnDisconnect; connections whose push failed are queued with Reap and
// evicted by Run.
type Reaper struct {
	registry *Registry
	queue    chan ConnectionID
	log      logging.Logger
}

func newReaper(registry *Registry, queueSize int, log logging.Logger) *Reaper {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Reaper{
		registry: registry,
		queue:    make(chan ConnectionID, queueSize),
		log:      log,
	}
}

// OnDisconnect unregisters id. Repeated and concurrent calls are safe.
func (r *Reaper) OnDisconnect(id ConnectionID) {
	if r.registry.Unregister(id) {
		r.log.Debug(context.Background(), "connection unregistered", logging.String("connection_id", string(id)))
	}
}

// Reap queues connections for eviction. When the queue is full the id is
// dropped; the transport's own close will unregister it.
func (r *Reaper) Reap(ids ...ConnectionID) {
	for _, id := range ids {
		select {
		case r.queue <- id:
		default:
			r.log.Warn(context.Background(), "reap queue full; relying on transport close",
				logging.String("connection_id", string(id)))
		}
	}
}

// Run evicts queued connections until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.evict(id)
		}
	}
}

// Flush evicts everything currently queued and returns the number of ids
// processed.
func (r *Reaper) Flush() int {
	n := 0
	for {
		select {
		case id := <-r.queue:
			r.evict(id)
			n++
		default:
			return n
		}
	}
}

func (r *Reaper) evict(id ConnectionID) {
	c, ok := r.registry.Get(id)
	if !ok {
		return
	}
	r.OnDisconnect(id)
	if err := c.sink.Close(); err != nil {
		r.log.Debug(context.Background(), "closing reaped connection",
			logging.String("connection_id", string(id)), logging.Err(err))
	}
}
