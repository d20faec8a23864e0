// Package relay is the route-scoped live location relay: a registry of viewer
// connections, a route subscription index, a last known position cache, and
// the ingest, fan-out and reaping logic that ties them together.
package relay

import (
	"context"
	"time"

	"github.com/campustrack/busrelay/internal/logging"
	"go.opentelemetry.io/otel"
)

// Ingest outcomes reported to MetricsRecorder.
const (
	ResultAccepted = "accepted"
	ResultLate     = "late"
	ResultStale    = "stale"
	ResultInvalid  = "invalid"
)

// MetricsRecorder receives relay counters. Implementations must be safe for
// concurrent use.
type MetricsRecorder interface {
	ReportIngested(result string)
	FanoutCompleted(delivered, failed int, elapsed time.Duration)
	SetConnections(n int)
	SetSubscriptions(n int)
}

// HistorySink receives every accepted update, stale ones included. Record
// must not block.
type HistorySink interface {
	Record(ctx context.Context, update LocationUpdate)
}

type noopMetrics struct{}

func (noopMetrics) ReportIngested(string)                   {}
func (noopMetrics) FanoutCompleted(int, int, time.Duration) {}
func (noopMetrics) SetConnections(int)                      {}
func (noopMetrics) SetSubscriptions(int)                    {}

type noMetadata struct{}

func (noMetadata) Resolve(string, string) (string, string, string) { return "", "", "" }

// Option configures a Hub.
type Option func(*options)

type options struct {
	log           logging.Logger
	metrics       MetricsRecorder
	metadata      Metadata
	history       HistorySink
	skew          time.Duration
	reapQueueSize int
	offlineAfter  time.Duration
	now           func() time.Time
}

// WithLogger sets the logger used by every relay component.
func WithLogger(l logging.Logger) Option { return func(o *options) { o.log = l } }

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) Option { return func(o *options) { o.metrics = m } }

// WithMetadata installs the bus/route name resolver.
func WithMetadata(m Metadata) Option { return func(o *options) { o.metadata = m } }

// WithHistory installs a sink that receives every accepted update.
func WithHistory(h HistorySink) Option { return func(o *options) { o.history = h } }

// WithSkewTolerance sets how far behind the cached report a late report may
// lag before it is flagged stale.
func WithSkewTolerance(d time.Duration) Option { return func(o *options) { o.skew = d } }

// WithReapQueueSize bounds the queue of connections awaiting eviction.
func WithReapQueueSize(n int) Option { return func(o *options) { o.reapQueueSize = n } }

// WithOfflineAfter makes Run drop buses that have not reported for d and
// announce them offline to their route. Zero disables the sweep.
func WithOfflineAfter(d time.Duration) Option { return func(o *options) { o.offlineAfter = d } }

// WithClock overrides the clock used to timestamp reports.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Hub wires the registry, index, cache, ingestor, dispatcher and reaper.
type Hub struct {
	registry   *Registry
	cache      *Cache
	ingestor   *Ingestor
	dispatcher *Dispatcher
	reaper     *Reaper
	metrics    MetricsRecorder
	log        logging.Logger

	offlineAfter time.Duration
	now          func() time.Time
}

// New builds a Hub. Call Run to start background eviction.
func New(opts ...Option) *Hub {
	o := options{
		log:      logging.Noop(),
		metrics:  noopMetrics{},
		metadata: noMetadata{},
		skew:     5 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Noop()
	}
	if o.metrics == nil {
		o.metrics = noopMetrics{}
	}
	if o.metadata == nil {
		o.metadata = noMetadata{}
	}

	tracer := otel.Tracer("github.com/campustrack/busrelay/internal/relay")
	registry := NewRegistry()
	registry.OnChange(func(n int) {
		o.metrics.SetConnections(n)
		o.metrics.SetSubscriptions(registry.Index().Len())
	})
	cache := NewCache()
	reaper := newReaper(registry, o.reapQueueSize, o.log)
	dispatcher := &Dispatcher{
		registry: registry,
		reaper:   reaper,
		metrics:  o.metrics,
		tracer:   tracer,
		log:      o.log,
	}
	ingestor := &Ingestor{
		cache:      cache,
		dispatcher: dispatcher,
		metadata:   o.metadata,
		history:    o.history,
		metrics:    o.metrics,
		tracer:     tracer,
		log:        o.log,
		skew:       o.skew,
		now:        o.now,
	}
	return &Hub{
		registry:   registry,
		cache:      cache,
		ingestor:   ingestor,
		dispatcher: dispatcher,
		reaper:     reaper,
		metrics:    o.metrics,
		log:        o.log,

		offlineAfter: o.offlineAfter,
		now:          o.now,
	}
}

// Run evicts connections whose pushes failed until ctx is cancelled. With
// WithOfflineAfter set it also sweeps buses that stopped reporting.
func (h *Hub) Run(ctx context.Context) {
	if h.offlineAfter <= 0 {
		h.reaper.Run(ctx)
		return
	}
	go h.reaper.Run(ctx)

	interval := h.offlineAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.ExpireOffline(ctx)
		}
	}
}

// ExpireOffline drops every bus whose last report is older than the offline
// window and returns how many were dropped.
func (h *Hub) ExpireOffline(ctx context.Context) int {
	if h.offlineAfter <= 0 {
		return 0
	}
	return h.ingestor.Expire(ctx, h.now().Add(-h.offlineAfter))
}

// Registry returns the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Index returns the route subscription index.
func (h *Hub) Index() *Index { return h.registry.Index() }

// Cache returns the last known position cache.
func (h *Hub) Cache() *Cache { return h.cache }

// Dispatcher returns the fan-out dispatcher.
func (h *Hub) Dispatcher() *Dispatcher { return h.dispatcher }

// Reaper returns the eviction queue.
func (h *Hub) Reaper() *Reaper { return h.reaper }

// Connect registers a new viewer transport.
func (h *Hub) Connect(sink Sink) ConnectionID {
	return h.registry.Register(sink)
}

// Disconnect unregisters a viewer; safe to call repeatedly.
func (h *Hub) Disconnect(id ConnectionID) {
	h.reaper.OnDisconnect(id)
}

// Subscribe adds routeID to the connection's subscriptions and returns the
// cached positions on that route for an initial snapshot.
func (h *Hub) Subscribe(id ConnectionID, routeID string) ([]LocationUpdate, error) {
	if err := h.registry.Index().Subscribe(id, routeID); err != nil {
		return nil, err
	}
	h.metrics.SetSubscriptions(h.registry.Index().Len())
	return h.cache.Snapshot(routeID), nil
}

// Unsubscribe removes routeID from the connection's subscriptions.
func (h *Hub) Unsubscribe(id ConnectionID, routeID string) error {
	err := h.registry.Index().Unsubscribe(id, routeID)
	h.metrics.SetSubscriptions(h.registry.Index().Len())
	return err
}

// Ingest validates and relays one report.
func (h *Hub) Ingest(ctx context.Context, r LocationReport) (Receipt, error) {
	return h.ingestor.Ingest(ctx, r)
}

// LastIngest returns when the most recent report was accepted.
func (h *Hub) LastIngest() time.Time { return h.ingestor.LastIngest() }
