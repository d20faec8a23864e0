// Package observability exposes Prometheus metrics and OpenTelemetry tracing
// for the relay.
package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RelayCollector bundles the relay's Prometheus metrics. It satisfies
// relay.MetricsRecorder so the hub can drive it directly.
type RelayCollector struct {
	gatherer prometheus.Gatherer

	Reports         *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
	FanoutDurations prometheus.Histogram
	Connections     prometheus.Gauge
	Subscriptions   prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
}

// NewRelayCollector registers relay metrics on reg, or on the default
// registry when reg is nil.
func NewRelayCollector(reg prometheus.Registerer) (*RelayCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	reports, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_reports_total",
		Help: "Location reports handled by ingest, labeled by result (accepted, late, stale, invalid).",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	deliveries, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_deliveries_total",
		Help: "Per-subscriber pushes, labeled by result (delivered, failed).",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	fanout, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_fanout_duration_seconds",
		Help:    "Time spent pushing one update to every subscriber of its route.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}))
	if err != nil {
		return nil, err
	}
	connections, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections",
		Help: "Currently registered viewer connections.",
	}))
	if err != nil {
		return nil, err
	}
	subscriptions, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_subscriptions",
		Help: "Current (connection, route) subscriptions.",
	}))
	if err != nil {
		return nil, err
	}
	httpRequests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served, labeled by route template and status code.",
	}, []string{"route", "code"}))
	if err != nil {
		return nil, err
	}

	return &RelayCollector{
		gatherer:        gatherer,
		Reports:         reports,
		Deliveries:      deliveries,
		FanoutDurations: fanout,
		Connections:     connections,
		Subscriptions:   subscriptions,
		HTTPRequests:    httpRequests,
	}, nil
}

// ReportIngested counts one ingest outcome.
func (c *RelayCollector) ReportIngested(result string) {
	if c == nil {
		return
	}
	c.Reports.WithLabelValues(result).Inc()
}

// FanoutCompleted records one fan-out and its per-subscriber results.
func (c *RelayCollector) FanoutCompleted(delivered, failed int, elapsed time.Duration) {
	if c == nil {
		return
	}
	if delivered > 0 {
		c.Deliveries.WithLabelValues("delivered").Add(float64(delivered))
	}
	if failed > 0 {
		c.Deliveries.WithLabelValues("failed").Add(float64(failed))
	}
	c.FanoutDurations.Observe(elapsed.Seconds())
}

// SetConnections sets the registered connection gauge.
func (c *RelayCollector) SetConnections(n int) {
	if c == nil {
		return
	}
	c.Connections.Set(float64(n))
}

// SetSubscriptions sets the subscription gauge.
func (c *RelayCollector) SetSubscriptions(n int) {
	if c == nil {
		return
	}
	c.Subscriptions.Set(float64(n))
}

// ObserveHTTP counts one served request.
func (c *RelayCollector) ObserveHTTP(route string, code int) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the /metrics endpoint.
func (c *RelayCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// register adds col to reg, returning the already registered collector of the
// same type when one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %v", err)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
