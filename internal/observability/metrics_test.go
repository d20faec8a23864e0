package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordsRelayCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewRelayCollector(reg)
	if err != nil {
		t.Fatalf("NewRelayCollector: %v", err)
	}

	c.ReportIngested("accepted")
	c.ReportIngested("accepted")
	c.ReportIngested("invalid")
	c.FanoutCompleted(3, 1, 2*time.Millisecond)
	c.SetConnections(4)
	c.SetSubscriptions(7)

	if got := testutil.ToFloat64(c.Reports.WithLabelValues("accepted")); got != 2 {
		t.Fatalf("accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Reports.WithLabelValues("invalid")); got != 1 {
		t.Fatalf("invalid = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Deliveries.WithLabelValues("delivered")); got != 3 {
		t.Fatalf("delivered = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.Deliveries.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Connections); got != 4 {
		t.Fatalf("connections = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.Subscriptions); got != 7 {
		t.Fatalf("subscriptions = %v, want 7", got)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRelayCollector(reg)
	if err != nil {
		t.Fatalf("first NewRelayCollector: %v", err)
	}
	second, err := NewRelayCollector(reg)
	if err != nil {
		t.Fatalf("second NewRelayCollector: %v", err)
	}
	first.ReportIngested("stale")
	if got := testutil.ToFloat64(second.Reports.WithLabelValues("stale")); got != 1 {
		t.Fatalf("second collector sees %v stale reports, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewRelayCollector(reg)
	if err != nil {
		t.Fatalf("NewRelayCollector: %v", err)
	}
	c.ObserveHTTP("/api/locations", http.StatusAccepted)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{"relay_connections", `http_requests_total{code="202",route="/api/locations"} 1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *RelayCollector
	c.ReportIngested("accepted")
	c.FanoutCompleted(1, 0, time.Millisecond)
	c.SetConnections(1)
	c.SetSubscriptions(1)
	c.ObserveHTTP("/", 200)
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "carrier-pigeon", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}
