package relay

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campustrack/busrelay/internal/logging"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const ingestStripes = 64

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks a report's identifiers and ranges. It returns an
// *InvalidReportError wrapping ErrInvalidReport for the first bad field.
func Validate(r LocationReport) error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		return &InvalidReportError{Field: fe.Field(), Reason: "failed " + reason}
	}
	return fmt.Errorf("%w: %v", ErrInvalidReport, err)
}

// Ingestor validates reports, maintains the last known position cache, and
// hands accepted reports to the dispatcher. Reports for the same bus are
// sequenced so subscribers see them in ingest order.
type Ingestor struct {
	cache      *Cache
	dispatcher *Dispatcher
	metadata   Metadata
	history    HistorySink
	metrics    MetricsRecorder
	tracer     trace.Tracer
	log        logging.Logger
	skew       time.Duration
	now        func() time.Time

	seq        [ingestStripes]sync.Mutex
	lastIngest atomic.Int64
}

func (in *Ingestor) stripe(busID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(busID))
	return &in.seq[h.Sum32()%ingestStripes]
}

// Ingest accepts one report. Invalid reports leave the cache and subscribers
// untouched. A report older than the cached one for its bus is still
// forwarded but never replaces the cached position; it is flagged stale when
// it lags by more than the skew tolerance.
func (in *Ingestor) Ingest(ctx context.Context, r LocationReport) (Receipt, error) {
	ctx, span := in.tracer.Start(ctx, "relay.Ingest", trace.WithAttributes(
		attribute.String("bus.id", r.BusID),
		attribute.String("route.id", r.RouteID),
	))
	defer span.End()

	if err := Validate(r); err != nil {
		in.metrics.ReportIngested(ResultInvalid)
		span.SetStatus(codes.Error, err.Error())
		in.log.Debug(ctx, "rejected location report",
			logging.String("bus_id", r.BusID),
			logging.String("route_id", r.RouteID),
			logging.Err(err),
		)
		return Receipt{}, err
	}

	now := in.now()
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	in.lastIngest.Store(now.UnixMilli())

	busNumber, routeName, busStatus := in.metadata.Resolve(r.BusID, r.RouteID)
	update := LocationUpdate{
		BusID:     r.BusID,
		RouteID:   r.RouteID,
		BusNumber: busNumber,
		RouteName: routeName,
		BusStatus: busStatus,
		Location:  Location{Latitude: r.Latitude, Longitude: r.Longitude},
		Speed:     r.Speed,
		Heading:   r.Heading,
		Timestamp: r.Timestamp,
	}

	mu := in.stripe(r.BusID)
	mu.Lock()
	prev, hadPrev, stored := in.cache.apply(update)
	if !stored && hadPrev && update.Timestamp.Before(prev.Timestamp.Add(-in.skew)) {
		update.Stale = true
	}
	delivery := in.dispatcher.Publish(ctx, update)
	mu.Unlock()

	result := ResultAccepted
	switch {
	case update.Stale:
		result = ResultStale
	case !stored:
		result = ResultLate
	}
	in.metrics.ReportIngested(result)
	span.SetAttributes(
		attribute.Bool("report.stale", update.Stale),
		attribute.Int("delivery.delivered", delivery.Delivered),
		attribute.Int("delivery.failed", len(delivery.Failed)),
	)

	if in.history != nil {
		in.history.Record(ctx, update)
	}

	return Receipt{Update: update, Stale: update.Stale, Cached: stored, Delivery: delivery}, nil
}

// Expire drops buses whose last report predates cutoff and tells their
// route's subscribers the bus went offline. It returns how many buses were
// dropped.
func (in *Ingestor) Expire(ctx context.Context, cutoff time.Time) int {
	n := 0
	for _, busID := range in.cache.olderThan(cutoff) {
		mu := in.stripe(busID)
		mu.Lock()
		u, ok := in.cache.removeIfOlder(busID, cutoff)
		if ok {
			u.Offline = true
			u.Stale = false
			in.dispatcher.Publish(ctx, u)
			n++
		}
		mu.Unlock()
		if ok {
			in.log.Debug(ctx, "bus went offline",
				logging.String("bus_id", busID),
				logging.String("route_id", u.RouteID),
			)
		}
	}
	return n
}

// LastIngest returns the wall-clock time of the most recent accepted report.
func (in *Ingestor) LastIngest() time.Time {
	ms := in.lastIngest.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
