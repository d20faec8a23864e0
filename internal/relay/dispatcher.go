package relay

import (
	"context"
	"time"

	"github.com/campustrack/busrelay/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher fans an update out to the subscribers of its route.
type Dispatcher struct {
	registry *Registry
	reaper   *Reaper
	metrics  MetricsRecorder
	tracer   trace.Tracer
	log      logging.Logger
}

// Publish pushes update to every current subscriber of update.RouteID. The
// subscriber set is snapshotted first and no index lock is held while
// sinks are called. A failed push never stops delivery to the others; failed
// connections are handed to the reaper once the loop is done.
func (d *Dispatcher) Publish(ctx context.Context, update LocationUpdate) Delivery {
	_, span := d.tracer.Start(ctx, "relay.Publish", trace.WithAttributes(
		attribute.String("route.id", update.RouteID),
	))
	defer span.End()

	start := time.Now()
	ids := d.registry.Index().SubscribersOf(update.RouteID)

	var delivery Delivery
	for _, id := range ids {
		c, ok := d.registry.Get(id)
		if !ok {
			// Disconnected after the snapshot was taken.
			delivery.Failed = append(delivery.Failed, id)
			continue
		}
		if err := c.sink.Send(update); err != nil {
			d.log.Debug(ctx, "push failed",
				logging.String("connection_id", string(id)),
				logging.String("route_id", update.RouteID),
				logging.Err(err),
			)
			delivery.Failed = append(delivery.Failed, id)
			continue
		}
		delivery.Delivered++
	}

	if len(delivery.Failed) > 0 {
		d.reaper.Reap(delivery.Failed...)
	}
	d.metrics.FanoutCompleted(delivery.Delivered, len(delivery.Failed), time.Since(start))
	span.SetAttributes(attribute.Int("subscribers", len(ids)))
	return delivery
}
