package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/campustrack/busrelay/internal/logging"
	"github.com/campustrack/busrelay/internal/relay"
)

// Ingester accepts location reports; *relay.Hub satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, r relay.LocationReport) (relay.Receipt, error)
}

// Poller periodically fetches a feed and ingests the vehicles whose position
// changed since the previous fetch.
type Poller struct {
	feed           VehicleFeedSource
	ingester       Ingester
	minRefresh     time.Duration
	timeout        time.Duration
	defaultRouteID string
	log            logging.Logger

	mu                sync.Mutex
	lastVehicles      map[string]Vehicle
	mostRecentFetchMs int64
}

// PollerConfig tunes a Poller.
type PollerConfig struct {
	MinRefresh time.Duration
	Timeout    time.Duration
	// DefaultRouteID is used for vehicles the feed does not assign a route.
	DefaultRouteID string
}

// NewPoller returns a Poller feeding ingester from feed.
func NewPoller(feed VehicleFeedSource, ingester Ingester, cfg PollerConfig, log logging.Logger) *Poller {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.MinRefresh <= 0 {
		cfg.MinRefresh = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Poller{
		feed:           feed,
		ingester:       ingester,
		minRefresh:     cfg.MinRefresh,
		timeout:        cfg.Timeout,
		defaultRouteID: cfg.DefaultRouteID,
		log:            log,
		lastVehicles:   make(map[string]Vehicle),
	}
}

// Run polls until ctx is cancelled. Slow feeds stretch the interval to half
// the last fetch time.
func (p *Poller) Run(ctx context.Context) {
	interval := p.minRefresh
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			start := time.Now()
			p.Tick(ctx)
			elapsed := time.Since(start)
			if p.lastFetch() != 0 {
				interval = max(elapsed/2, p.minRefresh)
			}
			t.Reset(interval)
		}
	}
}

// Tick performs one fetch and ingests the changed vehicles. It returns how
// many reports were accepted.
func (p *Poller) Tick(ctx context.Context) int {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	vehicles, err := p.feed.Fetch(cctx)
	if err != nil {
		p.log.Warn(ctx, "poll error", logging.Err(err))
		return 0
	}
	p.log.Debug(ctx, "fetched vehicles", logging.Int("count", len(vehicles)))

	changed := p.detectChanges(vehicles)
	accepted := 0
	for _, v := range changed {
		report := p.report(v)
		if report.RouteID == "" {
			p.log.Debug(ctx, "vehicle without route skipped", logging.String("bus_id", v.ID))
			continue
		}
		if _, err := p.ingester.Ingest(ctx, report); err != nil {
			if errors.Is(err, relay.ErrInvalidReport) {
				p.log.Debug(ctx, "feed vehicle rejected", logging.String("bus_id", v.ID), logging.Err(err))
			} else {
				p.log.Warn(ctx, "feed ingest failed", logging.String("bus_id", v.ID), logging.Err(err))
			}
			continue
		}
		accepted++
	}
	if len(changed) > 0 {
		p.log.Info(ctx, "vehicles updated",
			logging.Int("changed", len(changed)),
			logging.Int("accepted", accepted),
		)
	}
	return accepted
}

func (p *Poller) report(v Vehicle) relay.LocationReport {
	route := v.RouteID
	if route == "" {
		route = p.defaultRouteID
	}
	return relay.LocationReport{
		BusID:     v.ID,
		RouteID:   route,
		Latitude:  v.Lat,
		Longitude: v.Lon,
		Speed:     v.Speed,
		Heading:   v.Bearing,
		Timestamp: v.Timestamp,
	}
}

// detectChanges returns the vehicles that are new or moved, in feed order,
// and replaces the remembered snapshot with in.
func (p *Poller) detectChanges(in []Vehicle) []Vehicle {
	p.mu.Lock()
	defer p.mu.Unlock()
	var changed []Vehicle
	current := make(map[string]Vehicle, len(in))
	for _, v := range in {
		prev, ok := p.lastVehicles[v.ID]
		if !ok || prev.Lat != v.Lat || prev.Lon != v.Lon || prev.RouteID != v.RouteID {
			changed = append(changed, v)
		}
		current[v.ID] = v
	}
	p.lastVehicles = current
	p.mostRecentFetchMs = time.Now().UnixMilli()
	return changed
}

func (p *Poller) lastFetch() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mostRecentFetchMs
}
