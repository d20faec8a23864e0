package stream

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/campustrack/busrelay/internal/logging"
	"github.com/campustrack/busrelay/internal/relay"
)

const historyBatchSize = 100

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// HistoryRecord is one entry of the GPS log published to the history topic.
type HistoryRecord struct {
	BusID     string    `json:"busId"`
	RouteID   string    `json:"routeId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Stale     bool      `json:"stale,omitempty"`
}

// HistoryWriter implements relay.HistorySink on a Kafka topic keyed by bus
// id, so a bus's log stays ordered within its partition.
type HistoryWriter struct {
	writer  messageWriter
	queue   chan relay.LocationUpdate
	log     logging.Logger
	dropped atomic.Int64
}

// NewHistoryWriter returns a HistoryWriter producing to topic on brokers.
func NewHistoryWriter(brokers []string, topic string, queueSize int, log logging.Logger) *HistoryWriter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newHistoryWriter(w, queueSize, log)
}

func newHistoryWriter(w messageWriter, queueSize int, log logging.Logger) *HistoryWriter {
	if log == nil {
		log = logging.Noop()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &HistoryWriter{
		writer: w,
		queue:  make(chan relay.LocationUpdate, queueSize),
		log:    log,
	}
}

// Record queues u; it drops the update when the queue is full.
func (h *HistoryWriter) Record(ctx context.Context, u relay.LocationUpdate) {
	select {
	case h.queue <- u:
	default:
		if n := h.dropped.Add(1); n == 1 || n%1000 == 0 {
			h.log.Warn(ctx, "history queue full, dropping", logging.Any("dropped_total", n))
		}
	}
}

// Dropped returns how many updates were discarded because the queue was full.
func (h *HistoryWriter) Dropped() int64 { return h.dropped.Load() }

// Run writes queued updates in batches until ctx is cancelled, then flushes
// what is left and closes the writer.
func (h *HistoryWriter) Run(ctx context.Context) {
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for batch := h.drain(nil); len(batch) > 0; batch = h.drain(nil) {
			h.write(flushCtx, batch)
		}
		if err := h.writer.Close(); err != nil {
			h.log.Warn(flushCtx, "history writer close failed", logging.Err(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-h.queue:
			h.write(ctx, h.drain([]relay.LocationUpdate{u}))
		}
	}
}

// drain appends queued updates to batch without blocking.
func (h *HistoryWriter) drain(batch []relay.LocationUpdate) []relay.LocationUpdate {
	for len(batch) < historyBatchSize {
		select {
		case u := <-h.queue:
			batch = append(batch, u)
		default:
			return batch
		}
	}
	return batch
}

func (h *HistoryWriter) write(ctx context.Context, batch []relay.LocationUpdate) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, u := range batch {
		value, err := json.Marshal(historyRecord(u))
		if err != nil {
			h.log.Error(ctx, "encode history record failed", logging.Err(err))
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(u.BusID), Value: value, Time: u.Timestamp})
	}
	if err := h.writer.WriteMessages(ctx, msgs...); err != nil {
		h.log.Warn(ctx, "history write failed", logging.Int("records", len(msgs)), logging.Err(err))
	}
}

func historyRecord(u relay.LocationUpdate) HistoryRecord {
	return HistoryRecord{
		BusID:     u.BusID,
		RouteID:   u.RouteID,
		Latitude:  u.Location.Latitude,
		Longitude: u.Location.Longitude,
		Speed:     u.Speed,
		Heading:   u.Heading,
		Timestamp: u.Timestamp,
		Stale:     u.Stale,
	}
}

var _ relay.HistorySink = (*HistoryWriter)(nil)
