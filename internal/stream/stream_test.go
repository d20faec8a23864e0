package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/campustrack/busrelay/internal/relay"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestConsumerIngestsAndCommits(t *testing.T) {
	hub := relay.New()
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"busId":"B1","routeId":"R1","latitude":20.1,"longitude":85.1}`)},
		{Offset: 2, Value: []byte(`{"busId":"B2","routeId":"R1","latitude":95,"longitude":85.1}`)},
		{Offset: 3, Value: []byte(`garbage`)},
		{Offset: 4, Value: []byte(`{"busId":"B3","routeId":"R2","location":{"latitude":1,"longitude":2}}`)},
	}}
	c := newConsumer(reader, hub, "bus-locations", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for reader.commits() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d messages committed", reader.commits())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reader.closed {
		t.Fatalf("reader not closed")
	}
	if hub.Cache().Len() != 2 {
		t.Fatalf("cache len = %d, want 2 valid reports", hub.Cache().Len())
	}
	if _, ok := hub.Cache().Get("B2"); ok {
		t.Fatalf("invalid report reached the cache")
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broker down")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestHistoryWriterFlushesOnShutdown(t *testing.T) {
	fw := &fakeWriter{}
	h := newHistoryWriter(fw, 16, nil)
	ctx := context.Background()
	h.Record(ctx, relay.LocationUpdate{BusID: "B1", RouteID: "R1", Location: relay.Location{Latitude: 1, Longitude: 2}, Timestamp: time.Unix(100, 0)})
	h.Record(ctx, relay.LocationUpdate{BusID: "B1", RouteID: "R1", Location: relay.Location{Latitude: 1, Longitude: 3}, Timestamp: time.Unix(90, 0), Stale: true})

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	h.Run(runCtx)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if !fw.closed {
		t.Fatalf("writer not closed")
	}
	if len(fw.msgs) != 2 {
		t.Fatalf("wrote %d messages, want 2", len(fw.msgs))
	}
	var rec HistoryRecord
	if err := json.Unmarshal(fw.msgs[1].Value, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(fw.msgs[1].Key) != "B1" || !rec.Stale || rec.Longitude != 3 {
		t.Fatalf("second record = key %q %+v", fw.msgs[1].Key, rec)
	}
}

func TestHistoryWriterDropsWhenFull(t *testing.T) {
	h := newHistoryWriter(&fakeWriter{}, 1, nil)
	ctx := context.Background()
	h.Record(ctx, relay.LocationUpdate{BusID: "B1"})
	h.Record(ctx, relay.LocationUpdate{BusID: "B2"})
	if h.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", h.Dropped())
	}
}

func TestHistoryWriterReceivesHubUpdates(t *testing.T) {
	fw := &fakeWriter{}
	h := newHistoryWriter(fw, 16, nil)
	hub := relay.New(relay.WithHistory(h))
	ctx := context.Background()
	if _, err := hub.Ingest(ctx, relay.LocationReport{BusID: "B1", RouteID: "R1", Latitude: 1, Longitude: 1, Timestamp: time.Unix(200, 0)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := hub.Ingest(ctx, relay.LocationReport{BusID: "B1", RouteID: "R1", Latitude: 1, Longitude: 1, Timestamp: time.Unix(100, 0)}); err != nil {
		t.Fatalf("stale ingest: %v", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	h.Run(runCtx)
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if len(fw.msgs) != 2 {
		t.Fatalf("history has %d records, want 2 including the stale one", len(fw.msgs))
	}
}
