package relay

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
)

// TestConcurrentIngestAndSubscriptionChurn runs distinct-bus ingests on one
// route alongside subscribe/unsubscribe/disconnect churn and checks that the
// index never references connections the registry has dropped.
func TestConcurrentIngestAndSubscriptionChurn(t *testing.T) {
	hub := New(WithReapQueueSize(4096))

	const (
		ingesters = 16
		reports   = 100
		churners  = 8
		churnOps  = 200
	)

	var wg sync.WaitGroup
	for i := 0; i < ingesters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bus := fmt.Sprintf("B%d", i)
			for n := 0; n < reports; n++ {
				if _, err := hub.Ingest(context.Background(), report(bus, "R1", 20.3, 85.8, int64(n+1))); err != nil {
					t.Errorf("Ingest %s #%d: %v", bus, n, err)
					return
				}
			}
		}(i)
	}

	for i := 0; i < churners; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var mine []ConnectionID
			for n := 0; n < churnOps; n++ {
				switch op := rng.Intn(10); {
				case op < 3 || len(mine) == 0:
					mine = append(mine, hub.Connect(&recordingSink{fail: rng.Intn(8) == 0}))
				case op < 6:
					_, _ = hub.Subscribe(mine[rng.Intn(len(mine))], "R1")
				case op < 8:
					_ = hub.Unsubscribe(mine[rng.Intn(len(mine))], "R1")
				default:
					hub.Disconnect(mine[rng.Intn(len(mine))])
				}
			}
		}(int64(i))
	}
	wg.Wait()
	hub.Reaper().Flush()

	assertIndexConsistent(t, hub.Registry())
	if hub.Cache().Len() != ingesters {
		t.Fatalf("cache holds %d buses, want %d", hub.Cache().Len(), ingesters)
	}
	for i := 0; i < ingesters; i++ {
		u, ok := hub.Cache().Get(fmt.Sprintf("B%d", i))
		if !ok || !u.Timestamp.Equal(at(reports)) {
			t.Fatalf("bus B%d cached at %v, want %v", i, u.Timestamp, at(reports))
		}
	}
}

// TestPerBusOrderingUnderConcurrentIngest checks that a subscriber sees each
// bus's reports in the order they were accepted even when several buses are
// ingested at once.
func TestPerBusOrderingUnderConcurrentIngest(t *testing.T) {
	hub := New()
	sink := &recordingSink{}
	id := hub.Connect(sink)
	_, _ = hub.Subscribe(id, "R1")

	const buses, reports = 8, 50
	var wg sync.WaitGroup
	for b := 0; b < buses; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			for n := 1; n <= reports; n++ {
				_, _ = hub.Ingest(context.Background(), report(fmt.Sprintf("B%d", b), "R1", 1, 1, int64(n)))
			}
		}(b)
	}
	wg.Wait()

	last := map[string]int64{}
	got := sink.received()
	if len(got) != buses*reports {
		t.Fatalf("received %d updates, want %d", len(got), buses*reports)
	}
	for _, u := range got {
		ts := u.Timestamp.Unix()
		if ts <= last[u.BusID] {
			t.Fatalf("bus %s delivered ts %d after %d", u.BusID, ts, last[u.BusID])
		}
		last[u.BusID] = ts
	}
}
