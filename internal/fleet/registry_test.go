package fleet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []ingest.Event
}

func (c *capturePublisher) PublishEvent(e ingest.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturePublisher) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}

func newRegistryFixture() (*Registry, *storage.MemoryStore, *capturePublisher) {
	store := storage.NewMemoryStore()
	pub := &capturePublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(store, log, pub, 100), store, pub
}

func TestRegisterCreatesAvailableTaxi(t *testing.T) {
	reg, _, pub := newRegistryFixture()
	taxi, err := reg.Register(context.Background(), 10, 10, "http://taxi.local/assign")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if taxi.Status != models.TaxiAvailable {
		t.Fatalf("expected available, got %s", taxi.Status)
	}
	if taxi.PublicID == "" || taxi.ID == 0 {
		t.Fatalf("identifiers not assigned: %+v", taxi)
	}
	if kinds := pub.kinds(); len(kinds) != 1 || kinds[0] != ingest.EventTaxiRegistered {
		t.Fatalf("expected registered event, got %v", kinds)
	}
}

func TestRegisterRejectsOutOfRange(t *testing.T) {
	reg, _, _ := newRegistryFixture()
	for _, c := range [][2]int{{0, 10}, {10, 0}, {101, 10}, {10, 101}} {
		if _, err := reg.Register(context.Background(), c[0], c[1], "http://t"); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("coords %v: expected ErrOutOfRange, got %v", c, err)
		}
	}
}

func TestDeregisterSoftRemoves(t *testing.T) {
	reg, store, _ := newRegistryFixture()
	ctx := context.Background()
	taxi, _ := reg.Register(ctx, 5, 5, "http://t")

	ok, err := reg.Deregister(ctx, taxi.PublicID)
	if err != nil || !ok {
		t.Fatalf("deregister: ok=%v err=%v", ok, err)
	}
	// row survives as offline
	got, err := store.GetTaxiByPublicID(ctx, taxi.PublicID)
	if err != nil {
		t.Fatalf("deregistered taxi must stay addressable: %v", err)
	}
	if got.Status != models.TaxiOffline {
		t.Fatalf("expected offline, got %s", got.Status)
	}

	ok, err = reg.Deregister(ctx, "unknown")
	if err != nil || ok {
		t.Fatalf("unknown deregister should report false, got ok=%v err=%v", ok, err)
	}
}

func TestSweepStaleOnlyTouchesSilentTaxis(t *testing.T) {
	reg, store, _ := newRegistryFixture()
	ctx := context.Background()

	silent, _ := reg.Register(ctx, 1, 1, "http://t1")
	fresh, _ := reg.Register(ctx, 2, 2, "http://t2")
	if err := reg.Heartbeat(ctx, models.Heartbeat{TaxiPublicID: fresh.PublicID, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	n, err := reg.SweepStale(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	got, _ := store.GetTaxiByPublicID(ctx, silent.PublicID)
	if got.Status != models.TaxiOffline {
		t.Fatalf("silent taxi should be offline, got %s", got.Status)
	}
	got, _ = store.GetTaxiByPublicID(ctx, fresh.PublicID)
	if got.Status != models.TaxiAvailable {
		t.Fatalf("fresh taxi must survive sweep, got %s", got.Status)
	}
}

func TestReserveNearestAndStatusSetters(t *testing.T) {
	reg, store, _ := newRegistryFixture()
	ctx := context.Background()
	far, _ := reg.Register(ctx, 80, 80, "http://far")
	near, _ := reg.Register(ctx, 12, 12, "http://near")

	got, err := reg.ReserveNearest(ctx, 10, 10)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got.ID != near.ID || got.Status != models.TaxiBusy {
		t.Fatalf("expected nearest taxi busy, got %+v", got)
	}

	if err := reg.MarkAvailable(ctx, near.ID); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkBusy(ctx, far.ID); err != nil {
		t.Fatal(err)
	}
	gotNear, _ := store.GetTaxiByPublicID(ctx, near.PublicID)
	gotFar, _ := store.GetTaxiByPublicID(ctx, far.PublicID)
	if gotNear.Status != models.TaxiAvailable || gotFar.Status != models.TaxiBusy {
		t.Fatalf("setters did not apply: near=%s far=%s", gotNear.Status, gotFar.Status)
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	reg, store, _ := newRegistryFixture()
	ctx, cancel := context.WithCancel(context.Background())
	taxi, _ := reg.Register(ctx, 1, 1, "http://t")

	sweeper := NewSweeper(reg, 10*time.Millisecond, time.Millisecond)
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		got, _ := store.GetTaxiByPublicID(context.Background(), taxi.PublicID)
		if got.Status == models.TaxiOffline {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never demoted the silent taxi")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
