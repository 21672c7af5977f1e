package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/grid"
	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/storage"
)

// ErrOutOfRange marks registration coordinates outside the grid.
var ErrOutOfRange = errors.New("coordinates out of grid range")

// Registry owns taxi records and their status transitions. All mutation
// of the fleet goes through here; the assignment saga and the trip
// ledger only touch taxis via the operations below.
type Registry struct {
	store    storage.TaxiStore
	log      *slog.Logger
	events   ingest.Publisher
	gridSize int
}

func NewRegistry(store storage.TaxiStore, log *slog.Logger, events ingest.Publisher, gridSize int) *Registry {
	return &Registry{store: store, log: log, events: events, gridSize: gridSize}
}

// Register creates an available taxi with a fresh public id.
func (r *Registry) Register(ctx context.Context, x, y int, callbackURL string) (*models.Taxi, error) {
	if !grid.InBounds(x, y, r.gridSize) {
		return nil, fmt.Errorf("%w: (%d,%d) not in 1..%d", ErrOutOfRange, x, y, r.gridSize)
	}
	taxi := &models.Taxi{
		PublicID:    uuid.NewString(),
		Status:      models.TaxiAvailable,
		X:           x,
		Y:           y,
		CallbackURL: callbackURL,
	}
	if err := r.store.CreateTaxi(ctx, taxi); err != nil {
		return nil, fmt.Errorf("create taxi: %w", err)
	}
	observability.TaxisRegistered.Inc()
	r.publish(ingest.Event{Kind: ingest.EventTaxiRegistered, TaxiPublicID: taxi.PublicID, X: x, Y: y})
	r.log.Info("taxi registered", "taxi", taxi.PublicID, "x", x, "y", y)
	return taxi, nil
}

// Heartbeat refreshes liveness. A heartbeat is evidence of life, so it
// also revives an offline taxi. Out-of-order heartbeats are accepted;
// last write wins by wall clock.
func (r *Registry) Heartbeat(ctx context.Context, hb models.Heartbeat) error {
	ts := hb.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := r.store.Heartbeat(ctx, hb.TaxiPublicID, ts); err != nil {
		return err
	}
	r.publish(ingest.Event{Kind: ingest.EventTaxiHeartbeat, TaxiPublicID: hb.TaxiPublicID, At: ts.UTC()})
	return nil
}

// Deregister soft-removes a taxi by forcing it offline. History stays
// addressable; rows are never deleted.
func (r *Registry) Deregister(ctx context.Context, publicID string) (bool, error) {
	ok, err := r.store.MarkOffline(ctx, publicID)
	if err != nil {
		return false, err
	}
	if ok {
		r.publish(ingest.Event{Kind: ingest.EventTaxiDeregistered, TaxiPublicID: publicID})
		r.log.Info("taxi deregistered", "taxi", publicID)
	}
	return ok, nil
}

func (r *Registry) Get(ctx context.Context, publicID string) (*models.Taxi, error) {
	return r.store.GetTaxiByPublicID(ctx, publicID)
}

func (r *Registry) List(ctx context.Context) ([]models.Taxi, error) {
	return r.store.ListTaxis(ctx)
}

func (r *Registry) Count(ctx context.Context, status models.TaxiStatus) (int, error) {
	return r.store.CountTaxis(ctx, status)
}

// ReserveNearest claims the closest available taxi for an origin and
// flips it to busy in one transaction. See storage for the
// skip-on-contention contract.
func (r *Registry) ReserveNearest(ctx context.Context, x, y int) (*models.Taxi, error) {
	return r.store.ReserveNearest(ctx, x, y)
}

func (r *Registry) MarkAvailable(ctx context.Context, id int64) error {
	return r.store.SetTaxiStatus(ctx, id, models.TaxiAvailable)
}

func (r *Registry) MarkBusy(ctx context.Context, id int64) error {
	return r.store.SetTaxiStatus(ctx, id, models.TaxiBusy)
}

// SweepStale demotes every available or busy taxi that has not been
// seen within ttl. This is the only path that can take a busy taxi
// offline; its trip is intentionally orphaned rather than auto-healed.
func (r *Registry) SweepStale(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	n, err := r.store.SweepStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.SweptTaxisTotal.Add(float64(n))
		r.publish(ingest.Event{Kind: ingest.EventTaxiSwept})
		r.log.Info("stale taxis swept", "count", n, "ttl", ttl.String())
	}
	return n, nil
}

func (r *Registry) publish(e ingest.Event) {
	if r.events == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := r.events.PublishEvent(e); err != nil {
		r.log.Warn("fleet event publish failed", "kind", e.Kind, "error", err)
	}
}
