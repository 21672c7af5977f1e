package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

// Ledger owns trip records and their status transitions. Inbound
// pickup/delivered events land here; the assignment saga creates and
// cancels trips through it but never mutates rows itself.
type Ledger struct {
	store  storage.TripStore
	log    *slog.Logger
	events ingest.Publisher
}

func New(store storage.TripStore, log *slog.Logger, events ingest.Publisher) *Ledger {
	return &Ledger{store: store, log: log, events: events}
}

// CreateRequested reserves the nearest available taxi for the order and
// inserts the requested trip bound to it, both in one transaction.
// Returns storage.ErrNoCapacity when no taxi can be claimed.
func (l *Ledger) CreateRequested(ctx context.Context, order models.OrderCreate) (*models.Trip, *models.Taxi, error) {
	trip := &models.Trip{
		PublicID:    uuid.NewString(),
		UserID:      order.UserID,
		Status:      models.TripRequested,
		RequestTime: time.Now().UTC(),
		StartX:      order.StartX,
		StartY:      order.StartY,
		EndX:        order.EndX,
		EndY:        order.EndY,
	}
	taxi, err := l.store.ReserveAndCreateTrip(ctx, trip, order.StartX, order.StartY)
	if err != nil {
		return nil, nil, err
	}
	l.publish(ingest.Event{Kind: ingest.EventTripRequested, TripID: trip.ID, TaxiPublicID: taxi.PublicID})
	l.log.Info("trip created", "trip", trip.ID, "taxi", taxi.PublicID)
	return trip, taxi, nil
}

// ApplyPickup applies a pickup event. It rejects unknown trips/taxis
// and ownership mismatches (stale or spoofed events); a replay on a
// trip already past requested reports success without mutating.
func (l *Ledger) ApplyPickup(ctx context.Context, evt models.PickupEvent) (bool, error) {
	ok, err := l.store.ApplyPickup(ctx, evt)
	if err != nil {
		return false, fmt.Errorf("apply pickup: %w", err)
	}
	if ok {
		l.publish(ingest.Event{Kind: ingest.EventTripPickedUp, TripID: evt.TripID, TaxiPublicID: evt.TaxiPublicID, At: evt.Timestamp.UTC()})
	} else {
		l.log.Warn("pickup rejected", "trip", evt.TripID, "taxi", evt.TaxiPublicID)
	}
	return ok, nil
}

// ApplyDelivered completes a trip and re-places the bound taxi at the
// drop-off cell. There is deliberately no ownership or completed-state
// guard: replays overwrite drop-off time and position again, which is
// idempotent in outcome (terminal state) though not in side effects.
func (l *Ledger) ApplyDelivered(ctx context.Context, evt models.DeliveredEvent) (bool, error) {
	ok, err := l.store.ApplyDelivered(ctx, evt)
	if err != nil {
		return false, fmt.Errorf("apply delivered: %w", err)
	}
	if ok {
		l.publish(ingest.Event{Kind: ingest.EventTripDelivered, TripID: evt.TripID, TaxiPublicID: evt.TaxiPublicID, X: evt.EndX, Y: evt.EndY, At: evt.DropoffTime.UTC()})
	} else {
		l.log.Warn("delivered rejected, unknown trip", "trip", evt.TripID)
	}
	return ok, nil
}

// Compensate rolls an assignment back: trip cancelled, taxi available,
// one transaction. Used only by the saga's failure path.
func (l *Ledger) Compensate(ctx context.Context, trip *models.Trip, taxi *models.Taxi) error {
	if err := l.store.CancelAndRelease(ctx, trip.ID, taxi.ID); err != nil {
		return fmt.Errorf("compensate trip %d: %w", trip.ID, err)
	}
	l.publish(ingest.Event{Kind: ingest.EventTripCancelled, TripID: trip.ID, TaxiPublicID: taxi.PublicID})
	return nil
}

func (l *Ledger) Get(ctx context.Context, id int64) (*models.Trip, error) {
	return l.store.GetTrip(ctx, id)
}

func (l *Ledger) List(ctx context.Context, limit int) ([]models.Trip, error) {
	return l.store.ListTrips(ctx, limit)
}

func (l *Ledger) publish(e ingest.Event) {
	if l.events == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := l.events.PublishEvent(e); err != nil {
		l.log.Warn("trip event publish failed", "kind", e.Kind, "error", err)
	}
}
