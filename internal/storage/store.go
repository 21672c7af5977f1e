package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

var (
	// ErrNotFound marks lookups for unknown taxis or trips.
	ErrNotFound = errors.New("not found")
	// ErrNoCapacity is returned when no available taxi can be claimed.
	ErrNoCapacity = errors.New("no taxi available")
)

// TaxiStore defines persistence operations for the fleet.
type TaxiStore interface {
	CreateTaxi(ctx context.Context, t *models.Taxi) error
	GetTaxiByPublicID(ctx context.Context, publicID string) (*models.Taxi, error)
	ListTaxis(ctx context.Context) ([]models.Taxi, error)
	CountTaxis(ctx context.Context, status models.TaxiStatus) (int, error)

	// Heartbeat refreshes last_seen_at and revives offline taxis.
	Heartbeat(ctx context.Context, publicID string, ts time.Time) error

	// MarkOffline soft-removes a taxi. False means unknown public id.
	MarkOffline(ctx context.Context, publicID string) (bool, error)

	// SetTaxiStatus is a direct setter used by compensation and events.
	SetTaxiStatus(ctx context.Context, id int64, status models.TaxiStatus) error

	// SweepStale demotes available/busy taxis whose last_seen_at is null
	// or older than cutoff. Returns the number demoted.
	SweepStale(ctx context.Context, cutoff time.Time) (int, error)

	// ReserveNearest atomically claims the available taxi closest to
	// (x, y), ties broken by lowest id, and flips it to busy. Racing
	// callers skip each other's candidates rather than block.
	ReserveNearest(ctx context.Context, x, y int) (*models.Taxi, error)
}

// TripStore defines persistence operations for the trip ledger.
type TripStore interface {
	CreateTrip(ctx context.Context, trip *models.Trip) error
	GetTrip(ctx context.Context, id int64) (*models.Trip, error)
	ListTrips(ctx context.Context, limit int) ([]models.Trip, error)

	// ReserveAndCreateTrip runs the reservation and the requested-trip
	// insert in one transaction, so a crash can never leave a busy taxi
	// without a bound trip.
	ReserveAndCreateTrip(ctx context.Context, trip *models.Trip, x, y int) (*models.Taxi, error)

	// ApplyPickup transitions a requested trip to in_progress. False
	// means unknown trip/taxi or an ownership mismatch; replays on a
	// trip past requested succeed without mutation.
	ApplyPickup(ctx context.Context, evt models.PickupEvent) (bool, error)

	// ApplyDelivered completes a trip and re-places its taxi available
	// at the drop-off cell. Fails only on an unknown trip; replays
	// re-apply (see ledger docs).
	ApplyDelivered(ctx context.Context, evt models.DeliveredEvent) (bool, error)

	// CancelAndRelease is the saga compensation: trip cancelled and taxi
	// available again, in one transaction.
	CancelAndRelease(ctx context.Context, tripID, taxiID int64) error
}

// Store is the full persistence surface shared by the fleet registry,
// the trip ledger and the assignment saga.
type Store interface {
	TaxiStore
	TripStore
}
