package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/taxi-dispatch/internal/ledger"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/storage"
)

// ErrNoCapacity is returned both when no taxi is available and when one
// was reserved but could not be reached. Callers cannot distinguish the
// two; externally the system either has capacity or it does not.
var ErrNoCapacity = storage.ErrNoCapacity

// Saga runs the assignment flow: reserve the nearest taxi and create
// the requested trip, notify the taxi out-of-band, and roll both back
// if every notification attempt fails. The reservation lock is released
// at commit before notification starts, so a hung taxi endpoint never
// blocks other reservations.
type Saga struct {
	ledger   *ledger.Ledger
	notifier Notifier
	sessions *WSRegistry
	log      *slog.Logger
}

func NewSaga(l *ledger.Ledger, notifier Notifier, sessions *WSRegistry, log *slog.Logger) *Saga {
	return &Saga{ledger: l, notifier: notifier, sessions: sessions, log: log}
}

// Assign places an order. On success the returned trip is requested and
// bound to a busy taxi. ErrNoCapacity means no trip row exists (or the
// one created was compensated away as cancelled).
func (s *Saga) Assign(ctx context.Context, order models.OrderCreate) (*models.Trip, error) {
	start := time.Now()

	trip, taxi, err := s.ledger.CreateRequested(ctx, order)
	if errors.Is(err, storage.ErrNoCapacity) {
		observability.NoCapacityTotal.Inc()
		s.log.Info("no available taxi", "user", order.UserID)
		return nil, ErrNoCapacity
	}
	if err != nil {
		return nil, err
	}

	payload := models.AssignPayload{
		TripID: trip.ID,
		StartX: order.StartX,
		StartY: order.StartY,
		EndX:   order.EndX,
		EndY:   order.EndY,
	}
	if err := s.notify(ctx, taxi, payload); err != nil {
		s.log.Warn("assignment notify failed, compensating",
			"trip", trip.ID, "taxi", taxi.PublicID, "error", err)
		s.compensate(ctx, trip, taxi)
		observability.NoCapacityTotal.Inc()
		return nil, ErrNoCapacity
	}

	observability.AssignmentsTotal.Inc()
	observability.AssignLatency.Observe(time.Since(start).Seconds())
	s.log.Info("trip assigned", "trip", trip.ID, "taxi", taxi.PublicID)
	return trip, nil
}

func (s *Saga) notify(ctx context.Context, taxi *models.Taxi, payload models.AssignPayload) error {
	if s.sessions != nil {
		if err := s.sessions.Send(taxi.PublicID, payload); err == nil {
			return nil
		} else if !errors.Is(err, ErrNoSession) {
			s.log.Debug("ws push failed, falling back to callback",
				"taxi", taxi.PublicID, "error", err)
		}
	}
	return s.notifier.Send(ctx, taxi.CallbackURL, payload)
}

// compensate is best-effort: a persistence fault here is logged and
// swallowed. Retrying compensation without a bounded dead-letter policy
// would change observable behavior, so it stays a single attempt.
func (s *Saga) compensate(ctx context.Context, trip *models.Trip, taxi *models.Taxi) {
	observability.CompensationsTotal.Inc()
	if err := s.ledger.Compensate(ctx, trip, taxi); err != nil {
		s.log.Error("compensation failed", "trip", trip.ID, "taxi", taxi.PublicID, "error", err)
	}
}
