package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/grid"
	"github.com/example/taxi-dispatch/internal/models"
)

// MemoryStore keeps the fleet and ledger in process memory behind one
// mutex. Every logical operation runs under the lock, which gives it
// the same claim-at-most-once contract as the SQL store's row locks.
type MemoryStore struct {
	mu         sync.Mutex
	taxis      map[int64]*models.Taxi
	trips      map[int64]*models.Trip
	taxiByPub  map[string]int64
	nextTaxiID int64
	nextTripID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		taxis:     make(map[int64]*models.Taxi),
		trips:     make(map[int64]*models.Trip),
		taxiByPub: make(map[string]int64),
	}
}

func (m *MemoryStore) CreateTaxi(ctx context.Context, t *models.Taxi) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTaxiID++
	t.ID = m.nextTaxiID
	cp := *t
	m.taxis[cp.ID] = &cp
	m.taxiByPub[cp.PublicID] = cp.ID
	return nil
}

func (m *MemoryStore) GetTaxiByPublicID(ctx context.Context, publicID string) (*models.Taxi, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.taxiByPubLocked(publicID)
	if t == nil {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTaxis(ctx context.Context) ([]models.Taxi, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Taxi, 0, len(m.taxis))
	for id := int64(1); id <= m.nextTaxiID; id++ {
		if t, ok := m.taxis[id]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountTaxis(ctx context.Context, status models.TaxiStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.taxis {
		if t.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Heartbeat(ctx context.Context, publicID string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.taxiByPubLocked(publicID)
	if t == nil {
		return ErrNotFound
	}
	// Last write wins by wall clock; only liveness matters, not order.
	utc := ts.UTC()
	t.LastSeenAt = &utc
	if t.Status == models.TaxiOffline {
		t.Status = models.TaxiAvailable
	}
	return nil
}

func (m *MemoryStore) MarkOffline(ctx context.Context, publicID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.taxiByPubLocked(publicID)
	if t == nil {
		return false, nil
	}
	t.Status = models.TaxiOffline
	return true, nil
}

func (m *MemoryStore) SetTaxiStatus(ctx context.Context, id int64, status models.TaxiStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.taxis[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

func (m *MemoryStore) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.taxis {
		if t.Status != models.TaxiAvailable && t.Status != models.TaxiBusy {
			continue
		}
		if t.LastSeenAt == nil || t.LastSeenAt.Before(cutoff) {
			t.Status = models.TaxiOffline
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ReserveNearest(ctx context.Context, x, y int) (*models.Taxi, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.nearestAvailableLocked(x, y)
	if t == nil {
		return nil, ErrNoCapacity
	}
	t.Status = models.TaxiBusy
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) CreateTrip(ctx context.Context, trip *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertTripLocked(trip)
	return nil
}

func (m *MemoryStore) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTrips(ctx context.Context, limit int) ([]models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Trip, 0, limit)
	for id := m.nextTripID; id >= 1 && len(out) < limit; id-- {
		if t, ok := m.trips[id]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *MemoryStore) ReserveAndCreateTrip(ctx context.Context, trip *models.Trip, x, y int) (*models.Taxi, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	taxi := m.nearestAvailableLocked(x, y)
	if taxi == nil {
		return nil, ErrNoCapacity
	}
	taxi.Status = models.TaxiBusy
	taxiID := taxi.ID
	trip.TaxiID = &taxiID
	trip.Status = models.TripRequested
	m.insertTripLocked(trip)
	cp := *taxi
	return &cp, nil
}

func (m *MemoryStore) ApplyPickup(ctx context.Context, evt models.PickupEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.trips[evt.TripID]
	taxi := m.taxiByPubLocked(evt.TaxiPublicID)
	if !ok || taxi == nil || trip.TaxiID == nil || *trip.TaxiID != taxi.ID {
		return false, nil
	}
	if trip.Status != models.TripRequested {
		// Replay; already past requested, report success without mutation.
		return true, nil
	}
	pickup := evt.Timestamp.UTC()
	trip.PickupTime = &pickup
	trip.Status = models.TripInProgress
	waiting := int(pickup.Sub(trip.RequestTime.UTC()).Seconds()) / 60
	trip.WaitingTimeMin = &waiting
	return true, nil
}

func (m *MemoryStore) ApplyDelivered(ctx context.Context, evt models.DeliveredEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.trips[evt.TripID]
	if !ok {
		return false, nil
	}
	dropoff := evt.DropoffTime.UTC()
	trip.Status = models.TripCompleted
	trip.DropoffTime = &dropoff
	if trip.PickupTime != nil {
		travel := int(dropoff.Sub(trip.PickupTime.UTC()).Seconds()) / 60
		trip.TravelTimeMin = &travel
	}
	dist := grid.Distance(trip.StartX, trip.StartY, trip.EndX, trip.EndY)
	trip.TotalDistance = &dist
	if trip.TaxiID != nil {
		if taxi, ok := m.taxis[*trip.TaxiID]; ok {
			taxi.Status = models.TaxiAvailable
			taxi.X = evt.EndX
			taxi.Y = evt.EndY
		}
	}
	return true, nil
}

func (m *MemoryStore) CancelAndRelease(ctx context.Context, tripID, taxiID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.trips[tripID]
	if !ok {
		return ErrNotFound
	}
	trip.Status = models.TripCancelled
	if taxi, ok := m.taxis[taxiID]; ok {
		taxi.Status = models.TaxiAvailable
	}
	return nil
}

func (m *MemoryStore) taxiByPubLocked(publicID string) *models.Taxi {
	id, ok := m.taxiByPub[publicID]
	if !ok {
		return nil
	}
	return m.taxis[id]
}

func (m *MemoryStore) nearestAvailableLocked(x, y int) *models.Taxi {
	var best *models.Taxi
	bestDist := 0
	for id := int64(1); id <= m.nextTaxiID; id++ {
		t, ok := m.taxis[id]
		if !ok || t.Status != models.TaxiAvailable {
			continue
		}
		d := grid.Distance(t.X, t.Y, x, y)
		if best == nil || d < bestDist {
			best = t
			bestDist = d
		}
	}
	return best
}

func (m *MemoryStore) insertTripLocked(trip *models.Trip) {
	m.nextTripID++
	trip.ID = m.nextTripID
	if trip.RequestTime.IsZero() {
		trip.RequestTime = time.Now().UTC()
	}
	cp := *trip
	m.trips[cp.ID] = &cp
}
