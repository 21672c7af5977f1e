package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/taxi-dispatch/internal/grid"
	"github.com/example/taxi-dispatch/internal/models"
)

// PostgresStore persists the fleet and ledger in Postgres. Reservation
// relies on FOR UPDATE SKIP LOCKED so concurrent claimers step past each
// other's locked rows instead of blocking or double-booking.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

const taxiColumns = "id, public_id, status, x, y, callback_url, last_seen_at"

const tripColumns = `id, public_id, user_id, taxi_id, status, request_time, pickup_time,
	dropoff_time, start_x, start_y, end_x, end_y, waiting_time_min, travel_time_min,
	total_distance, route_meta`

func (p *PostgresStore) CreateTaxi(ctx context.Context, t *models.Taxi) error {
	row := p.db.QueryRowContext(ctx,
		`INSERT INTO taxis(public_id, status, x, y, callback_url) VALUES($1,$2,$3,$4,$5) RETURNING id`,
		t.PublicID, t.Status, t.X, t.Y, t.CallbackURL)
	return row.Scan(&t.ID)
}

func (p *PostgresStore) GetTaxiByPublicID(ctx context.Context, publicID string) (*models.Taxi, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+taxiColumns+` FROM taxis WHERE public_id=$1`, publicID)
	return scanTaxi(row)
}

func (p *PostgresStore) ListTaxis(ctx context.Context) ([]models.Taxi, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+taxiColumns+` FROM taxis ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Taxi
	for rows.Next() {
		t, err := scanTaxi(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountTaxis(ctx context.Context, status models.TaxiStatus) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM taxis WHERE status=$1`, status).Scan(&n)
	return n, err
}

func (p *PostgresStore) Heartbeat(ctx context.Context, publicID string, ts time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE taxis SET last_seen_at=$2,
		        status = CASE WHEN status='offline' THEN 'available' ELSE status END
		 WHERE public_id=$1`,
		publicID, ts.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) MarkOffline(ctx context.Context, publicID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE taxis SET status='offline' WHERE public_id=$1`, publicID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) SetTaxiStatus(ctx context.Context, id int64, status models.TaxiStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE taxis SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE taxis SET status='offline'
		 WHERE status IN ('available','busy')
		   AND (last_seen_at IS NULL OR last_seen_at < $1)`,
		cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *PostgresStore) ReserveNearest(ctx context.Context, x, y int) (*models.Taxi, error) {
	var taxi *models.Taxi
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		t, err := reserveNearestTx(ctx, tx, x, y)
		if err != nil {
			return err
		}
		taxi = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taxi, nil
}

func (p *PostgresStore) CreateTrip(ctx context.Context, trip *models.Trip) error {
	return insertTrip(ctx, p.db, trip)
}

func (p *PostgresStore) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=$1`, id)
	return scanTrip(row)
}

func (p *PostgresStore) ListTrips(ctx context.Context, limit int) ([]models.Trip, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+tripColumns+` FROM trips ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ReserveAndCreateTrip(ctx context.Context, trip *models.Trip, x, y int) (*models.Taxi, error) {
	var taxi *models.Taxi
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		t, err := reserveNearestTx(ctx, tx, x, y)
		if err != nil {
			return err
		}
		trip.TaxiID = &t.ID
		trip.Status = models.TripRequested
		if err := insertTrip(ctx, tx, trip); err != nil {
			return err
		}
		taxi = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taxi, nil
}

func (p *PostgresStore) ApplyPickup(ctx context.Context, evt models.PickupEvent) (bool, error) {
	ok := false
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+tripColumns+` FROM trips WHERE id=$1 FOR UPDATE`, evt.TripID)
		trip, err := scanTrip(row)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var taxiID int64
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM taxis WHERE public_id=$1`, evt.TaxiPublicID).Scan(&taxiID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if trip.TaxiID == nil || *trip.TaxiID != taxiID {
			return nil
		}
		if trip.Status != models.TripRequested {
			ok = true
			return nil
		}
		pickup := evt.Timestamp.UTC()
		waiting := int(pickup.Sub(trip.RequestTime.UTC()).Seconds()) / 60
		_, err = tx.ExecContext(ctx,
			`UPDATE trips SET status='in_progress', pickup_time=$2, waiting_time_min=$3 WHERE id=$1`,
			trip.ID, pickup, waiting)
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

func (p *PostgresStore) ApplyDelivered(ctx context.Context, evt models.DeliveredEvent) (bool, error) {
	ok := false
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+tripColumns+` FROM trips WHERE id=$1 FOR UPDATE`, evt.TripID)
		trip, err := scanTrip(row)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		dropoff := evt.DropoffTime.UTC()
		var travel sql.NullInt64
		if trip.PickupTime != nil {
			travel = sql.NullInt64{Int64: int64(dropoff.Sub(trip.PickupTime.UTC()).Seconds()) / 60, Valid: true}
		}
		dist := grid.Distance(trip.StartX, trip.StartY, trip.EndX, trip.EndY)
		_, err = tx.ExecContext(ctx,
			`UPDATE trips SET status='completed', dropoff_time=$2, travel_time_min=$3, total_distance=$4 WHERE id=$1`,
			trip.ID, dropoff, travel, dist)
		if err != nil {
			return err
		}
		if trip.TaxiID != nil {
			_, err = tx.ExecContext(ctx,
				`UPDATE taxis SET status='available', x=$2, y=$3 WHERE id=$1`,
				*trip.TaxiID, evt.EndX, evt.EndY)
			if err != nil {
				return err
			}
		}
		ok = true
		return nil
	})
	return ok, err
}

func (p *PostgresStore) CancelAndRelease(ctx context.Context, tripID, taxiID int64) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE trips SET status='cancelled' WHERE id=$1`, tripID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE taxis SET status='available' WHERE id=$1`, taxiID)
		return err
	})
}

func (p *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// reserveNearestTx claims the closest available taxi inside tx. SKIP
// LOCKED makes racing selectors see the next-best unlocked candidate,
// so no request ever waits behind another's lock.
func reserveNearestTx(ctx context.Context, tx *sql.Tx, x, y int) (*models.Taxi, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+taxiColumns+` FROM taxis
		 WHERE status='available'
		 ORDER BY abs(x-$1)+abs(y-$2), id
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		x, y)
	t, err := scanTaxi(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoCapacity
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE taxis SET status='busy' WHERE id=$1`, t.ID); err != nil {
		return nil, err
	}
	t.Status = models.TaxiBusy
	return t, nil
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertTrip(ctx context.Context, q execer, trip *models.Trip) error {
	if trip.RequestTime.IsZero() {
		trip.RequestTime = time.Now().UTC()
	}
	var taxiID sql.NullInt64
	if trip.TaxiID != nil {
		taxiID = sql.NullInt64{Int64: *trip.TaxiID, Valid: true}
	}
	var meta any
	if len(trip.RouteMeta) > 0 {
		meta = []byte(trip.RouteMeta)
	}
	row := q.QueryRowContext(ctx,
		`INSERT INTO trips(public_id, user_id, taxi_id, status, request_time,
		        start_x, start_y, end_x, end_y, route_meta)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		trip.PublicID, trip.UserID, taxiID, trip.Status, trip.RequestTime,
		trip.StartX, trip.StartY, trip.EndX, trip.EndY, meta)
	return row.Scan(&trip.ID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaxi(row rowScanner) (*models.Taxi, error) {
	var t models.Taxi
	var lastSeen sql.NullTime
	err := row.Scan(&t.ID, &t.PublicID, &t.Status, &t.X, &t.Y, &t.CallbackURL, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan taxi: %w", err)
	}
	if lastSeen.Valid {
		ts := lastSeen.Time
		t.LastSeenAt = &ts
	}
	return &t, nil
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var t models.Trip
	var taxiID sql.NullInt64
	var pickup, dropoff sql.NullTime
	var waiting, travel, dist sql.NullInt64
	var meta []byte
	err := row.Scan(&t.ID, &t.PublicID, &t.UserID, &taxiID, &t.Status, &t.RequestTime,
		&pickup, &dropoff, &t.StartX, &t.StartY, &t.EndX, &t.EndY, &waiting, &travel, &dist, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trip: %w", err)
	}
	if taxiID.Valid {
		id := taxiID.Int64
		t.TaxiID = &id
	}
	if pickup.Valid {
		ts := pickup.Time
		t.PickupTime = &ts
	}
	if dropoff.Valid {
		ts := dropoff.Time
		t.DropoffTime = &ts
	}
	if waiting.Valid {
		v := int(waiting.Int64)
		t.WaitingTimeMin = &v
	}
	if travel.Valid {
		v := int(travel.Int64)
		t.TravelTimeMin = &v
	}
	if dist.Valid {
		v := int(dist.Int64)
		t.TotalDistance = &v
	}
	if len(meta) > 0 {
		t.RouteMeta = meta
	}
	return &t, nil
}
