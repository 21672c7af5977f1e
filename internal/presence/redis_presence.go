package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-dispatch/internal/ingest"
)

// RedisPresence mirrors fleet events into per-taxi hashes so dashboards
// can read last known position and liveness without touching the
// dispatch database.
type RedisPresence struct {
	client *redis.Client
}

func New(addr, password string) *RedisPresence {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPresence{client: c}
}

func NewFromClient(c *redis.Client) *RedisPresence { return &RedisPresence{client: c} }

func (r *RedisPresence) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisPresence) Close() error { return r.client.Close() }

// Apply folds one event into the taxi's presence hash.
func (r *RedisPresence) Apply(ctx context.Context, e ingest.Event) error {
	if e.TaxiPublicID == "" {
		return nil
	}
	fields := map[string]interface{}{
		"last_event": e.Kind,
		"seen_at":    e.At.UTC().Format(time.RFC3339),
	}
	switch e.Kind {
	case ingest.EventTaxiRegistered, ingest.EventTripDelivered:
		fields["x"] = strconv.Itoa(e.X)
		fields["y"] = strconv.Itoa(e.Y)
	}
	return r.client.HSet(ctx, Key(e.TaxiPublicID), fields).Err()
}

func Key(taxiPublicID string) string { return "taxi:presence:" + taxiPublicID }
