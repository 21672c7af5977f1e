package fleet

import (
	"context"
	"time"
)

// Sweeper runs the liveness sweep on a fixed interval. It is owned by
// the registry's lifecycle: Run blocks until ctx is cancelled, so the
// server starts it in a goroutine and stops it via shutdown context.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	ttl      time.Duration
}

func NewSweeper(registry *Registry, interval, ttl time.Duration) *Sweeper {
	return &Sweeper{registry: registry, interval: interval, ttl: ttl}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.registry.SweepStale(ctx, s.ttl); err != nil {
				s.registry.log.Error("liveness sweep failed", "error", err)
			}
		}
	}
}
