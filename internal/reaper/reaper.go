// Package reaper periodically reclaims jobs whose lease expired without the
// holding worker extending it or completing the job — the worker crashed,
// was killed, or lost its network connection mid-execution.
package reaper

import (
	"context"
	"time"

	"github.com/insightqueue/insightqueue/internal/broker"
	"github.com/insightqueue/insightqueue/internal/obs"
	"go.uber.org/zap"
)

// Reaper drives Backend.ReclaimExpired on a fixed interval. The Backend
// itself owns the expiry check and attempt-exhaustion logic; the Reaper is
// just the clock.
type Reaper struct {
	backend  broker.Backend
	log      *zap.Logger
	interval time.Duration
}

func New(backend broker.Backend, log *zap.Logger, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reaper{backend: backend, log: log, interval: interval}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context) {
	n, err := r.backend.ReclaimExpired(ctx)
	if err != nil {
		r.log.Warn("reclaim sweep failed", obs.Err(err))
		return
	}
	if n > 0 {
		obs.ReaperRecovered.Add(float64(n))
		r.log.Warn("reclaimed jobs with expired leases", obs.Int("count", n))
	}
}
