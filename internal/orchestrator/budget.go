package orchestrator

import (
	"time"

	"github.com/insightqueue/insightqueue/internal/config"
	"github.com/insightqueue/insightqueue/internal/corerr"
)

// budget enforces the four per-job ceilings: round count, per-execution
// duration, cumulative execution duration, and total wall clock.
type budget struct {
	cfg            config.Orchestrator
	startedAt      time.Time
	rounds         int
	cumulativeExec time.Duration
}

func newBudget(cfg config.Orchestrator) *budget {
	return &budget{cfg: cfg, startedAt: time.Now()}
}

func (b *budget) checkRound() error {
	if b.rounds >= b.cfg.MaxRounds {
		return corerr.New(corerr.WallTimeout, "maximum model rounds exceeded")
	}
	return nil
}

func (b *budget) recordRound() {
	b.rounds++
}

func (b *budget) checkWallClock() error {
	if time.Since(b.startedAt) > b.cfg.PerJobWallTimeout {
		return corerr.New(corerr.WallTimeout, "total wall-clock ceiling exceeded")
	}
	return nil
}

func (b *budget) checkExecBudget(next time.Duration) error {
	if b.cumulativeExec+next > b.cfg.PerJobExecBudget {
		return corerr.New(corerr.ExecBudgetExhausted, "cumulative execution time ceiling exceeded")
	}
	return nil
}

func (b *budget) recordExec(d time.Duration) {
	b.cumulativeExec += d
}

func (b *budget) perExecTimeout() time.Duration {
	return b.cfg.PerExecTimeout
}
