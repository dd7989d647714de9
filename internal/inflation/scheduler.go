package inflation

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler drives periodic background refreshes on a cron expression.
// Each tick calls Manager.Refresh(ctx, false), so it applies the same
// age-based refresh-due check as any other Refresh call; this exists so a
// long-running worker process keeps the cache warm without every job paying
// a potential fetch on its own path.
type Scheduler struct {
	cron *cron.Cron
	mgr  *Manager
	log  *zap.Logger
}

// NewScheduler builds a Scheduler that calls Manager.Refresh(ctx, false) on
// the given cron spec (e.g. "0 0 * * *" for daily at midnight).
func NewScheduler(mgr *Manager, spec string, log *zap.Logger) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{cron: c, mgr: mgr, log: log}
	_, err := c.AddFunc(spec, s.tick)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if _, err := s.mgr.Refresh(ctx, false); err != nil {
		s.log.Warn("scheduled inflation refresh failed", zap.Error(err))
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
