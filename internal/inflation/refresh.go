package inflation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/insightqueue/insightqueue/internal/obs"
)

// Manager combines the persisted Cache with a Fetcher, applying the
// refresh-due decision and non-shrinking merge policy.
type Manager struct {
	cache        *Cache
	fetcher      *Fetcher
	maxAge       time.Duration
	log          *zap.Logger
}

func NewManager(cache *Cache, fetcher *Fetcher, maxAge time.Duration, log *zap.Logger) *Manager {
	return &Manager{cache: cache, fetcher: fetcher, maxAge: maxAge, log: log}
}

// Load returns the persisted table without deciding on a refresh.
func (m *Manager) Load() (Table, error) {
	return m.cache.Load()
}

// Refresh decides whether a fetch is warranted (missing, older than
// maxAge, or fetched_at's year differs from the current year) unless force
// is set, then merges and persists. A fetch or parse failure never loses
// previously cached years: the prior table is returned marked Stale.
func (m *Manager) Refresh(ctx context.Context, force bool) (Table, error) {
	existing, err := m.cache.Load()
	if err != nil {
		existing = Table{Rows: map[int]map[string]float64{}}
	}

	if !force && !refreshDue(existing, m.maxAge, time.Now().UTC()) {
		return existing, nil
	}

	fresh, err := m.fetcher.Fetch(ctx)
	if err != nil {
		obs.InflationRefreshFailures.Inc()
		m.log.Warn("inflation refresh failed, serving cached table", obs.Err(err))
		existing.Stale = true
		return existing, nil
	}

	merged := mergeNonShrinking(existing, fresh)
	if err := m.cache.persist(merged); err != nil {
		m.log.Warn("failed to persist refreshed inflation table", obs.Err(err))
		existing.Stale = true
		return existing, nil
	}
	return merged, nil
}

func refreshDue(t Table, maxAge time.Duration, now time.Time) bool {
	if len(t.Rows) == 0 {
		return true
	}
	if t.FetchedAt.IsZero() || now.Sub(t.FetchedAt) > maxAge {
		return true
	}
	return t.FetchedAt.Year() != now.Year()
}
