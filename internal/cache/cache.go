package cache

import (
	"context"
	"time"

	"payup/internal/log"
	"payup/internal/metrics"
)

// Cache is the subset of LRUCache the services depend on.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Cleaner interface for caches that support cleanup
type Cleaner interface {
	CleanExpired() int
}

// StatsReporter is implemented by caches that count hits and evictions.
type StatsReporter interface {
	Stats() Stats
}

type namedCache struct {
	name  string
	cache Cleaner
}

// Manager sweeps registered caches on an interval until its context ends and
// publishes their counters as gauges.
type Manager struct {
	caches []namedCache
	logger *log.Logger
}

func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Discard()
	}
	return &Manager{logger: logger.WithComponent(log.ComponentCache)}
}

// Register adds a cache to the manager for cleanup. name labels its metrics.
func (m *Manager) Register(name string, cache Cleaner) {
	m.caches = append(m.caches, namedCache{name: name, cache: cache})
}

// Sweep cleans every registered cache once, refreshes the cache gauges and
// returns the number of entries removed.
func (m *Manager) Sweep() int {
	total := 0
	for _, c := range m.caches {
		total += c.cache.CleanExpired()
	}
	for name, st := range m.Stats() {
		metrics.CacheEntries.WithLabelValues(name).Set(float64(st.Size))
		metrics.CacheHitRatio.WithLabelValues(name).Set(st.HitRatio())
		metrics.CacheEvictions.WithLabelValues(name).Set(float64(st.Evictions))
	}
	return total
}

// Stats returns the counters of every registered cache that keeps them,
// keyed by name.
func (m *Manager) Stats() map[string]Stats {
	out := make(map[string]Stats, len(m.caches))
	for _, c := range m.caches {
		if r, ok := c.cache.(StatsReporter); ok {
			out[c.name] = r.Stats()
		}
	}
	return out
}

// Run sweeps every interval and returns when ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("Expired cache entries removed", "count", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
