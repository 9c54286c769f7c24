// Package diagnostics exposes the session table's bookkeeping counters to
// monitoring consumers: an HTTP endpoint for scrapers and a Redis publisher
// for external dashboards. Summaries are advisory snapshots; they are never
// used to restore session state.
package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/cyberinferno/uasession/sessiontable"
)

// Summary is a point-in-time view of the session table, as served to
// monitoring consumers.
type Summary struct {
	Timestamp              time.Time `json:"timestamp"`
	CurrentSessionCount    int       `json:"currentSessionCount"`
	CumulativeSessionCount uint64    `json:"cumulativeSessionCount"`
	RejectedSessionCount   uint64    `json:"rejectedSessionCount"`
}

// StatsFunc produces a stats snapshot. The server supplies one that takes the
// table lock, so the collector never touches the table directly.
type StatsFunc func() sessiontable.Stats

const summaryCacheKey = "session-summary"

// Collector builds Summary snapshots from a StatsFunc, caching them for a
// short TTL so that a burst of monitoring requests costs one snapshot. A
// singleflight group collapses concurrent misses onto one snapshot call.
type Collector struct {
	stats StatsFunc
	cache *cache.Cache
	group singleflight.Group
	now   func() time.Time
}

// NewCollector creates a Collector that caches summaries for ttl.
//
// Parameters:
//   - stats: Snapshot source, typically Server.Stats
//   - ttl: How long a summary stays fresh
//
// Returns:
//   - A new Collector
func NewCollector(stats StatsFunc, ttl time.Duration) *Collector {
	return &Collector{
		stats: stats,
		cache: cache.New(ttl, 2*ttl),
		now:   time.Now,
	}
}

// Summary returns the current summary, serving a cached one while fresh.
//
// Parameters:
//   - ctx: Context for cancellation control
//
// Returns:
//   - The cached or freshly built Summary
//   - An error if the context is cancelled or the snapshot type is unexpected
func (c *Collector) Summary(ctx context.Context) (Summary, error) {
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	default:
	}

	if val, found := c.cache.Get(summaryCacheKey); found {
		if summary, ok := val.(Summary); ok {
			return summary, nil
		}
	}

	val, err, _ := c.group.Do(summaryCacheKey, func() (interface{}, error) {
		// Another goroutine may have populated the cache while we waited.
		if cached, found := c.cache.Get(summaryCacheKey); found {
			if summary, ok := cached.(Summary); ok {
				return summary, nil
			}
		}

		stats := c.stats()
		summary := Summary{
			Timestamp:              c.now(),
			CurrentSessionCount:    stats.CurrentSessionCount,
			CumulativeSessionCount: stats.CumulativeSessionCount,
			RejectedSessionCount:   stats.RejectedSessionCount,
		}
		c.cache.Set(summaryCacheKey, summary, cache.DefaultExpiration)
		return summary, nil
	})
	if err != nil {
		return Summary{}, err
	}

	summary, ok := val.(Summary)
	if !ok {
		return Summary{}, fmt.Errorf("unexpected type in summary cache")
	}

	return summary, nil
}
