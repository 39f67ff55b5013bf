package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/safkaty/safkaty/internal/model"
)

// historyScanLimit bounds how many history rows one collection reads.
const historyScanLimit = 1000

// Snapshot holds a point-in-time view of the tender store.
type Snapshot struct {
	Stats model.Stats `json:"stats"`

	// Search activity within the lookback window.
	RecentSearches int       `json:"recent_searches"`
	RecentResults  int       `json:"recent_results"`
	LastSearchAt   time.Time `json:"last_search_at,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsSource is the part of store.Store the collector reads.
type StatsSource interface {
	Stats(ctx context.Context) (model.Stats, error)
	ListSearchHistory(ctx context.Context, limit int) ([]model.SearchHistoryEntry, error)
}

// Collector gathers store figures.
type Collector struct {
	store StatsSource
	now   func() time.Time
}

// NewCollector creates a new store collector.
func NewCollector(st StatsSource) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: store stats")
	}
	snap.Stats = stats

	history, err := c.store.ListSearchHistory(ctx, historyScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list search history")
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	for _, h := range history {
		if h.SearchedAt.After(snap.LastSearchAt) {
			snap.LastSearchAt = h.SearchedAt
		}
		if h.SearchedAt.Before(cutoff) {
			continue
		}
		snap.RecentSearches++
		snap.RecentResults += h.ResultCount
	}

	return snap, nil
}
