package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/safkaty/safkaty/internal/config"
)

// Checker refreshes the store gauges in the background.
type Checker struct {
	collector *Collector
	metrics   *Metrics
	cfg       config.MonitoringConfig
}

// NewChecker creates a background store checker.
func NewChecker(collector *Collector, metrics *Metrics, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Run collects once immediately, then on every tick. It blocks until ctx
// is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting store checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.check(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("store checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("monitoring: failed to collect store metrics", zap.Error(err))
		}
		return
	}
	c.metrics.SetSnapshot(snap)
	log.Debug("monitoring: store metrics refreshed",
		zap.Int("tenders", snap.Stats.Total),
		zap.Int("recent_searches", snap.RecentSearches),
	)
}
