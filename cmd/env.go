package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/safkaty/safkaty/internal/acquire"
	"github.com/safkaty/safkaty/internal/fetcher"
	"github.com/safkaty/safkaty/internal/monitoring"
	"github.com/safkaty/safkaty/internal/resilience"
	"github.com/safkaty/safkaty/internal/store"
)

// initStore opens the configured store and applies its migration.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// newOrchestrator builds the portal client and orchestrator from config.
// metrics may be nil.
func newOrchestrator(metrics *monitoring.Metrics) *acquire.Orchestrator {
	opts := fetcher.Options{
		UserAgent:         cfg.Portal.UserAgent,
		AcceptLanguage:    cfg.Portal.AcceptLanguage,
		Timeout:           time.Duration(cfg.Portal.TimeoutSecs) * time.Second,
		Retry:             resilience.FromRetryConfig(cfg.Portal.MaxAttempts, cfg.Portal.InitialBackoffMs, cfg.Portal.BackoffStepMs),
		RequestsPerSecond: cfg.Portal.RequestsPerSecond,
	}
	breakerCfg := resilience.FromCircuitConfig(cfg.Search.CircuitThreshold, cfg.Search.CircuitCooldownSecs)

	acqCfg := acquire.Config{BaseURL: cfg.Portal.BaseURL}
	if metrics != nil {
		opts.Observer = metrics.ObserveAttempt
		breakerCfg.OnStateChange = metrics.CircuitStateChanged
		acqCfg.Recorder = metrics
	}
	acqCfg.Fetcher = fetcher.New(opts)
	acqCfg.Breaker = resilience.NewCircuitBreaker(breakerCfg)
	return acquire.New(acqCfg)
}

// searchOptions maps the search config section onto orchestrator options.
func searchOptions() acquire.Options {
	return acquire.Options{
		MaxResults:  cfg.Search.MaxResults,
		PoliteDelay: time.Duration(cfg.Search.PoliteDelayMs) * time.Millisecond,
		Enrich:      cfg.Search.Enrich,
	}
}
