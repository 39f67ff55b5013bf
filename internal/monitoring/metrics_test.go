package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safkaty/safkaty/internal/acquire"
	"github.com/safkaty/safkaty/internal/fetcher"
	"github.com/safkaty/safkaty/internal/model"
	"github.com/safkaty/safkaty/internal/resilience"
	"github.com/safkaty/safkaty/internal/runner"
)

var _ acquire.Recorder = (*Metrics)(nil)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "safkaty_runner_state")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runnerState.WithLabelValues("idle")))

	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestMetrics_ObserveAttempt(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	var observe fetcher.Observer = m.ObserveAttempt

	observe(fetcher.Attempt{Host: "portal.test", Status: 200, Verdict: resilience.Done})
	observe(fetcher.Attempt{Host: "portal.test", Status: 503, Verdict: resilience.Retry})
	observe(fetcher.Attempt{Host: "portal.test", Verdict: resilience.Retry, Err: errors.New("timeout")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchAttempts.WithLabelValues("portal.test", "done", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchAttempts.WithLabelValues("portal.test", "retry", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchAttempts.WithLabelValues("portal.test", "retry", "error")))
}

func TestMetrics_SearchAndEnrichment(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SearchCompleted(4, 1, 3*time.Second)
	m.SearchCompleted(2, 0, time.Second)
	m.EnrichmentOutcome(acquire.OutcomeEnriched)
	m.EnrichmentOutcome(acquire.OutcomeSkipped)
	m.EnrichmentOutcome(acquire.OutcomeSkipped)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.searches))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.searchTenders))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degradedRows))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.enrichments.WithLabelValues("circuit_open")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.searchDuration))
}

func TestMetrics_StateHooks(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.CircuitStateChanged(resilience.CircuitClosed, resilience.CircuitOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.circuitState))

	m.RunnerStateChanged(runner.Idle, runner.Running)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runnerState.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runnerState.WithLabelValues("running")))
}

func TestMetrics_RunDelivered(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RunDelivered(runner.Delivery{Result: &acquire.Result{}})
	m.RunDelivered(runner.Delivery{Result: &acquire.Result{Stopped: true}})
	m.RunDelivered(runner.Delivery{Err: errors.New("blocked")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("failed")))
}

func TestMetrics_SetSnapshot(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	stats := model.NewStats()
	stats.Total = 2
	stats.ByStatus[model.StatusLost] = 2

	m.SetSnapshot(&Snapshot{Stats: stats, RecentSearches: 4})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tendersTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tenders.WithLabelValues("lost")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.tenders.WithLabelValues("new")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.recentSearches))
}
