// Package monitoring exposes Prometheus metrics for portal fetches,
// searches, the background runner and the tender store.
package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/safkaty/safkaty/internal/fetcher"
	"github.com/safkaty/safkaty/internal/model"
	"github.com/safkaty/safkaty/internal/resilience"
	"github.com/safkaty/safkaty/internal/runner"
)

const namespace = "safkaty"

// Metrics holds every collector. It satisfies acquire.Recorder and its
// methods are safe for concurrent use.
type Metrics struct {
	fetchAttempts  *prometheus.CounterVec
	searches       prometheus.Counter
	searchDuration prometheus.Histogram
	searchTenders  prometheus.Counter
	degradedRows   prometheus.Counter
	enrichments    *prometheus.CounterVec
	circuitState   prometheus.Gauge
	runnerState    *prometheus.GaugeVec
	runs           *prometheus.CounterVec
	tenders        *prometheus.GaugeVec
	tendersTotal   prometheus.Gauge
	recentSearches prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Portal HTTP attempts by host, verdict and status code.",
		}, []string{"host", "verdict", "status"}),
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Completed keyword searches.",
		}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Wall time of keyword searches including enrichment.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		searchTenders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_tenders_total",
			Help:      "Tenders produced by searches, after lot expansion.",
		}),
		degradedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_rows_total",
			Help:      "Search rows kept without detail enrichment.",
		}),
		enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichments_total",
			Help:      "Detail enrichment outcomes.",
		}, []string{"outcome"}),
		circuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enrichment_circuit_state",
			Help:      "Enrichment circuit breaker state (0 closed, 1 open, 2 half-open).",
		}),
		runnerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runner_state",
			Help:      "1 for the background runner's current state, 0 otherwise.",
		}, []string{"state"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runner_runs_total",
			Help:      "Background runs by result.",
		}, []string{"result"}),
		tenders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tenders",
			Help:      "Stored tenders by workflow status.",
		}, []string{"status"}),
		tendersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tenders_total",
			Help:      "Stored tenders.",
		}),
		recentSearches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recent_searches",
			Help:      "Searches recorded within the lookback window.",
		}),
	}

	reg.MustRegister(
		m.fetchAttempts, m.searches, m.searchDuration, m.searchTenders,
		m.degradedRows, m.enrichments, m.circuitState, m.runnerState,
		m.runs, m.tenders, m.tendersTotal, m.recentSearches,
	)
	for _, s := range []runner.State{runner.Idle, runner.Running, runner.Delivering, runner.Failed} {
		m.runnerState.WithLabelValues(s.String()).Set(0)
	}
	m.runnerState.WithLabelValues(runner.Idle.String()).Set(1)
	return m
}

// ObserveAttempt is a fetcher.Observer.
func (m *Metrics) ObserveAttempt(a fetcher.Attempt) {
	status := "error"
	if a.Status > 0 {
		status = strconv.Itoa(a.Status)
	}
	m.fetchAttempts.WithLabelValues(a.Host, a.Verdict.String(), status).Inc()
}

func (m *Metrics) SearchCompleted(tenders, degraded int, elapsed time.Duration) {
	m.searches.Inc()
	m.searchDuration.Observe(elapsed.Seconds())
	m.searchTenders.Add(float64(tenders))
	m.degradedRows.Add(float64(degraded))
}

func (m *Metrics) EnrichmentOutcome(outcome string) {
	m.enrichments.WithLabelValues(outcome).Inc()
}

// CircuitStateChanged is a resilience.CircuitBreakerConfig.OnStateChange hook.
func (m *Metrics) CircuitStateChanged(_, to resilience.CircuitState) {
	m.circuitState.Set(float64(to))
}

// RunnerStateChanged is a runner.Runner.OnStateChange hook.
func (m *Metrics) RunnerStateChanged(from, to runner.State) {
	m.runnerState.WithLabelValues(from.String()).Set(0)
	m.runnerState.WithLabelValues(to.String()).Set(1)
}

// RunDelivered counts a finished background run.
func (m *Metrics) RunDelivered(d runner.Delivery) {
	switch {
	case d.Err != nil:
		m.runs.WithLabelValues("failed").Inc()
	case d.Result != nil && d.Result.Stopped:
		m.runs.WithLabelValues("cancelled").Inc()
	default:
		m.runs.WithLabelValues("completed").Inc()
	}
}

// SetSnapshot publishes store figures gathered by a Collector.
func (m *Metrics) SetSnapshot(s *Snapshot) {
	m.tendersTotal.Set(float64(s.Stats.Total))
	for _, st := range model.Statuses {
		m.tenders.WithLabelValues(string(st)).Set(float64(s.Stats.ByStatus[st]))
	}
	m.recentSearches.Set(float64(s.RecentSearches))
}
