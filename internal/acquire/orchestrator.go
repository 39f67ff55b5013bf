// Package acquire drives a keyword search on the procurement portal: it picks
// the best search endpoint, parses the result rows, enriches each row from
// its detail page and expands multi-lot consultations into one tender per lot.
package acquire

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/safkaty/safkaty/internal/fetcher"
	"github.com/safkaty/safkaty/internal/model"
	"github.com/safkaty/safkaty/internal/resilience"
	"github.com/safkaty/safkaty/internal/scrape"
)

// DefaultBaseURL is the public procurement portal.
const DefaultBaseURL = "https://www.marchespublics.gov.ma"

// Defaults applied to zero-valued Options.
const (
	DefaultMaxResults  = 20
	DefaultPoliteDelay = 800 * time.Millisecond
)

// searchEndpoints are tried in order; the portal has served results under both.
var searchEndpoints = []string{"index.php5", "index.php"}

// Enricher reads a detail page (and its lots popup).
type Enricher interface {
	Enrich(ctx context.Context, detailURL string) (*scrape.Detail, error)
}

// Recorder receives per-search and per-row outcomes, typically Prometheus
// metrics. Implementations must be safe for concurrent use.
type Recorder interface {
	SearchCompleted(tenders, degraded int, elapsed time.Duration)
	EnrichmentOutcome(outcome string)
}

// Enrichment outcomes reported to the Recorder.
const (
	OutcomeEnriched = "enriched"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "circuit_open"
)

// Options tunes a single search.
type Options struct {
	// MaxResults caps the number of search rows processed. Lots expanded
	// from one row count as one row.
	MaxResults int

	// PoliteDelay is waited between successive detail fetches.
	PoliteDelay time.Duration

	// Enrich fetches each row's detail page. Without it tenders carry only
	// what the results table shows.
	Enrich bool

	// ShouldStop is checked between rows; returning true ends the search
	// with the tenders gathered so far.
	ShouldStop func() bool
}

// DefaultOptions returns the options used by the CLI when no flags are given.
func DefaultOptions() Options {
	return Options{MaxResults: DefaultMaxResults, PoliteDelay: DefaultPoliteDelay, Enrich: true}
}

// Result is the outcome of one search.
type Result struct {
	Keyword string         `json:"keyword"`
	Tenders []model.Tender `json:"tenders"`

	// Degraded counts rows whose enrichment failed or was skipped; they are
	// still present in Tenders with their search-table fields.
	Degraded int `json:"degraded"`

	// Stopped is set when ShouldStop or the context ended the search early.
	Stopped bool `json:"stopped"`

	SearchURL string `json:"search_url"`
}

// Config wires an Orchestrator.
type Config struct {
	BaseURL  string
	Fetcher  scrape.Fetcher
	Enricher Enricher

	// Breaker guards detail enrichment. Nil disables it.
	Breaker  *resilience.CircuitBreaker
	Recorder Recorder
}

// Orchestrator runs keyword searches against the portal.
type Orchestrator struct {
	baseURL  string
	fetcher  scrape.Fetcher
	enricher Enricher
	breaker  *resilience.CircuitBreaker
	recorder Recorder
}

// New creates an Orchestrator. When cfg.Enricher is nil a scrape.Enricher
// over cfg.Fetcher is used.
func New(cfg Config) *Orchestrator {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	enricher := cfg.Enricher
	if enricher == nil {
		enricher = scrape.NewEnricher(cfg.Fetcher, base)
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Orchestrator{
		baseURL:  base,
		fetcher:  cfg.Fetcher,
		enricher: enricher,
		breaker:  cfg.Breaker,
		recorder: recorder,
	}
}

// Search runs keyword against the portal and returns the tenders found, in
// result-page order. Only a failure to load the results page is an error;
// enrichment problems degrade individual rows.
func (o *Orchestrator) Search(ctx context.Context, keyword string, opts Options) (*Result, error) {
	start := time.Now()
	keyword = strings.TrimSpace(keyword)
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.PoliteDelay < 0 {
		opts.PoliteDelay = 0
	}

	page, searchURL, err := o.fetchSearchPage(ctx, keyword)
	if err != nil {
		return nil, err
	}

	res := &Result{Keyword: keyword, SearchURL: searchURL, Tenders: []model.Tender{}}

	rows := scrape.ParseSearch(page, o.baseURL)
	if len(rows) == 0 {
		for _, link := range scrape.DetailLinks(page, o.baseURL) {
			rows = append(rows, scrape.Row{DetailURL: link})
		}
	}
	if len(rows) > opts.MaxResults {
		rows = rows[:opts.MaxResults]
	}

	log := zap.L().With(zap.String("keyword", keyword))
	log.Info("search results parsed",
		zap.String("search_url", searchURL),
		zap.Int("rows", len(rows)),
		zap.Bool("enrich", opts.Enrich),
	)

	for i, row := range rows {
		if ctx.Err() != nil || (opts.ShouldStop != nil && opts.ShouldStop()) {
			res.Stopped = true
			log.Info("search stopped early", zap.Int("rows_done", i))
			break
		}
		if i > 0 && opts.Enrich && opts.PoliteDelay > 0 {
			if !sleep(ctx, opts.PoliteDelay) {
				res.Stopped = true
				break
			}
		}

		var detail *scrape.Detail
		if opts.Enrich && row.DetailURL != "" {
			var ok bool
			detail, ok = o.enrich(ctx, row.DetailURL)
			if !ok {
				res.Degraded++
			}
		}
		res.Tenders = append(res.Tenders, merge(row, detail)...)
	}

	elapsed := time.Since(start)
	o.recorder.SearchCompleted(len(res.Tenders), res.Degraded, elapsed)
	log.Info("search complete",
		zap.Int("tenders", len(res.Tenders)),
		zap.Int("degraded", res.Degraded),
		zap.Duration("elapsed", elapsed),
	)
	return res, nil
}

// fetchSearchPage loads the results page from every endpoint and keeps the
// one listing the most detail links. It fails only when every endpoint
// fails, preferring a block over other errors.
func (o *Orchestrator) fetchSearchPage(ctx context.Context, keyword string) (string, string, error) {
	params := url.Values{
		"page":          {"entreprise.EntrepriseAdvancedSearch"},
		"keyWord":       {keyword},
		"searchAnnCons": {""},
		"lang":          {"fr"},
	}

	var (
		best     string
		bestURL  string
		bestHits = -1
		errs     []error
	)
	for _, endpoint := range searchEndpoints {
		endpointURL := o.baseURL + "/" + endpoint
		page, err := o.fetcher.Fetch(ctx, endpointURL, params, nil)
		if err != nil {
			zap.L().Warn("search endpoint failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		if hits := scrape.CountDetailLinks(page); hits > bestHits {
			best, bestURL, bestHits = page, endpointURL+"?"+params.Encode(), hits
		}
	}

	if bestHits < 0 {
		for _, err := range errs {
			if fetcher.IsBlocked(err) {
				return "", "", err
			}
		}
		return "", "", eris.Wrapf(errors.Join(errs...), "acquire: search %q", keyword)
	}
	return best, bestURL, nil
}

func (o *Orchestrator) enrich(ctx context.Context, detailURL string) (*scrape.Detail, bool) {
	if err := o.breaker.Allow(); err != nil {
		o.recorder.EnrichmentOutcome(OutcomeSkipped)
		zap.L().Debug("enrichment skipped", zap.String("detail_url", detailURL), zap.Error(err))
		return nil, false
	}

	d, err := o.enricher.Enrich(ctx, detailURL)
	o.breaker.Record(err)
	if err != nil {
		o.recorder.EnrichmentOutcome(OutcomeFailed)
		zap.L().Warn("enrichment failed, keeping search row",
			zap.String("detail_url", detailURL),
			zap.Error(err),
		)
		return nil, false
	}
	o.recorder.EnrichmentOutcome(OutcomeEnriched)
	return d, true
}

// sleep waits d or until ctx is done, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type nopRecorder struct{}

func (nopRecorder) SearchCompleted(int, int, time.Duration) {}
func (nopRecorder) EnrichmentOutcome(string)               {}
