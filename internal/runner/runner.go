// Package runner executes portal searches on a background goroutine and
// hands the results back to the owner through a single-consumer queue.
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/safkaty/safkaty/internal/acquire"
)

// DefaultPollInterval is how often PollLoop drains the queue.
const DefaultPollInterval = 100 * time.Millisecond

// ErrBusy is returned by Start while a previous run has not been collected.
var ErrBusy = eris.New("runner: a search is already running")

// State is the runner lifecycle state.
type State int

const (
	// Idle accepts a new run.
	Idle State = iota
	// Running has a search in flight.
	Running
	// Delivering is passed through while a successful result is collected.
	Delivering
	// Failed is passed through while a failed run is collected.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Delivering:
		return "delivering"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Searcher is the part of the orchestrator the runner drives.
type Searcher interface {
	Search(ctx context.Context, keyword string, opts acquire.Options) (*acquire.Result, error)
}

// Delivery is the message a worker posts when its run ends.
type Delivery struct {
	RunID    string          `json:"run_id"`
	Keyword  string          `json:"keyword"`
	Result   *acquire.Result `json:"result,omitempty"`
	Err      error           `json:"-"`
	Finished time.Time       `json:"finished_at"`
}

// Runner runs at most one search at a time. Start, Poll and State are meant
// for the owning goroutine; the worker only ever writes to the queue.
type Runner struct {
	searcher Searcher
	base     acquire.Options

	mu      sync.Mutex
	state   State
	runID   string
	onState func(from, to State)

	cancel atomic.Bool
	queue  chan Delivery
}

// New creates an idle Runner. base supplies the options used for every run;
// MaxResults is overridden per Start call.
func New(s Searcher, base acquire.Options) *Runner {
	return &Runner{
		searcher: s,
		base:     base,
		queue:    make(chan Delivery, 1),
	}
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start launches a search for keyword and returns its run id. ctx bounds the
// whole run. It fails with ErrBusy unless the runner is Idle.
func (r *Runner) Start(ctx context.Context, keyword string, maxResults int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return "", ErrBusy
	}

	id := uuid.NewString()
	r.setState(Running)
	r.runID = id
	r.cancel.Store(false)

	opts := r.base
	if maxResults > 0 {
		opts.MaxResults = maxResults
	}
	opts.ShouldStop = r.cancel.Load

	zap.L().Info("search run started",
		zap.String("run_id", id),
		zap.String("keyword", keyword),
		zap.Int("max_results", opts.MaxResults),
	)

	go r.work(ctx, id, keyword, opts)
	return id, nil
}

func (r *Runner) work(ctx context.Context, id, keyword string, opts acquire.Options) {
	res, err := r.searcher.Search(ctx, keyword, opts)
	r.queue <- Delivery{
		RunID:    id,
		Keyword:  keyword,
		Result:   res,
		Err:      err,
		Finished: time.Now(),
	}
}

// Cancel asks the running search to stop before its next row. Requests
// already in flight complete.
func (r *Runner) Cancel() {
	r.cancel.Store(true)
}

// Poll collects a finished run without blocking. It returns false while
// nothing is ready. A collected run passes through Delivering or Failed and
// leaves the runner Idle.
func (r *Runner) Poll() (Delivery, bool) {
	select {
	case d := <-r.queue:
		r.collect(d)
		return d, true
	default:
		return Delivery{}, false
	}
}

func (r *Runner) collect(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.Err != nil {
		r.setState(Failed)
		zap.L().Warn("search run failed", zap.String("run_id", d.RunID), zap.Error(d.Err))
	} else {
		r.setState(Delivering)
		var tenders, degraded int
		if d.Result != nil {
			tenders, degraded = len(d.Result.Tenders), d.Result.Degraded
		}
		zap.L().Info("search run delivered",
			zap.String("run_id", d.RunID),
			zap.Int("tenders", tenders),
			zap.Int("degraded", degraded),
		)
	}
	r.setState(Idle)
	r.runID = ""
}

// setState must be called with mu held.
func (r *Runner) setState(to State) {
	from := r.state
	r.state = to
	if r.onState != nil && from != to {
		r.onState(from, to)
	}
}

// OnStateChange registers fn to be called on every state transition. It is
// called with the runner's lock held and must not call back into the runner.
func (r *Runner) OnStateChange(fn func(from, to State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onState = fn
}

// RunID returns the id of the run in progress, or "" when Idle.
func (r *Runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// PollLoop calls Poll every interval until ctx is done, passing each
// delivery to fn on the calling goroutine.
func (r *Runner) PollLoop(ctx context.Context, interval time.Duration, fn func(Delivery)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if d, ok := r.Poll(); ok {
				fn(d)
			}
		}
	}
}

// Wait blocks until the current run is delivered or ctx is done. It is the
// blocking counterpart of Poll for callers with nothing else to do.
func (r *Runner) Wait(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	case d := <-r.queue:
		r.collect(d)
		return d, nil
	}
}
