package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safkaty/safkaty/internal/acquire"
	"github.com/safkaty/safkaty/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeSearcher blocks until release is closed, then returns res/err. It
// records the options it was called with.
type fakeSearcher struct {
	release chan struct{}
	res     *acquire.Result
	err     error

	mu   sync.Mutex
	opts acquire.Options
}

func newFake(res *acquire.Result, err error) *fakeSearcher {
	return &fakeSearcher{release: make(chan struct{}), res: res, err: err}
}

func (f *fakeSearcher) Search(ctx context.Context, keyword string, opts acquire.Options) (*acquire.Result, error) {
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.res, f.err
}

func (f *fakeSearcher) lastOpts() acquire.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts
}

func pollUntil(t *testing.T, r *Runner) Delivery {
	t.Helper()
	var d Delivery
	require.Eventually(t, func() bool {
		var ok bool
		d, ok = r.Poll()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return d
}

func TestRunner_StartPollDeliver(t *testing.T) {
	t.Parallel()

	res := &acquire.Result{Keyword: "terrain", Tenders: []model.Tender{{Reference: "A"}, {Reference: "B"}}}
	f := newFake(res, nil)
	r := New(f, acquire.Options{MaxResults: 20, Enrich: true})

	var transitions []string
	r.OnStateChange(func(from, to State) { transitions = append(transitions, from.String()+">"+to.String()) })

	id, err := r.Start(context.Background(), "terrain", 5)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, Running, r.State())
	assert.Equal(t, id, r.RunID())

	_, ok := r.Poll()
	assert.False(t, ok, "nothing to deliver while running")

	close(f.release)
	d := pollUntil(t, r)

	assert.Equal(t, id, d.RunID)
	assert.Equal(t, "terrain", d.Keyword)
	require.NoError(t, d.Err)
	assert.Len(t, d.Result.Tenders, 2)
	assert.Equal(t, Idle, r.State())
	assert.Empty(t, r.RunID())
	assert.Equal(t, []string{"idle>running", "running>delivering", "delivering>idle"}, transitions)

	opts := f.lastOpts()
	assert.Equal(t, 5, opts.MaxResults)
	assert.True(t, opts.Enrich)
	require.NotNil(t, opts.ShouldStop)
	assert.False(t, opts.ShouldStop())
}

func TestRunner_Busy(t *testing.T) {
	t.Parallel()

	f := newFake(&acquire.Result{}, nil)
	r := New(f, acquire.Options{})

	_, err := r.Start(context.Background(), "a", 0)
	require.NoError(t, err)
	_, err = r.Start(context.Background(), "b", 0)
	assert.ErrorIs(t, err, ErrBusy)

	close(f.release)
	pollUntil(t, r)

	// Collected, so a new run may start.
	_, err = r.Start(context.Background(), "c", 0)
	assert.NoError(t, err)
}

func TestRunner_Failure(t *testing.T) {
	t.Parallel()

	boom := errors.New("blocked")
	f := newFake(nil, boom)
	r := New(f, acquire.Options{})

	var sawFailed bool
	r.OnStateChange(func(_, to State) {
		if to == Failed {
			sawFailed = true
		}
	})

	_, err := r.Start(context.Background(), "a", 0)
	require.NoError(t, err)
	close(f.release)

	d := pollUntil(t, r)
	assert.ErrorIs(t, d.Err, boom)
	assert.Nil(t, d.Result)
	assert.True(t, sawFailed)
	assert.Equal(t, Idle, r.State())
}

func TestRunner_Cancel(t *testing.T) {
	t.Parallel()

	f := newFake(&acquire.Result{}, nil)
	r := New(f, acquire.Options{})

	_, err := r.Start(context.Background(), "a", 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.lastOpts().ShouldStop != nil }, time.Second, time.Millisecond)

	r.Cancel()
	assert.True(t, f.lastOpts().ShouldStop())

	close(f.release)
	pollUntil(t, r)

	// A new run starts with the flag cleared.
	f2 := newFake(&acquire.Result{}, nil)
	r.searcher = f2
	_, err = r.Start(context.Background(), "b", 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f2.lastOpts().ShouldStop != nil }, time.Second, time.Millisecond)
	assert.False(t, f2.lastOpts().ShouldStop())
	close(f2.release)
}

func TestRunner_ContextEndsRun(t *testing.T) {
	t.Parallel()

	f := newFake(&acquire.Result{}, nil)
	r := New(f, acquire.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := r.Start(ctx, "a", 0)
	require.NoError(t, err)
	cancel()

	d, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, d.Err, context.Canceled)
	assert.Equal(t, Idle, r.State())
}

func TestRunner_PollLoop(t *testing.T) {
	t.Parallel()

	f := newFake(&acquire.Result{Keyword: "x"}, nil)
	r := New(f, acquire.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Delivery, 1)
	done := make(chan error, 1)
	go func() {
		done <- r.PollLoop(ctx, 10*time.Millisecond, func(d Delivery) { got <- d })
	}()

	id, err := r.Start(context.Background(), "x", 0)
	require.NoError(t, err)
	close(f.release)

	select {
	case d := <-got:
		assert.Equal(t, id, d.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunner_WaitHonorsContext(t *testing.T) {
	t.Parallel()

	r := New(newFake(nil, nil), acquire.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "delivering", Delivering.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(42).String())
}
