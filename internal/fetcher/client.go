// Package fetcher retrieves portal pages over HTTP with retry, block
// detection and optional per-host rate limiting.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/safkaty/safkaty/internal/resilience"
)

const (
	// DefaultUserAgent mimics a desktop browser; the portal serves a reduced
	// page to unknown agents.
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	DefaultAcceptLanguage = "fr-FR,fr;q=0.9,en;q=0.6"
	DefaultTimeout        = 40 * time.Second
)

// Attempt describes one HTTP attempt, reported to the Observer.
type Attempt struct {
	URL     string
	Host    string
	Number  int
	Status  int
	Verdict resilience.Verdict
	Err     error
}

// Observer receives every attempt outcome. It must not block.
type Observer func(Attempt)

// Options configures a Client.
type Options struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	Retry          resilience.RetryConfig

	// RequestsPerSecond caps requests per host. Zero means unlimited until
	// the host throttles us; see ThrottledRate.
	RequestsPerSecond float64

	Observer Observer

	// Transport overrides the default HTTP transport (tests).
	Transport http.RoundTripper
}

// Client fetches portal pages. It is safe for concurrent use.
type Client struct {
	http *http.Client
	opts Options

	mu       sync.Mutex
	limiters map[string]*hostLimiter
	lastURL  string
}

// New creates a Client, filling unset options with defaults.
func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = DefaultAcceptLanguage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		onRetry := opts.Retry.OnRetry
		opts.Retry = resilience.DefaultRetryConfig()
		opts.Retry.OnRetry = onRetry
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("portal", "fetch")
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*hostLimiter),
	}
}

// LastURL returns the final URL (after redirects) of the most recent
// response, for diagnostics.
func (c *Client) LastURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastURL
}

// Fetch GETs rawURL with params appended to its query and returns the body.
// Per-call headers override the client defaults. A page that looks like an
// anti-bot challenge yields *BlockedError without further attempts; running
// out of attempts yields *FetchFailedError.
func (c *Client) Fetch(ctx context.Context, rawURL string, params url.Values, headers http.Header) (string, error) {
	target, err := buildURL(rawURL, params)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: build url %s", rawURL)
	}

	number := 0
	res := resilience.Run(ctx, c.opts.Retry, func(ctx context.Context) resilience.Outcome[string] {
		number++
		out, status := c.attempt(ctx, target, headers)
		c.observe(Attempt{
			URL:     target.String(),
			Host:    target.Host,
			Number:  number,
			Status:  status,
			Verdict: out.Verdict,
			Err:     out.Err,
		})
		return out
	})

	switch res.Verdict {
	case resilience.Done:
		return res.Value, nil
	case resilience.Abort:
		return "", res.Err
	default:
		cause := res.Err
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = ctxErr
		}
		return "", &FetchFailedError{URL: target.String(), Attempts: res.Attempts, Cause: cause}
	}
}

func (c *Client) attempt(ctx context.Context, target *url.URL, headers http.Header) (resilience.Outcome[string], int) {
	limiter := c.limiterFor(target.Host)
	if err := limiter.Wait(ctx); err != nil {
		return resilience.Transient[string](eris.Wrap(err, "fetcher: rate limiter wait")), 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return resilience.Fatal[string](eris.Wrap(err, "fetcher: create request")), 0
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept-Language", c.opts.AcceptLanguage)
	for k, vs := range headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return resilience.Transient[string](eris.Wrapf(err, "fetcher: get %s", target.Redacted())), 0
	}
	defer resp.Body.Close() //nolint:errcheck

	c.mu.Lock()
	c.lastURL = resp.Request.URL.String()
	c.mu.Unlock()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.Transient[string](eris.Wrapf(err, "fetcher: read body %s", target.Redacted())), resp.StatusCode
	}
	body := string(data)

	if marker := DetectBlock(body); marker != "" {
		zap.L().Warn("portal block page detected",
			zap.String("url", target.String()),
			zap.String("marker", marker),
			zap.Int("status", resp.StatusCode),
		)
		return resilience.Fatal[string](&BlockedError{URL: target.String(), Marker: marker}), resp.StatusCode
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		limiter.onThrottle()
	case resp.StatusCode < 400:
		limiter.onSuccess()
	}

	if resilience.RetryableStatus(resp.StatusCode) {
		err := eris.Errorf("fetcher: http %d from %s", resp.StatusCode, target.Redacted())
		return resilience.Transient[string](resilience.NewTransientError(err, resp.StatusCode)), resp.StatusCode
	}

	return resilience.Succeed(body), resp.StatusCode
}

func (c *Client) limiterFor(host string) *hostLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		limit := rate.Inf
		if c.opts.RequestsPerSecond > 0 {
			limit = rate.Limit(c.opts.RequestsPerSecond)
		}
		lim = newHostLimiter(host, limit)
		c.limiters[host] = lim
	}
	return lim
}

func (c *Client) observe(a Attempt) {
	if c.opts.Observer != nil {
		c.opts.Observer(a)
	}
}

func buildURL(rawURL string, params url.Values) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, eris.Errorf("not an absolute url: %q", rawURL)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			q.Del(k)
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}
