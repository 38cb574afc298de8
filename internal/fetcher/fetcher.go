// Package fetcher retrieves the notice board listing using gocolly.
package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/metrics"
	"github.com/JakeFAU/notice-notifier/internal/notice"
)

// Attempt outcomes reported to metrics.
const (
	outcomeSuccess     = "success"
	outcomeRateLimited = "rate_limited"
	outcomeServerError = "server_error"
	outcomeClientError = "client_error"
	outcomeTimeout     = "timeout"
	outcomeNetwork     = "network"
)

const defaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Retry     RetryPolicy
}

// Fetcher implements notice.Fetcher on top of a pooled Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
	sleep         SleepFunc
	jitter        JitterFunc
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithSleep replaces the context-aware sleep between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(f *Fetcher) {
		if sleep != nil {
			f.sleep = sleep
		}
	}
}

// WithJitter replaces the random source used for jitter.
func WithJitter(jitter JitterFunc) Option {
	return func(f *Fetcher) {
		if jitter != nil {
			f.jitter = jitter
		}
	}
}

// New builds a Fetcher. The collector and its transport are created once and
// cloned per fetch so keep-alive connections survive across cycles.
func New(cfg Config, opts ...Option) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.DetectCharset = true
	c.WithTransport(newHTTPTransport())

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	// Clones share the backend client, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)
	cfg.Retry = cfg.Retry.withDefaults()

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        zap.NewNop(),
		sleep:         sleepContext,
		jitter:        randomJitter,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type attemptResult struct {
	body       []byte
	statusCode int
	header     http.Header
	err        error
}

// Fetch returns the listing markup at rawURL. Failures are *notice.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	policy := f.cfg.Retry
	if err := f.sleep(ctx, f.jitter(policy.InitialJitter)); err != nil {
		return "", &notice.FetchError{Kind: notice.FetchNetwork, URL: rawURL, Err: err}
	}

	for attempt := 1; ; attempt++ {
		res := f.attempt(ctx, rawURL)
		if ctx.Err() != nil {
			return "", &notice.FetchError{Kind: notice.FetchNetwork, URL: rawURL, Attempts: attempt, Err: ctx.Err()}
		}
		if res.err == nil {
			metrics.ObserveFetchAttempt(outcomeSuccess)
			return string(res.body), nil
		}

		fetchErr, outcome := classify(rawURL, attempt, res)
		metrics.ObserveFetchAttempt(outcome)
		if !retryable(res.statusCode) || attempt >= policy.MaxAttempts {
			return "", fetchErr
		}

		wait := f.delay(policy, attempt, res)
		f.logger.Warn("board fetch failed, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("status", res.statusCode),
			zap.Duration("wait", wait),
			zap.Error(res.err),
		)
		if err := f.sleep(ctx, wait); err != nil {
			return "", &notice.FetchError{Kind: notice.FetchNetwork, URL: rawURL, Attempts: attempt, Err: err}
		}
	}
}

func (f *Fetcher) delay(policy RetryPolicy, attempt int, res attemptResult) time.Duration {
	if res.statusCode == http.StatusTooManyRequests {
		if wait, ok := retryAfter(res.header); ok {
			return wait
		}
		wait := policy.Backoff(attempt) + f.jitter(policy.BaseDelay)
		if wait > policy.MaxDelay {
			wait = policy.MaxDelay
		}
		return wait
	}
	return policy.Backoff(attempt)
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string) attemptResult {
	done := make(chan attemptResult, 1)
	go func() {
		var res attemptResult
		collector := f.buildCollector(&res)
		if err := collector.Visit(rawURL); err != nil && res.err == nil {
			res.err = err
		}
		done <- res
	}()

	select {
	case <-ctx.Done():
		return attemptResult{err: ctx.Err()}
	case res := <-done:
		return res
	}
}

func (f *Fetcher) buildCollector(res *attemptResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
		r.Headers.Set("Cache-Control", "no-cache")
		r.Headers.Set("Connection", "keep-alive")
	})
	collector.OnResponse(func(r *colly.Response) {
		res.statusCode = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		res.err = err
		if r == nil {
			return
		}
		res.statusCode = r.StatusCode
		if r.Headers != nil {
			res.header = r.Headers.Clone()
		}
	})
	return collector
}

func classify(rawURL string, attempt int, res attemptResult) (*notice.FetchError, string) {
	fe := &notice.FetchError{URL: rawURL, Attempts: attempt, StatusCode: res.statusCode, Err: res.err}
	switch {
	case res.statusCode == http.StatusTooManyRequests:
		fe.Kind = notice.FetchHTTP
		return fe, outcomeRateLimited
	case res.statusCode >= http.StatusInternalServerError:
		fe.Kind = notice.FetchHTTP
		return fe, outcomeServerError
	case res.statusCode != 0:
		fe.Kind = notice.FetchHTTP
		return fe, outcomeClientError
	case isTimeout(res.err):
		fe.Kind = notice.FetchTimeout
		return fe, outcomeTimeout
	default:
		fe.Kind = notice.FetchNetwork
		return fe, outcomeNetwork
	}
}

// retryable reports whether a failed attempt with the given status may be
// retried. Status 0 means no response was received.
func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
