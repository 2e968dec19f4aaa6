package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"github.com/wudi/mediaproxy/internal/config"
	proxyerrors "github.com/wudi/mediaproxy/internal/errors"
	"github.com/wudi/mediaproxy/internal/logging"
	"github.com/wudi/mediaproxy/internal/metrics"
	"github.com/wudi/mediaproxy/internal/tracing"
	"go.uber.org/zap"
)

// DefaultRetryableStatuses are retried when retries are enabled.
var DefaultRetryableStatuses = []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}

// Request describes one logical upstream call. Body is replayed on retries.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Client performs upstream calls with an optional timeout, bounded retry and
// circuit breaker. A Client is immutable and safe for concurrent use.
type Client struct {
	name        string
	http        *http.Client
	timeout     time.Duration
	maxAttempts int
	retry       config.RetryConfig
	retryable   map[int]bool
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	metrics     *metrics.Collector
	tracer      *tracing.Tracer
}

// Options are the collaborators a Client reports to. Both may be nil.
type Options struct {
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
}

// NewClient creates a client named name (used as the metrics label) over a
// shared transport.
func NewClient(name string, transport http.RoundTripper, cfg config.UpstreamConfig, opts Options) *Client {
	c := &Client{
		name:        name,
		http:        &http.Client{Transport: transport},
		timeout:     cfg.Timeout,
		maxAttempts: cfg.Retry.MaxAttempts,
		retry:       cfg.Retry,
		retryable:   make(map[int]bool),
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}

	statuses := cfg.Retry.RetryableStatuses
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses
	}
	for _, s := range statuses {
		c.retryable[s] = true
	}

	if cb := cfg.CircuitBreaker; cb.Enabled {
		c.breaker = newBreaker(name, cb)
	}
	return c
}

func newBreaker(name string, cfg config.CircuitBreakerConfig) *gobreaker.CircuitBreaker[*http.Response] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}

	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("upstream circuit breaker state change",
				zap.String("upstream", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// statusError marks a 5xx response so the breaker counts it as a failure
// while the response itself is still handed back.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.code)
}

// Do performs req. A returned response may carry any status; the caller owns
// its body. A transport failure after all attempts, or an open breaker,
// yields an error of kind UpstreamUnreachable.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	start := time.Now()

	var cancel context.CancelFunc = func() {}
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		cancel()
		outcome := metrics.OutcomeError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = metrics.OutcomeCircuitOpen
		}
		c.metrics.RecordUpstream(c.name, outcome, time.Since(start))
		return nil, proxyerrors.ErrUpstreamUnreachable.Wrap(err)
	}

	outcome := metrics.OutcomeSuccess
	if resp.StatusCode >= 400 {
		outcome = metrics.OutcomeStatus
	}
	c.metrics.RecordUpstream(c.name, outcome, time.Since(start))

	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) doWithRetry(ctx context.Context, req Request) (*http.Response, error) {
	if c.maxAttempts == 1 {
		resp, err := c.attempt(ctx, req)
		var se *statusError
		if errors.As(err, &se) {
			return resp, nil
		}
		return resp, err
	}

	idempotent := isIdempotent(req.Method)
	attempts := 0
	var resp *http.Response

	op := func() error {
		attempts++
		r, err := c.attempt(ctx, req)
		if err == nil {
			resp = r
			return nil
		}

		var se *statusError
		if errors.As(err, &se) {
			if !idempotent || !c.retryable[se.code] || attempts >= c.maxAttempts {
				resp = r
				return nil
			}
			drain(r.Body)
			return err
		}
		if !idempotent {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logging.Debug("retrying upstream call",
			zap.String("upstream", c.name),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	if c.retry.InitialBackoff > 0 {
		b.InitialInterval = c.retry.InitialBackoff
	}
	if c.retry.MaxBackoff > 0 {
		b.MaxInterval = c.retry.MaxBackoff
	}
	if c.retry.BackoffMultiplier > 0 {
		b.Multiplier = c.retry.BackoffMultiplier
	}
	b.MaxElapsedTime = 0 // bounded by attempts instead
	b.Reset()
	return b
}

// attempt performs a single round trip through the breaker, if any.
func (c *Client) attempt(ctx context.Context, req Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.roundTrip(ctx, req)
	}
	return c.breaker.Execute(func() (*http.Response, error) {
		return c.roundTrip(ctx, req)
	})
}

func (c *Client) roundTrip(ctx context.Context, req Request) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}

	spanCtx, span := c.tracer.StartSpan(ctx, "upstream "+c.name)
	defer span.End()
	tracing.InjectHeaders(spanCtx, httpReq.Header)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return resp, &statusError{code: resp.StatusCode}
	}
	return resp, nil
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

// drain discards a bounded amount of a body so the connection can be reused.
func drain(rc io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	rc.Close()
}

// cancelBody releases the per-call timeout once the caller is done with
// the body.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
