// Package retry wraps fallible operations with bounded exponential backoff.
// Every outbound network call in the engine goes through Do so that
// transient failures (connection resets, timeouts, throttling, upstream 5xx)
// are absorbed without manual intervention, while structural failures
// surface immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"syscall"
	"time"
)

// Policy configures the backoff behavior. Delay before retry n is
// min(BaseDelay * Multiplier^n, MaxDelay). No jitter: the engine is
// single-flight per tenant, so thundering-herd smearing buys nothing.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultPolicy returns the standard engine-wide retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1000 * time.Millisecond,
		MaxDelay:   30000 * time.Millisecond,
		Multiplier: 2,
	}
}

// Delay computes the backoff delay for retry attempt n (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// HTTPStatusError carries an HTTP response status through the error chain so
// the transient classifier can inspect it. Clients return this for non-2xx
// responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}

// transientStatuses are the HTTP statuses worth retrying: throttling and
// upstream-side failures. 4xx other than 429 indicate a request problem that
// a retry cannot fix.
var transientStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsTransient classifies an error as retryable. Transient means either a
// low-level connection failure (reset, timeout, refused, DNS) or an HTTP
// status in {429, 500, 502, 503, 504}.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return transientStatuses[statusErr.StatusCode]
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ETIMEDOUT):
		return true
	}

	return false
}

// Retrier executes operations under a Policy. The sleep function is
// injectable so tests run without real delays.
type Retrier struct {
	policy Policy
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

// Option is a functional option for configuring a Retrier.
type Option func(*Retrier)

// WithSleepFunc overrides the sleep function used between attempts.
func WithSleepFunc(fn func(context.Context, time.Duration) error) Option {
	return func(r *Retrier) {
		r.sleep = fn
	}
}

// New creates a Retrier with the given policy.
func New(policy Policy, logger *slog.Logger, opts ...Option) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retrier{
		policy: policy,
		logger: logger,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do executes op, retrying transient failures up to MaxRetries additional
// times. opName appears in every retry and terminal-failure log line.
// Non-transient errors and retry exhaustion both return the last error.
func Do[T any](ctx context.Context, r *Retrier, opName string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == r.policy.MaxRetries {
			r.logger.ErrorContext(ctx, "operation failed permanently",
				"operation", opName,
				"attempt", attempt+1,
				"max_retries", r.policy.MaxRetries,
				"error", err,
			)
			return zero, lastErr
		}

		delay := r.policy.Delay(attempt)
		r.logger.WarnContext(ctx, "operation failed, retrying",
			"operation", opName,
			"attempt", attempt+1,
			"max_retries", r.policy.MaxRetries,
			"next_retry_ms", delay.Milliseconds(),
			"error", err,
		)

		if err := r.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}
