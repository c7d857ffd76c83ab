package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy controls how many times a request is attempted and how long
// the client waits between attempts. Only transient failures are retried:
// transport errors, attempt timeouts and the statuses in Retryable.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Retryable      []int
}

// DefaultRetryPolicy makes three attempts with 1s, 2s backoff and retries
// rate limiting and gateway-style server errors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Retryable: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Retryable == nil {
		p.Retryable = def.Retryable
	}
	return p
}

// Backoff is the wait before attempt n+1 after n failed attempts (n >= 1).
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := float64(p.InitialBackoff)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	return time.Duration(d)
}

func (p RetryPolicy) retryableStatus(status int) bool {
	for _, s := range p.Retryable {
		if s == status {
			return true
		}
	}
	return false
}

// retryAfter reads a Retry-After header given in seconds or as a date.
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// attemptFunc performs one request attempt. The context carries the
// per-attempt timeout and must bound any body streaming the attempt does.
type attemptFunc func(ctx context.Context) error

// retry runs fn until it succeeds, fails permanently, or the attempt budget
// is spent. onRetry is called before each wait. The last error is returned
// unchanged so callers can still match it.
func (c *Client) retry(ctx context.Context, op, target string, onRetry func(attempt int, err error), fn attemptFunc) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := c.policy.Backoff(attempt - 1)
			var se *StatusError
			if errors.As(lastErr, &se) && se.RetryAfter > 0 {
				wait = min(se.RetryAfter, c.policy.MaxBackoff)
			}
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			c.logger.Warn("transient failure, retrying",
				"op", op,
				"target", target,
				"attempt", attempt,
				"backoff", wait,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			case <-time.After(wait):
			}
		}

		actx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		err := fn(actx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		lastErr = c.classify(op, target, err)
		if !errors.Is(lastErr, ErrTransient) {
			return attempt, lastErr
		}
	}
	return c.policy.MaxAttempts, lastErr
}

// classify marks transport failures as transient. Status errors already
// know whether they are.
func (c *Client) classify(op, target string, err error) error {
	var se *StatusError
	if errors.As(err, &se) || errors.Is(err, ErrTransient) || errors.Is(err, ErrIntegrityMismatch) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%s %s: %w: %v", op, target, ErrTransient, err)
	}
	return err
}
