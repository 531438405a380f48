// Package retry wraps fallible remote calls with bounded, classification-aware
// backoff. Rate limits are always worth waiting for (within the attempt
// budget), credential and not-found failures are never worth retrying, and
// everything else gets capped exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/codespace-tools/warden/internal/gh"
	"github.com/codespace-tools/warden/internal/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
)

// Retrier executes operations with retry and exponential backoff.
// The zero value is not usable; construct with New.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger

	// sleep is swappable in tests so backoff assertions don't need a clock.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(r *Retrier) {
		if n >= 1 {
			r.maxAttempts = n
		}
	}
}

// WithBaseDelay overrides the exponential backoff base.
func WithBaseDelay(d time.Duration) Option {
	return func(r *Retrier) {
		if d > 0 {
			r.baseDelay = d
		}
	}
}

// WithSleep replaces the sleep function. Test hook.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) {
		r.sleep = fn
	}
}

// New creates a Retrier with the default attempt budget and backoff base.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      log.WithComponent("retry"),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op until it succeeds, fails permanently, or the attempt budget is
// exhausted, in which case the last error is returned. name labels log lines.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		kind := gh.KindOf(lastErr)
		switch kind {
		case gh.KindAuthFailure, gh.KindForbidden, gh.KindNotFound:
			// Not transient. Retrying cannot help.
			return lastErr
		case gh.KindRateLimited:
			if attempt == r.maxAttempts-1 {
				break
			}
			delay := gh.RetryAfterOf(lastErr)
			if delay <= 0 {
				delay = r.backoff(attempt)
			}
			r.logger.Warn("rate limited, waiting before retry",
				"operation", name, "attempt", attempt+1, "delay", delay)
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		default: // transient
			if attempt == r.maxAttempts-1 {
				break
			}
			delay := r.backoff(attempt)
			r.logger.Warn("transient failure, retrying",
				"operation", name, "attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	r.logger.Error("retry budget exhausted", "operation", name, "attempts", r.maxAttempts, "error", lastErr)
	return lastErr
}

// DoValue is Do for operations that produce a result.
func DoValue[T any](ctx context.Context, r *Retrier, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, name, func(ctx context.Context) error {
		var opErr error
		out, opErr = op(ctx)
		return opErr
	})
	return out, err
}

// backoff returns baseDelay * 2^attempt.
func (r *Retrier) backoff(attempt int) time.Duration {
	return r.baseDelay * (1 << attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
