package clonechat

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Call is the retry adapter: the only place a platform call is allowed to
// block forward progress with a sleep. It wraps a single platform
// round-trip fn, classifies any error into {RateLimited, Transient,
// Permanent}, and applies the policy for each.
//
//   - RateLimited(N): sleep N+jitter, retry the same call indefinitely; does
//     not count against the Transient retry budget.
//   - Transient: bounded exponential backoff, base 2s, cap 60s, K=5 attempts,
//     additive jitter in [0,1s]; re-raised as Permanent on exhaustion.
//   - Permanent (and anything unclassified): propagated immediately.
func Call[T any](ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = discardLogger
	}
	for {
		result, err := callWithBackoff(ctx, logger, op, fn)
		if err == nil {
			return result, nil
		}

		var rl *ErrRateLimited
		if errors.As(err, &rl) {
			wait := rl.RetryAfter() + jitter(time.Second)
			logger.Warn("rate limited, sleeping", "op", op, "wait", wait)
			select {
			case <-ctx.Done():
				var zero T
				return zero, &ErrInterrupted{}
			case <-time.After(wait):
			}
			continue
		}

		return result, err
	}
}

func callWithBackoff[T any](ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var rl *ErrRateLimited
		if errors.As(err, &rl) {
			// Surface to the outer loop in Call untouched; do not retry here.
			return result, backoff.Permanent(err)
		}

		var transient *ErrTransient
		if errors.As(err, &transient) {
			attempt++
			logger.Warn("transient error, retrying", "op", op, "attempt", attempt, "err", err)
			return result, err
		}

		// Permanent, Restricted, Unsupported, ExternalTool, or anything
		// unclassified: never retried.
		return result, backoff.Permanent(err)
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(newTransientBackOff()),
		backoff.WithMaxTries(5),
	)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, context.Canceled) {
		return result, &ErrInterrupted{}
	}

	var transient *ErrTransient
	if errors.As(err, &transient) {
		// Exhausted the retry budget: promote to permanent.
		return result, &ErrPermanent{Op: op, Err: transient}
	}
	return result, err
}

// transientBackOff implements backoff.BackOff with the policy the adapter
// promises: base * 2^attempt, capped at 60s, plus additive jitter in
// [0,1s]. cenkalti/backoff/v5's built-in ExponentialBackOff applies
// multiplicative jitter instead, so this is a small custom implementation
// rather than a reach for a flag the library doesn't expose.
type transientBackOff struct {
	attempt int
}

func newTransientBackOff() *transientBackOff { return &transientBackOff{} }

const (
	retryBase = 2 * time.Second
	retryCap  = 60 * time.Second
)

func (b *transientBackOff) NextBackOff() time.Duration {
	exp := retryBase * time.Duration(int64(1)<<uint(b.attempt))
	if exp > retryCap || exp <= 0 {
		exp = retryCap
	}
	b.attempt++
	return exp + jitter(time.Second)
}

func (b *transientBackOff) Reset() { b.attempt = 0 }

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

var discardLogger = slog.New(slog.NewTextHandler(discardWriter{}, nil))

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
