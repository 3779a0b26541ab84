package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Policy holds the backoff schedule for a retried call
type Policy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultPolicy suits short outbound calls such as mail delivery.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Func is a call that can be retried
type Func[T any] func(ctx context.Context) (T, error)

// Do runs fn until it succeeds, returns a permanent error, or the policy is
// exhausted. Backoff sleeps are cut short by ctx.
func Do[T any](ctx context.Context, p Policy, log *slog.Logger, op string, fn Func[T]) (T, error) {
	var zero T
	var lastErr error
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if log == nil {
		log = slog.Default()
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}

		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}
		wait := p.backoff(attempt - 1)
		log.Warn("operation failed, retrying",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.MaxAttempts),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("operation '%s' failed after %d attempts: %w", op, p.MaxAttempts, lastErr)
}

func (p Policy) backoff(n int) time.Duration {
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	d := time.Duration(float64(p.InitialBackoff) * math.Pow(mult, float64(n)))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}
