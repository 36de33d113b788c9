// Package retry wraps fallible remote calls with bounded exponential
// backoff.
//
// A Policy is a pure configuration value threaded explicitly to every call
// site; there is no ambient retry state. The executor sleeps through an
// injectable clock so tests drive timing deterministically with a fake.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/ducktools/ducksync/internal/syncerr"
)

// Policy configures bounded exponential backoff for one operation.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries uint

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// Multiplier grows the delay between consecutive retries.
	Multiplier float64

	// Jitter randomly perturbs each delay within ±50% when set.
	Jitter bool
}

// DefaultPolicy mirrors the shipped configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// backOff builds the interval generator for one execution. A fresh one is
// created per call so executions never share backoff state.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialBackoff
	bo.MaxInterval = p.MaxBackoff
	bo.Multiplier = p.Multiplier
	bo.MaxElapsedTime = 0 // attempts are bounded by MaxRetries, not wall time
	if p.Jitter {
		bo.RandomizationFactor = 0.5
	} else {
		bo.RandomizationFactor = 0
	}
	bo.Reset()
	return bo
}

// Do runs op, retrying retryable failures (per syncerr.IsRetryable) with
// the policy's backoff. Non-retryable failures propagate immediately
// without sleeping. Exhausting retries surfaces the last error, annotated
// with the attempt count. onRetry, if non-nil, is invoked before each sleep.
func Do(ctx context.Context, clock clockwork.Clock, p Policy, onRetry func(err error, next time.Duration), op func() error) error {
	bo := p.backOff()

	var attempt uint
	for {
		err := op()
		if err == nil {
			return nil
		}

		if !syncerr.IsRetryable(err) {
			return err
		}

		if attempt >= p.MaxRetries {
			return fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		next := bo.NextBackOff()
		if next == backoff.Stop {
			return fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		if onRetry != nil {
			onRetry(err, next)
		}

		select {
		case <-clock.After(next):
		case <-ctx.Done():
			return ctx.Err()
		}
		attempt++
	}
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, clock clockwork.Clock, p Policy, onRetry func(err error, next time.Duration), op func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, clock, p, onRetry, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
