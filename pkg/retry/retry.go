// Package retry provides the single retry policy shared by oracle, embedding,
// object-store and index call sites. Only errors classified as transient are
// retried; contract violations and validation failures surface on the first
// attempt.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

// Policy governs how failed calls are retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff" json:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier" json:"backoff_multiplier"`
	// Jitter is the randomization factor applied to each interval (0.25 = ±25%).
	Jitter float64 `mapstructure:"jitter" yaml:"jitter" json:"jitter"`

	// Retryable overrides the transient classification. Nil uses errors.IsTransient.
	Retryable func(error) bool `mapstructure:"-" yaml:"-" json:"-"`
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration) `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultPolicy returns three attempts with exponential backoff from 1s to 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.25,
	}
}

// WithOnRetry returns a copy of p that reports retries to fn.
func (p Policy) WithOnRetry(fn func(attempt int, err error, wait time.Duration)) Policy {
	p.OnRetry = fn
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialBackoff
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = time.Millisecond
	}
	eb.MaxInterval = p.MaxBackoff
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	eb.Multiplier = p.BackoffMultiplier
	if eb.Multiplier < 1 {
		eb.Multiplier = 2.0
	}
	eb.RandomizationFactor = p.Jitter
	if eb.RandomizationFactor < 0 || eb.RandomizationFactor >= 1 {
		eb.RandomizationFactor = 0
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return apperrors.IsTransient(err)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. The last error from fn is returned as is.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := fn(ctx)
		if err != nil && !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, wait time.Duration) { p.OnRetry(attempt, err, wait) }
	}
	return backoff.RetryNotify(op, p.backOff(ctx), notify)
}

// Do is the value-returning form of Policy.Do.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
