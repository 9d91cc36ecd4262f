// Package retry provides a bounded exponential backoff retry policy
// for calls that may fail with transient transport errors.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/cwagent/pkg", "retry")

// Policy defines retry behavior
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
	// InitialDelay is the wait before the second attempt
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	// MaxDelay caps the wait between attempts
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`
	// BackoffMultiplier is applied to the delay after every attempt
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultPolicy returns 3 attempts with 1s, 2s... waits capped at 10s
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// CalculateDelay returns the wait after the given number of failed attempts,
// starting with InitialDelay after the first failure.
func (p *Policy) CalculateDelay(failedAttempts int) time.Duration {
	if failedAttempts <= 1 {
		return min(p.InitialDelay, p.MaxDelay)
	}

	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(failedAttempts-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Validate checks if the retry policy configuration is valid
func (p *Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("MaxAttempts must be positive")
	}
	if p.InitialDelay < 0 {
		return errors.New("InitialDelay must be non-negative")
	}
	if p.MaxDelay < p.InitialDelay {
		return errors.New("InitialDelay cannot be greater than MaxDelay")
	}
	if p.BackoffMultiplier < 1 {
		return errors.New("BackoffMultiplier must be at least 1")
	}
	return nil
}

// Retrier runs functions under a Policy
type Retrier struct {
	policy    Policy
	retriable func(error) bool
	onRetry   func(attempt int, err error)
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures Retrier
type Option func(*Retrier)

// WithRetriable sets the classifier of errors worth another attempt.
// By default every error is retried.
func WithRetriable(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.retriable = fn
	}
}

// WithOnRetry sets a hook called before waiting for the next attempt
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// WithSleep replaces the wait function, used in tests
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) {
		r.sleep = fn
	}
}

// New returns Retrier
func New(policy Policy, opts ...Option) *Retrier {
	r := &Retrier{
		policy:    policy,
		retriable: func(error) bool { return true },
		sleep:     sleepContext,
	}
	if r.policy.MaxAttempts < 1 {
		r.policy.MaxAttempts = 1
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the policy in use
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do calls fn until it succeeds, returns a non-retriable error,
// or MaxAttempts is reached. The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= r.policy.MaxAttempts || !r.retriable(err) {
			return err
		}

		delay := r.policy.CalculateDelay(attempt)
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "retrying",
			"attempt", attempt,
			"delay", delay.String(),
			"err", err.Error(),
		)
		if r.onRetry != nil {
			r.onRetry(attempt, err)
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

// Call is a generic helper over Retrier.Do for functions returning a value
func Call[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var res T
	err := r.Do(ctx, func(ctx context.Context) error {
		var ferr error
		res, ferr = fn(ctx)
		return ferr
	})
	return res, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
