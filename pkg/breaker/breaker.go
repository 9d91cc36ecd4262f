// Package breaker implements a three state circuit breaker that stops
// calls to a failing dependency for a cooldown period.
package breaker

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/cwagent/pkg", "breaker")

// State of the circuit breaker
type State int

const (
	// Closed is normal operation
	Closed State = iota
	// Open rejects calls until the open timeout elapses
	Open
	// HalfOpen lets calls through to probe recovery
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Config of the circuit breaker
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// SuccessThreshold is the number of successes in half-open state that closes the circuit
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	// OpenTimeout is the cooldown measured from the last failure
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

// DefaultConfig returns 5 failures to open, 60s cooldown, 2 successes to close
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
	}
}

// Validate the config
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		return errors.New("FailureThreshold must be positive")
	}
	if c.SuccessThreshold < 1 {
		return errors.New("SuccessThreshold must be positive")
	}
	if c.OpenTimeout <= 0 {
		return errors.New("OpenTimeout must be positive")
	}
	return nil
}

// StateChangeFunc is called after every state transition,
// while the breaker lock is held.
type StateChangeFunc func(name string, from, to State)

// CircuitBreaker guards calls to a remote dependency.
// The state only changes through CallSucceeded, CallFailed and CanAttempt.
type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time

	onStateChange StateChangeFunc

	lock          sync.Mutex
	state         State
	failureCount  int
	successCount  int
	lastFailureAt time.Time
}

// Option configures CircuitBreaker
type Option func(*CircuitBreaker)

// WithClock replaces time.Now, used in tests
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithStateChange sets the transition hook
func WithStateChange(fn StateChangeFunc) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// New returns a closed CircuitBreaker
func New(name string, cfg Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: Closed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state without side effects
func (cb *CircuitBreaker) State() State {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	return cb.state
}

// Counts returns the current failure and success counters
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	return cb.failureCount, cb.successCount
}

// LastFailureAt returns the time of the last recorded failure
func (cb *CircuitBreaker) LastFailureAt() time.Time {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	return cb.lastFailureAt
}

// CallSucceeded records a successful call
func (cb *CircuitBreaker) CallSucceeded() {
	cb.lock.Lock()
	defer cb.lock.Unlock()

	cb.failureCount = 0
	if cb.state == HalfOpen {
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.successCount = 0
			cb.setState(Closed)
		}
	}
}

// CallFailed records a failed call
func (cb *CircuitBreaker) CallFailed() {
	cb.lock.Lock()
	defer cb.lock.Unlock()

	cb.failureCount++
	cb.lastFailureAt = cb.now()
	cb.successCount = 0

	// in half-open state a single failure is enough
	if cb.failureCount >= cb.cfg.FailureThreshold || cb.state == HalfOpen {
		cb.setState(Open)
	}
}

// CanAttempt returns true if a call may be attempted.
// In Open state it moves to HalfOpen once OpenTimeout has elapsed
// since the last failure.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.lock.Lock()
	defer cb.lock.Unlock()

	switch cb.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if !cb.lastFailureAt.IsZero() && cb.now().Sub(cb.lastFailureAt) >= cb.cfg.OpenTimeout {
			cb.setState(HalfOpen)
			return true
		}
	}
	return false
}

// must be called under lock
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	level := xlog.INFO
	if to == Open {
		level = xlog.WARNING
	}
	logger.KV(level,
		"breaker", cb.name,
		"from", from.String(),
		"to", to.String(),
		"failures", cb.failureCount,
	)

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}
