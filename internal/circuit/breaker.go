// Package circuit implements a circuit breaker: a fault-isolation state
// machine that fails fast after repeated errors.
//
// Lifecycle: created closed (normal operation); trips to open after
// FailureThreshold consecutive failures; after RecoveryTimeout a single
// caller transitions it to half-open and trials the operation; enough trial
// successes close it again, any trial failure re-opens it.
package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the breaker's lifecycle state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Counts exposes the breaker's internal counters for diagnostics.
type Counts struct {
	Failures        int
	TrialSuccesses  int
	LastFailureTime time.Time
	NextAttemptTime time.Time
}

// OpenError is returned when the breaker rejects a call without running the
// guarded operation. Rejection is fast, synchronous, and cheap: callers can
// retry after NextAttempt.
type OpenError struct {
	Name        string
	NextAttempt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q open until %s", e.Name, e.NextAttempt.Format(time.RFC3339))
}

// IsOpen reports whether err is a circuit-open rejection.
// Uses errors.As to handle wrapped errors.
func IsOpen(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// Config holds breaker tuning parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that trips the breaker.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before allowing a
	// half-open trial.
	RecoveryTimeout time.Duration

	// HalfOpenRetryCount is the number of consecutive trial successes
	// required to close the breaker again.
	HalfOpenRetryCount int
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   3,
		RecoveryTimeout:    time.Second,
		HalfOpenRetryCount: 1,
	}
}

// Breaker wraps a fallible operation and fails fast while open.
// Thread-safe: all methods may be called concurrently.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	// onStateChange, when set, observes transitions. Called outside the
	// lock; must not block the caller's critical path.
	onStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	failures        int
	trialSuccesses  int
	lastFailureTime time.Time
	nextAttemptTime time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChangeObserver installs a transition observer.
func WithStateChangeObserver(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// New creates a closed breaker. Zero-valued config fields fall back to
// DefaultConfig values.
func New(name string, cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenRetryCount <= 0 {
		cfg.HalfOpenRetryCount = def.HalfOpenRetryCount
	}

	b := &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs op under the breaker's protection. In the open state it
// returns an OpenError immediately without invoking op (unless the recovery
// timeout elapsed, in which case it transitions to half-open and trials op).
func (b *Breaker) Execute(op func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := op()
	b.afterCall(err)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a snapshot of the breaker's counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{
		Failures:        b.failures,
		TrialSuccesses:  b.trialSuccesses,
		LastFailureTime: b.lastFailureTime,
		NextAttemptTime: b.nextAttemptTime,
	}
}

// Reset forces the breaker back to closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.trialSuccesses = 0
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()

	if b.state == StateOpen {
		if b.now().Before(b.nextAttemptTime) {
			err := &OpenError{Name: b.name, NextAttempt: b.nextAttemptTime}
			b.mu.Unlock()
			return err
		}
		// Recovery window elapsed: trial the operation.
		b.state = StateHalfOpen
		b.trialSuccesses = 0
		b.mu.Unlock()
		b.notify(StateOpen, StateHalfOpen)
		return nil
	}

	b.mu.Unlock()
	return nil
}

func (b *Breaker) afterCall(err error) {
	if err != nil {
		b.recordFailure()
		return
	}
	b.recordSuccess()
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	from := b.state

	switch b.state {
	case StateHalfOpen:
		b.trialSuccesses++
		if b.trialSuccesses >= b.cfg.HalfOpenRetryCount {
			b.state = StateClosed
			b.failures = 0
			b.trialSuccesses = 0
		}
	case StateClosed:
		b.failures = 0
	}

	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	from := b.state

	b.failures++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateHalfOpen:
		// Any failure during trial re-opens immediately.
		b.trip()
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	}

	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

// trip moves to open. Caller holds the lock.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.trialSuccesses = 0
	b.nextAttemptTime = b.now().Add(b.cfg.RecoveryTimeout)
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.name, from, to)
	}
}
