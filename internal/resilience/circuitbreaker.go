// Package resilience provides a circuit breaker and provider failover.
//
// [CircuitBreaker] guards a single remote dependency (the classification
// service, an LLM backend) and fails fast while that dependency is down.
// [FallbackGroup] chains several instances of the same provider type, each with
// its own breaker, and tries them in order.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. A failing
	// probe re-opens the breaker; HalfOpenMax successful probes close it.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 1.
	HalfOpenMax int

	// IsFailure decides whether an error returned by the guarded call counts
	// against the breaker. Default: [CountsAsFailure].
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker unlocked and must not block.
	OnStateChange func(name string, from, to State)
}

// CountsAsFailure is the default failure predicate. A cancelled call says
// nothing about the health of the dependency, so it is not counted.
func CountsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probes     int
	probeWins  int
	totalTrips int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero config fields take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = CountsAsFailure
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn unless the breaker is open. The error from fn is returned
// unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	cb.record(probe, err)
	return err
}

// admit decides whether a call may proceed and reports whether it is a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		changed = cb.transition(StateHalfOpen)
		cb.probes, cb.probeWins = 0, 0
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// record books the outcome of an admitted call.
func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	failed := err != nil && cb.cfg.IsFailure(err)

	// A Reset while the call was in flight may have left the half-open state.
	if probe && cb.state != StateHalfOpen {
		probe = false
	}

	switch {
	case probe && failed:
		cb.openedAt = cb.now()
		cb.totalTrips++
		changed = cb.transition(StateOpen)
		slog.Warn("circuit breaker re-opened by failed probe", "name", cb.cfg.Name, "err", err)
	case probe:
		cb.probeWins++
		if cb.probeWins >= cb.cfg.HalfOpenMax {
			cb.failures = 0
			changed = cb.transition(StateClosed)
			slog.Info("circuit breaker closed", "name", cb.cfg.Name)
		}
	case failed:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.openedAt = cb.now()
			cb.totalTrips++
			changed = cb.transition(StateOpen)
			slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "consecutive_failures", cb.failures, "err", err)
		}
	case err == nil:
		cb.failures = 0
	}
}

// transition switches state and returns the callback to run once unlocked.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	cb.state = to
	if from == to || cb.cfg.OnStateChange == nil {
		return nil
	}
	hook, name := cb.cfg.OnStateChange, cb.cfg.Name
	return func() { hook(name, from, to) }
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Trips returns how many times the breaker has opened.
func (cb *CircuitBreaker) Trips() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.totalTrips
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.transition(StateClosed)
	cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	cb.mu.Unlock()

	if changed != nil {
		changed()
	}
	slog.Info("circuit breaker manually reset", "name", cb.cfg.Name)
}
