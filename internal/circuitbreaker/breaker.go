package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is probing whether the target
	// has recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker implements the circuit breaker pattern for a single
// target. Each protected target owns exactly one instance; instances are
// never shared across targets.
//
// The open-to-half-open probe transition happens inside Allow rather than
// on a timer, so the breaker is purely reactive to call attempts and no
// background task is required.
type CircuitBreaker struct {
	name   string
	config *Config
	logger *zap.Logger

	mu    sync.Mutex
	state State

	failures  int
	successes int

	// Rolling window for the optional failure-ratio mode.
	windowFailures int
	windowTotal    int
	samplingStart  time.Time

	halfOpenInFlight int

	openedAt        time.Time
	lastStateChange time.Time
}

// New creates a new circuit breaker for the named target. A nil config
// uses defaults; the config must already be validated.
func New(name string, config *Config, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	now := time.Now()
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: now,
		samplingStart:   now,
	}
}

// Execute runs fn with circuit breaker protection. A rejected call returns
// ErrCircuitOpen without invoking fn. Context cancellation surfaced by fn
// counts as neither success nor failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	err := fn()

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil {
		// Abandoned call: the outcome says nothing about target health.
		cb.Abandon()
		return err
	}

	if err == nil {
		cb.RecordSuccess()
	} else {
		cb.RecordFailure()
	}

	return err
}

// Allow reports whether a call may proceed. In the open state it returns
// true only once the reset timeout has elapsed, transitioning to half-open
// first; the transition is exactly-once because the whole check runs under
// the breaker mutex.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var allowed bool

	switch cb.state {
	case StateClosed:
		allowed = true

	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.ResetTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenInFlight = 1
			allowed = true
		}

	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.config.HalfOpenMax {
			cb.halfOpenInFlight++
			allowed = true
		}
	}

	recordRequest(cb.name, allowed)

	return allowed
}

// RecordSuccess records a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	recordSuccess(cb.name)

	switch cb.state {
	case StateClosed:
		// A success ends any consecutive-failure run.
		cb.failures = 0
		cb.recordWindowOutcome(false)

	case StateHalfOpen:
		cb.successes++
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
		}
	}
}

// Abandon releases an admitted call that ended without a usable outcome,
// such as a caller cancelling mid-flight. In half-open it returns the
// probe slot so a later call can probe again; without this a single
// abandoned probe would hold the slot until the process exits.
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// RecordFailure records a failed call outcome.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	recordFailure(cb.name)

	switch cb.state {
	case StateClosed:
		cb.failures++
		cb.recordWindowOutcome(true)
		if cb.shouldOpen() {
			cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		// Any probe failure reopens the circuit and restarts the timeout.
		cb.transitionTo(StateOpen)

	case StateOpen:
		// Already open; late failures from in-flight calls are ignored.
	}
}

// shouldOpen determines if the closed circuit should open. Caller holds mu.
func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.failures >= cb.config.FailureThreshold {
		return true
	}

	if cb.config.FailureRatio > 0 && cb.windowTotal >= cb.config.MinRequests {
		ratio := float64(cb.windowFailures) / float64(cb.windowTotal)
		if ratio >= cb.config.FailureRatio {
			return true
		}
	}

	return false
}

// recordWindowOutcome updates the rolling sampling window. Caller holds mu.
func (cb *CircuitBreaker) recordWindowOutcome(failure bool) {
	if cb.config.FailureRatio <= 0 {
		return
	}
	if time.Since(cb.samplingStart) >= cb.config.SamplingDuration {
		cb.windowFailures = 0
		cb.windowTotal = 0
		cb.samplingStart = time.Now()
	}
	cb.windowTotal++
	if failure {
		cb.windowFailures++
	}
}

// transitionTo moves the breaker to a new state. Caller holds mu.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	// Counter invariants: failures reset entering closed, successes reset
	// entering half-open or open.
	switch newState {
	case StateClosed:
		cb.failures = 0
		cb.windowFailures = 0
		cb.windowTotal = 0
		cb.samplingStart = time.Now()
		cb.halfOpenInFlight = 0
	case StateOpen:
		cb.successes = 0
		cb.halfOpenInFlight = 0
		cb.openedAt = time.Now()
	case StateHalfOpen:
		cb.successes = 0
	}

	recordStateChange(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the name of the protected target.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset forces the breaker back to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.transitionTo(StateClosed)
	} else {
		cb.failures = 0
		cb.windowFailures = 0
		cb.windowTotal = 0
		cb.samplingStart = time.Now()
	}

	cb.logger.Info("circuit breaker reset", zap.String("name", cb.name))
}

// Stats holds a point-in-time snapshot of breaker state.
type Stats struct {
	State           State
	Failures        int
	Successes       int
	WindowFailures  int
	WindowTotal     int
	OpenedAt        time.Time
	LastStateChange time.Time
}

// Stats returns the current statistics of the circuit breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		WindowFailures:  cb.windowFailures,
		WindowTotal:     cb.windowTotal,
		OpenedAt:        cb.openedAt,
		LastStateChange: cb.lastStateChange,
	}
}

// FailureRatio returns the failure ratio of the current sampling window.
func (s Stats) FailureRatio() float64 {
	if s.WindowTotal == 0 {
		return 0
	}
	return float64(s.WindowFailures) / float64(s.WindowTotal)
}
