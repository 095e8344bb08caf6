package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/mcncl/log-request-id/internal/errors"
)

// ErrCircuitOpen is returned without calling the publisher while the circuit is open
var ErrCircuitOpen = errors.NewConnectionError("circuit breaker is open")

// ErrHalfOpenLimit is returned when the half-open trial budget is used up
var ErrHalfOpenLimit = errors.NewConnectionError("circuit breaker: too many requests in half-open state")

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed means the circuit breaker is closed and requests pass through
	StateClosed CircuitState = iota
	// StateOpen means the circuit breaker is open and requests fail immediately
	StateOpen
	// StateHalfOpen means the circuit breaker is testing if the service has recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in half-open state to close the circuit
	SuccessThreshold int
	// Timeout is how long the circuit stays open before transitioning to half-open
	Timeout time.Duration
	// MaxHalfOpenRequests is the max number of requests allowed in half-open state
	MaxHalfOpenRequests int
}

// DefaultCircuitBreakerConfig returns sensible defaults for the circuit breaker
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 3,
	}
}

// CircuitBreaker wraps a Publisher so that a failing topic is not hammered
// with summaries
type CircuitBreaker struct {
	publisher Publisher
	config    CircuitBreakerConfig
	now       func() time.Time

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenRequests     int
	lastFailureTime      time.Time
	lastStateChange      time.Time

	onStateChange func(from, to CircuitState)
}

// NewCircuitBreaker wraps a publisher with circuit breaker protection. Zero
// fields in config take their defaults.
func NewCircuitBreaker(pub Publisher, config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxHalfOpenRequests <= 0 {
		config.MaxHalfOpenRequests = def.MaxHalfOpenRequests
	}
	return &CircuitBreaker{
		publisher:       pub,
		config:          config,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// SetOnStateChange sets a callback for state changes. It is called
// synchronously, after the breaker's lock is released.
func (cb *CircuitBreaker) SetOnStateChange(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns current circuit breaker statistics
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"state":                 cb.state.String(),
		"consecutive_failures":  cb.consecutiveFailures,
		"consecutive_successes": cb.consecutiveSuccesses,
		"last_failure_time":     cb.lastFailureTime,
		"last_state_change":     cb.lastStateChange,
	}
}

// Publish publishes a message through the circuit breaker
func (cb *CircuitBreaker) Publish(ctx context.Context, data interface{}, attributes map[string]string) (string, error) {
	if err := cb.beforeRequest(); err != nil {
		return "", err
	}

	msgID, err := cb.publisher.Publish(ctx, data, attributes)
	cb.afterRequest(err)

	return msgID, err
}

// Close closes the underlying publisher
func (cb *CircuitBreaker) Close() error {
	return cb.publisher.Close()
}

type transition struct {
	from, to CircuitState
	fn       func(from, to CircuitState)
}

func (t *transition) fire() {
	if t != nil && t.fn != nil {
		t.fn(t.from, t.to)
	}
}

func (cb *CircuitBreaker) beforeRequest() error {
	var tr *transition
	defer func() { tr.fire() }()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		tr = cb.transitionTo(StateHalfOpen)
		cb.halfOpenRequests = 1
		return nil

	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.MaxHalfOpenRequests {
			return ErrHalfOpenLimit
		}
		cb.halfOpenRequests++
		return nil

	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	var tr *transition
	defer func() { tr.fire() }()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		tr = cb.recordFailure()
	} else {
		tr = cb.recordSuccess()
	}
}

func (cb *CircuitBreaker) recordFailure() *transition {
	cb.consecutiveFailures++
	cb.consecutiveSuccesses = 0
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			return cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// any failure while probing trips the circuit again
		return cb.transitionTo(StateOpen)
	}
	return nil
}

func (cb *CircuitBreaker) recordSuccess() *transition {
	cb.consecutiveSuccesses++
	cb.consecutiveFailures = 0

	if cb.state == StateHalfOpen && cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
		return cb.transitionTo(StateClosed)
	}
	return nil
}

// transitionTo must be called with cb.mu held
func (cb *CircuitBreaker) transitionTo(newState CircuitState) *transition {
	oldState := cb.state
	if oldState == newState {
		return nil
	}

	cb.state = newState
	cb.lastStateChange = cb.now()
	cb.halfOpenRequests = 0

	return &transition{from: oldState, to: newState, fn: cb.onStateChange}
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	var tr *transition
	defer func() { tr.fire() }()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	tr = cb.transitionTo(StateClosed)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenRequests = 0
}
