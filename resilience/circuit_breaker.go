package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jaberry835/agentmesh/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows trial requests
	StateHalfOpen
)

// String returns the string representation of the state
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

// MetricsCollector interface for circuit breaker metrics
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

// noopMetrics is a no-op metrics implementation
type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string)                      {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker
	Name string

	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open after the last failure
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit
	SuccessThreshold int

	// Logger for circuit breaker events
	Logger core.Logger

	// Metrics collector for monitoring
	Metrics MetricsCollector
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
}

// Validate validates the circuit breaker configuration
func (c *CircuitBreakerConfig) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}
	if c.Name == "" {
		return errors.New("circuit breaker name is required")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("success threshold must be at least 1, got %d", c.SuccessThreshold)
	}
	if c.RecoveryTimeout < 0 {
		return fmt.Errorf("recovery timeout must be non-negative, got %v", c.RecoveryTimeout)
	}
	return nil
}

// CircuitBreaker is a three-state breaker guarding one remote dependency.
// closed: all calls pass. open: calls rejected until RecoveryTimeout has
// elapsed since the last failure, then the next call moves it to half-open.
// half-open: calls pass; SuccessThreshold consecutive successes close it,
// any failure reopens it.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu           sync.Mutex
	state        CircuitState
	failureCount int
	successCount int // consecutive successes, only meaningful in half-open
	lastFailure  time.Time

	listeners []func(name string, from, to CircuitState)
}

// NewCircuitBreaker creates a circuit breaker from config.
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultCircuitBreakerConfig("default")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}

	config.Logger.Debug("Circuit breaker created", map[string]interface{}{
		"operation":         "circuit_breaker_created",
		"name":              config.Name,
		"failure_threshold": config.FailureThreshold,
		"success_threshold": config.SuccessThreshold,
		"recovery_timeout":  config.RecoveryTimeout.String(),
	})

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}, nil
}

// SetLogger sets the logger provider.
func (cb *CircuitBreaker) SetLogger(logger core.Logger) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	cb.mu.Lock()
	cb.config.Logger = logger
	cb.mu.Unlock()
}

// Allow reports whether a call may proceed. When the circuit is open it
// returns the remaining cool-down; when the cool-down has elapsed the
// breaker transitions to half-open and the call is admitted.
func (cb *CircuitBreaker) Allow() (bool, time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true, 0
	case StateOpen:
		elapsed := time.Since(cb.lastFailure)
		if elapsed >= cb.config.RecoveryTimeout {
			cb.transition(StateHalfOpen)
			return true, 0
		}
		cb.config.Metrics.RecordRejection(cb.config.Name)
		return false, cb.config.RecoveryTimeout - elapsed
	default:
		return false, cb.config.RecoveryTimeout
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.config.Metrics.RecordSuccess(cb.config.Name)

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// RecordFailure records a failed call. Cancellations must not reach here;
// callers filter them with core.IsCancellation first.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.config.Metrics.RecordFailure(cb.config.Name)
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// State returns the current state name.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// Metrics returns a snapshot for observability endpoints.
func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"name":          cb.config.Name,
		"state":         cb.state.String(),
		"failure_count": cb.failureCount,
		"success_count": cb.successCount,
	}
}

// Reset forces the breaker back to closed and clears counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
	cb.failureCount = 0
	cb.successCount = 0
}

// AddStateChangeListener adds a listener for state changes.
func (cb *CircuitBreaker) AddStateChangeListener(listener func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	cb.listeners = append(cb.listeners, listener)
	cb.mu.Unlock()
}

// transition changes state (must be called with lock held).
func (cb *CircuitBreaker) transition(newState CircuitState) {
	oldState := cb.state
	if oldState == newState {
		return
	}
	cb.state = newState

	switch newState {
	case StateHalfOpen:
		cb.successCount = 0
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
	}

	cb.config.Logger.Info("Circuit breaker state changed", map[string]interface{}{
		"operation":     "circuit_breaker_transition",
		"name":          cb.config.Name,
		"from":          oldState.String(),
		"to":            newState.String(),
		"failure_count": cb.failureCount,
	})
	cb.config.Metrics.RecordStateChange(cb.config.Name, oldState.String(), newState.String())

	for _, listener := range cb.listeners {
		go listener(cb.config.Name, oldState, newState)
	}
}

// CircuitOpenError is returned when a call is rejected by an open breaker.
type CircuitOpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open, retry in %s: %v", e.Name, e.RetryIn.Round(time.Millisecond), core.ErrCircuitBreakerOpen)
}

func (e *CircuitOpenError) Unwrap() error {
	return core.ErrCircuitBreakerOpen
}
