package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for comparison using errors.Is()
var (
	// Agent-related errors
	ErrAgentNotFound     = errors.New("agent not found")
	ErrNoAgentsAvailable = errors.New("no specialist agents available")
	ErrAgentUnavailable  = errors.New("agent unavailable")

	// Resilience errors
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Operation errors
	ErrTimeout         = errors.New("operation timeout")
	ErrContextCanceled = errors.New("context canceled")
	ErrBadRequest      = errors.New("bad request")

	// Transport errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrRequestFailed    = errors.New("request failed")
	ErrToolFailed       = errors.New("tool invocation failed")
	ErrParseFailed      = errors.New("response parse failed")
)

// OrchestrationError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type OrchestrationError struct {
	Op      string // Operation that failed (e.g., "a2a.SendMessage")
	Kind    string // Error kind (e.g., "transport", "model", "config")
	Agent   string // Optional name of the specialist involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *OrchestrationError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.Agent != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.Agent, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// NewOrchestrationError creates a new OrchestrationError
func NewOrchestrationError(op, kind string, err error) *OrchestrationError {
	return &OrchestrationError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// retryableFragments are matched case-insensitively against error text when
// sentinel comparison is inconclusive. Remote providers rarely return typed
// errors, so the wrapper falls back to message inspection.
var retryableFragments = []string{
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
	"timeout",
	"service unavailable",
}

// IsRetryable checks if an error represents a transient failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsCancellation(err) {
		return false
	}
	if errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrAgentUnavailable) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsCancellation checks if an error is a context cancellation or deadline.
// Cancellations never count toward circuit breaker thresholds.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrContextCanceled)
}
