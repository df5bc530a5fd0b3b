package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes of an exploration or script run.
// Typed errors below match them through errors.Is.
var (
	ErrClassificationBlocked = errors.New("page classified as blocked")
	ErrSelectorNotFound      = errors.New("selector not found")
	ErrCircuitBreakerTripped = errors.New("circuit breaker tripped")
	ErrSynthesis             = errors.New("script synthesis failed")
	ErrExecutionTimeout      = errors.New("script execution timed out")
	ErrDriver                = errors.New("browser driver error")
)

// Breaker names used in CircuitBreakerError.
const (
	BreakerDisclaimer = "disclaimer"
	BreakerAttempts   = "attempts"
	BreakerRepairs    = "repairs"
)

// SelectorNotFoundError reports a selector that could not be used, either
// because the page has no match or because it was already tried.
type SelectorNotFoundError struct {
	Selector string
	Reason   string
}

func (e *SelectorNotFoundError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("selector not found: %q", e.Selector)
	}
	return fmt.Sprintf("selector not found: %q (%s)", e.Selector, e.Reason)
}

// Is matches ErrSelectorNotFound.
func (e *SelectorNotFoundError) Is(target error) bool {
	return target == ErrSelectorNotFound
}

// CircuitBreakerError reports that a bounded loop hit its ceiling.
type CircuitBreakerError struct {
	Breaker string
	Limit   int
	Count   int
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %q tripped: %d of %d", e.Breaker, e.Count, e.Limit)
}

// Is matches ErrCircuitBreakerTripped.
func (e *CircuitBreakerError) Is(target error) bool {
	return target == ErrCircuitBreakerTripped
}

// SynthesisError reports that an artifact could not be produced from the
// recorded inputs.
type SynthesisError struct {
	Reason string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("script synthesis failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("script synthesis failed: %s", e.Reason)
}

// Unwrap returns the underlying error
func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Is matches ErrSynthesis.
func (e *SynthesisError) Is(target error) bool {
	return target == ErrSynthesis
}

// DriverError wraps a failure reported by the browser driver.
type DriverError struct {
	Op       string
	Selector string
	Err      error
}

func (e *DriverError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("driver %s %q: %v", e.Op, e.Selector, e.Err)
	}
	return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *DriverError) Unwrap() error {
	return e.Err
}

// Is matches ErrDriver.
func (e *DriverError) Is(target error) bool {
	return target == ErrDriver
}

// IsFatal reports whether err ends a session without retry.
func IsFatal(err error) bool {
	return errors.Is(err, ErrClassificationBlocked) ||
		errors.Is(err, ErrSynthesis) ||
		errors.Is(err, ErrCircuitBreakerTripped)
}
