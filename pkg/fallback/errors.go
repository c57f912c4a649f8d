package fallback

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"mercator-hq/tollgate/pkg/faults"
)

// Reason classifies why a model was abandoned.
type Reason string

const (
	ReasonTimeout       Reason = "timeout"
	ReasonRateLimit     Reason = "rate-limit"
	ReasonProviderError Reason = "provider-error"
	ReasonBudgetBlock   Reason = "budget-block"
	ReasonCircuitOpen   Reason = "circuit-open"
)

// ProviderError is returned by a Call to classify a provider failure.
type ProviderError struct {
	Reason Reason
	Err    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RateLimited wraps err as a rate-limit failure.
func RateLimited(err error) error {
	return &ProviderError{Reason: ReasonRateLimit, Err: err}
}

// Classify maps a call error to a Reason. Unclassified errors are provider
// errors.
func Classify(err error) Reason {
	var pe *ProviderError
	switch {
	case errors.Is(err, faults.ErrBudgetBlocked):
		return ReasonBudgetBlock
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ReasonCircuitOpen
	case errors.As(err, &pe):
		return pe.Reason
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	}
	return ReasonProviderError
}
