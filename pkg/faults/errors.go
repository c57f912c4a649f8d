// Package faults defines the error taxonomy shared by every Tollgate component.
//
// Each kind has a sentinel for errors.Is matching and a typed error carrying
// context. Components return the typed errors; callers classify with errors.Is:
//
//	if errors.Is(err, faults.ErrNotFound) {
//	    // 404
//	}
//
// Propagation policy:
//   - Validation and NotFound surface directly to the caller.
//   - SelectionFailure and BudgetBlocked are terminal and must be reported.
//   - ExternalUnavailable is the only retryable kind; the ingress adapter
//     handles it according to its configured fail mode.
package faults

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for errors.Is matching.
var (
	// ErrValidation is returned for malformed budget, usage or request input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for unknown budget or model identifiers.
	ErrNotFound = errors.New("not found")

	// ErrSelectionFailure is returned when no model survives the hard filters
	// or a fallback chain is exhausted.
	ErrSelectionFailure = errors.New("no usable model")

	// ErrBudgetBlocked is returned when an enforcement action refuses spend.
	ErrBudgetBlocked = errors.New("budget blocked")

	// ErrExternalUnavailable is returned when a budget or catalog lookup fails
	// because a dependency is unavailable.
	ErrExternalUnavailable = errors.New("external dependency unavailable")
)

// ValidationError reports a malformed field.
type ValidationError struct {
	// Field is the offending field (e.g., "limit", "thresholds[1].percentage").
	Field string

	// Message is a human-readable explanation.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is implements error matching for errors.Is().
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown identifier.
type NotFoundError struct {
	// Kind is the entity kind ("budget", "model", "alert").
	Kind string

	// ID is the identifier that was looked up.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is implements error matching for errors.Is().
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound is shorthand for a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// SelectionFailureError is returned when no candidate model remains.
type SelectionFailureError struct {
	// Reason summarizes why selection failed.
	Reason string

	// Rejected maps model id to the reason it was rejected.
	Rejected map[string]string
}

// Error implements the error interface.
func (e *SelectionFailureError) Error() string {
	if len(e.Rejected) == 0 {
		return fmt.Sprintf("selection failed: %s", e.Reason)
	}
	parts := make([]string, 0, len(e.Rejected))
	for _, id := range sortedKeys(e.Rejected) {
		parts = append(parts, id+"="+e.Rejected[id])
	}
	return fmt.Sprintf("selection failed: %s (rejected: %s)", e.Reason, strings.Join(parts, ", "))
}

// Is implements error matching for errors.Is().
func (e *SelectionFailureError) Is(target error) bool {
	return target == ErrSelectionFailure
}

// BudgetBlockedError signals a policy refusal, not the absence of a candidate.
type BudgetBlockedError struct {
	// BudgetID is the budget whose enforcement refused the request.
	BudgetID string

	// Action is the enforcement action responsible ("block-all", "require-approval").
	Action string
}

// Error implements the error interface.
func (e *BudgetBlockedError) Error() string {
	return fmt.Sprintf("budget %q blocked by %s", e.BudgetID, e.Action)
}

// Is implements error matching for errors.Is().
func (e *BudgetBlockedError) Is(target error) bool {
	return target == ErrBudgetBlocked
}

// ExternalUnavailableError wraps a dependency failure.
type ExternalUnavailableError struct {
	// Dependency names the failing dependency ("ledger", "catalog").
	Dependency string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ExternalUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

// Is implements error matching for errors.Is().
func (e *ExternalUnavailableError) Is(target error) bool {
	return target == ErrExternalUnavailable
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *ExternalUnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as an ExternalUnavailableError for dependency.
func Unavailable(dependency string, err error) error {
	return &ExternalUnavailableError{Dependency: dependency, Err: err}
}

// Retryable reports whether err may be retried. Only dependency outages are.
func Retryable(err error) bool {
	return errors.Is(err, ErrExternalUnavailable)
}

// Kind returns a stable label for err, used for metrics and HTTP mapping.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSelectionFailure):
		return "selection_failure"
	case errors.Is(err, ErrBudgetBlocked):
		return "budget_blocked"
	case errors.Is(err, ErrExternalUnavailable):
		return "external_unavailable"
	default:
		return "internal"
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
