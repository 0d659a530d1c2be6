// Package shared contains the error kinds and events every domain package
// of the points engine speaks. It has no external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Domain errors carry one of these so callers can branch with
// errors.Is without knowing every concrete error.
var (
	ErrAlreadyExists = errors.New("already exists")

	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNegativeValue = errors.New("value cannot be negative")

	ErrInvalidState       = errors.New("invalid state")
	ErrInvariantViolation = errors.New("invariant violation")

	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError is an error raised by a domain operation.
type DomainError struct {
	Domain  string // points, achievement, notification
	Op      string // Append, Evaluate, Push, ...
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches the kind as well as the wrapped cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// NewDomainError creates a sentinel-style domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError attaches domain context to a lower-level error.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// Ledger.
var (
	ErrInvalidAmount      = NewDomainError("points", "Append", ErrValidation, "points must be greater than zero")
	ErrInvalidKind        = NewDomainError("points", "Append", ErrValidation, "transaction kind must be earned or spent")
	ErrUnknownUser        = NewDomainError("points", "Append", ErrInvalidID, "unknown user")
	ErrInsufficientPoints = NewDomainError("points", "Spend", ErrInvalidState, "insufficient points")
	ErrLedgerDivergence   = NewDomainError("points", "Reconcile", ErrInvariantViolation, "aggregate does not match ledger")
)

// Achievements.
var (
	ErrUnknownCriterion   = NewDomainError("achievement", "Validate", ErrValidation, "unknown achievement criterion")
	ErrInvalidAchievement = NewDomainError("achievement", "Validate", ErrValidation, "invalid achievement definition")
	ErrStatsUnavailable   = NewDomainError("achievement", "GetStats", ErrServiceUnavailable, "stats provider unavailable")
)

// Notifications.
var ErrNotificationFailed = NewDomainError("notification", "Push", ErrExternalService, "failed to push notification")

// ══════════════════════════════════════════════════════════════════════════════
// CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// Code is a coarse error class used by transports to pick a status.
type Code string

const (
	CodeInvalid     Code = "invalid_request"
	CodeUnknownUser Code = "unknown_user"
	CodeConflict    Code = "conflict"
	CodeUnavailable Code = "service_unavailable"
	CodeInternal    Code = "internal_error"
)

// Classify maps err onto a Code. Specific engine errors win over kinds:
// an unknown user is reported as such rather than as a bad ID.
func Classify(err error) Code {
	switch {
	case errors.Is(err, ErrUnknownUser):
		return CodeUnknownUser
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyExists):
		return CodeConflict
	case IsValidation(err):
		return CodeInvalid
	case IsExternalService(err):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// IsAlreadyExists reports a uniqueness violation.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation reports bad caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue)
}

// IsExternalService reports a failed or slow dependency.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
