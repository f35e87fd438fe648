package model

import (
	"errors"
	"fmt"
)

// ErrorKind groups domain errors by how callers are expected to react to them.
type ErrorKind int

const (
	KindInternal     ErrorKind = iota
	KindValidation             // bad input or wrong state, never retried
	KindBusinessRule           // rule violation with user-facing context
	KindNotFound
	KindConflict  // unique collision, retried locally
	KindTransient // lock timeout or unavailable collaborator, retried by the job runner
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusinessRule:
		return "business_rule"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Validation
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidState       = errors.New("invalid statement state for this operation")
	ErrDeletionNotAllowed = errors.New("deleting ledger lines is not allowed, use void or reverse")
)

// Business rules
var (
	ErrInsufficientCredit       = errors.New("insufficient available credit")
	ErrCapacityInactive         = errors.New("no active credit capacity")
	ErrCapacityExpired          = errors.New("credit capacity has expired")
	ErrCapacityExists           = errors.New("credit capacity already exists for user")
	ErrUniquenessViolation      = errors.New("an active line of this type already exists")
	ErrUnauthorizedTransaction  = errors.New("transaction does not belong to the statement user")
	ErrTransactionNotSuccessful = errors.New("transaction is not successful")
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrTransient     = errors.New("temporarily unavailable")

	// ErrMissingBillingPeriod aborts an operation when the billing calendar is not configured.
	ErrMissingBillingPeriod = errors.New("billing period context is not configured")
)

// Transient marks err as retryable while keeping it inspectable with errors.Is.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrDeletionNotAllowed):
		return KindValidation
	case errors.Is(err, ErrInsufficientCredit),
		errors.Is(err, ErrCapacityInactive),
		errors.Is(err, ErrCapacityExpired),
		errors.Is(err, ErrCapacityExists),
		errors.Is(err, ErrUniquenessViolation),
		errors.Is(err, ErrUnauthorizedTransaction),
		errors.Is(err, ErrTransactionNotSuccessful):
		return KindBusinessRule
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindConflict
	default:
		return KindInternal
	}
}

// IsRetryable reports whether a batch job should hand err back to the runner for another attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
