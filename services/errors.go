// services/errors.go
package services

import "errors"

// ErrorKind groups failures by how a caller should react to them.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"  // bad input, never retried
	KindConflict    ErrorKind = "conflict"    // duplicate or lost race
	KindState       ErrorKind = "state"       // entity not in the expected status
	KindNotFound    ErrorKind = "not_found"
	KindUnavailable ErrorKind = "unavailable" // try again later
)

type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrConfigMissing   = newError(KindUnavailable, "config_missing", "commission policy is not configured")
	ErrInvalidPolicy   = newError(KindValidation, "invalid_policy", "invalid commission policy")
	ErrInvalidPayment  = newError(KindValidation, "invalid_payment", "invalid qualifying payment")
	ErrInvalidAction   = newError(KindValidation, "invalid_action", "unsupported action")
	ErrInvalidArgument = newError(KindValidation, "invalid_argument", "invalid argument")

	ErrSelfReferral      = newError(KindValidation, "self_referral", "a user cannot refer themselves")
	ErrReferralsDisabled = newError(KindValidation, "referrals_disabled", "the referral program is disabled")
	ErrDuplicateReferral = newError(KindConflict, "duplicate_referral", "referral already exists")

	ErrBelowMinimum           = newError(KindValidation, "below_minimum", "amount is below the minimum withdrawal")
	ErrInsufficientBalance    = newError(KindValidation, "insufficient_balance", "amount exceeds the available balance")
	ErrNoExactCoverage        = newError(KindValidation, "no_exact_coverage", "no combination of available commissions matches the amount exactly")
	ErrConcurrentModification = newError(KindConflict, "concurrent_modification", "commissions were claimed concurrently, retry")
	ErrTemporarilyUnavailable = newError(KindUnavailable, "temporarily_unavailable", "withdrawal could not be reserved, try again later")

	ErrInvalidState = newError(KindState, "invalid_state", "operation not allowed in the current status")
	ErrNotFound     = newError(KindNotFound, "not_found", "not found")
)

// KindOf returns the kind of a service error, or "" for anything else
// (storage failures, programming errors).
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the machine code of a service error, or "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
