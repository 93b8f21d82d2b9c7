package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors by the caller's recovery strategy, not by the
// component that produced them.
type Kind string

const (
	// KindValidation: malformed or out-of-range input. The caller must fix the
	// payload; never retried.
	KindValidation Kind = "validation"
	// KindConflict: CAS failure or duplicate key with a differing payload.
	// Bounded retry, then surfaced.
	KindConflict Kind = "conflict"
	// KindTransient: downstream store unavailable or deadline exceeded.
	// Retried with backoff; surfaced as unavailable once the budget is spent.
	KindTransient Kind = "transient"
	// KindNotFound: unknown customer, order or campaign.
	KindNotFound Kind = "not_found"
	// KindIntegrity: invariant violation. Logged at fatal severity, surfaced,
	// and never silently repaired.
	KindIntegrity Kind = "integrity"
	// KindUnavailable: a transient failure that exhausted its retry budget.
	KindUnavailable Kind = "unavailable"
)

type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		if e.Code != "" {
			return e.Code + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func Validationf(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Code: code, Err: fmt.Errorf(format, args...)}
}

func Conflictf(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Code: code, Err: fmt.Errorf(format, args...)}
}

func Transientf(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransient, Code: code, Err: fmt.Errorf(format, args...)}
}

func NotFoundf(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Code: code, Err: fmt.Errorf(format, args...)}
}

func Integrityf(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindIntegrity, Code: code, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification of err; unclassified errors are treated
// as transient so callers retry rather than drop.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransient
}

func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

func IsValidation(err error) bool { return IsKind(err, KindValidation) }
func IsConflict(err error) bool   { return IsKind(err, KindConflict) }
func IsTransient(err error) bool  { return IsKind(err, KindTransient) }
func IsNotFound(err error) bool   { return IsKind(err, KindNotFound) }
func IsIntegrity(err error) bool  { return IsKind(err, KindIntegrity) }
