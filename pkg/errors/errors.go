// Package errors provides the typed error taxonomy shared by the pricing,
// matching and settlement layers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Kind classifies an error for callers and for HTTP mapping.
type Kind string

const (
	KindConfigurationMissing Kind = "ConfigurationMissing"
	KindInvalidOrder         Kind = "InvalidOrder"
	KindInvalidFund          Kind = "InvalidFund"
	KindAlreadySettled       Kind = "AlreadySettled"
	KindEngineNotFound       Kind = "EngineNotFound"
	KindDuplicateAdmission   Kind = "DuplicateAdmission"
	KindInsufficientUnits    Kind = "InsufficientUnits"
	KindGateRejected         Kind = "GateRejected"
	KindUnknown              Kind = "Unknown"
)

// Error is the domain error type carried across service boundaries.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	cause error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the kind from any error in the chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a domain error to the status code the API layer returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfigurationMissing:
		return http.StatusServiceUnavailable
	case KindInvalidOrder, KindInvalidFund, KindInsufficientUnits:
		return http.StatusBadRequest
	case KindEngineNotFound:
		return http.StatusNotFound
	case KindDuplicateAdmission, KindAlreadySettled:
		return http.StatusConflict
	case KindGateRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
