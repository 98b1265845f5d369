// Package apperr defines the tagged error taxonomy shared by every component.
// Components return these instead of raising transport-specific failures; only
// the HTTP layer translates codes into statuses and user-facing messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Code string

const (
	CodeUnauthenticated     Code = "unauthenticated"
	CodeAdmissionDenied     Code = "admission_denied"
	CodeContractViolation   Code = "contract_violation"
	CodeNodeNotFound        Code = "node_not_found"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeValidation          Code = "validation"
	CodeNotFound            Code = "not_found"
	CodeInternal            Code = "internal"
)

type Error struct {
	Code Code
	Op   string
	Err  error

	// Set on admission denials so the handler can report actionable quota info.
	Remaining int64
	ResetAt   time.Time
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func Newf(code Code, op string, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the taxonomy code from err, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// As unwraps err to *Error when possible.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// HTTPStatus maps a taxonomy code to a response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeAdmissionDenied:
		return http.StatusTooManyRequests
	case CodeContractViolation:
		return http.StatusBadGateway
	case CodeNodeNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Exposable reports whether the error detail may be echoed to the caller
// verbatim. Everything else collapses to a generic message at the edge.
func Exposable(code Code) bool {
	switch code {
	case CodeAdmissionDenied, CodeValidation, CodeNodeNotFound, CodeContractViolation, CodeNotFound, CodeUnauthenticated:
		return true
	default:
		return false
	}
}
