// Package apierr defines the closed set of error kinds the dispatch core
// can surface to callers, and the HTTP status each maps to.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds enumerated in the error handling design.
type Kind string

const (
	BadRequest        Kind = "BadRequest"
	Unauthorized      Kind = "Unauthorized"
	NotFound          Kind = "NotFound"
	JobNotOwned       Kind = "JobNotOwned"
	WorkerUnknown     Kind = "WorkerUnknown"
	BadBundle         Kind = "BadBundle"
	StoreUnavailable  Kind = "StoreUnavailable"
	SandboxLaunchFail Kind = "SandboxLaunchFailed"
	SandboxTimedOut   Kind = "SandboxTimedOut"
	Cancelled         Kind = "Cancelled"
	RateLimited       Kind = "RateLimited"
	Internal          Kind = "Internal"
)

// statusByKind maps each Kind to its HTTP status code.
var statusByKind = map[Kind]int{
	BadRequest:        http.StatusBadRequest,
	Unauthorized:      http.StatusUnauthorized,
	NotFound:          http.StatusNotFound,
	JobNotOwned:       http.StatusForbidden,
	WorkerUnknown:     http.StatusConflict,
	BadBundle:         http.StatusBadRequest,
	StoreUnavailable:  http.StatusInternalServerError,
	SandboxLaunchFail: http.StatusInternalServerError,
	SandboxTimedOut:   http.StatusInternalServerError,
	Cancelled:         http.StatusConflict,
	RateLimited:       http.StatusTooManyRequests,
	Internal:          http.StatusInternalServerError,
}

// Error is a typed error carrying a Kind, a caller-facing detail string, and
// an optional wrapped cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for e's kind.
func (e *Error) Status() int {
	if code, ok := statusByKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// New constructs an *Error with the given kind and detail.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an *Error with the given kind, detail, and underlying cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusFor returns the HTTP status code that should be returned for err,
// treating any error not wrapping an *Error as Internal.
func StatusFor(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
