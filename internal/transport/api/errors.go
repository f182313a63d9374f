package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrorKind is the closed taxonomy of backend call failures. Callers branch
// on kinds, never on raw transport errors.
type ErrorKind string

const (
	ErrorServerBusy              ErrorKind = "server_busy"
	ErrorNoInternetConnection    ErrorKind = "no_internet_connection"
	ErrorRequestTimedOut         ErrorKind = "request_timed_out"
	ErrorInvalidResponse         ErrorKind = "invalid_response"
	ErrorInvalidSignature        ErrorKind = "invalid_signature"
	ErrorServerError             ErrorKind = "server_error"
	ErrorAuthenticationCancelled ErrorKind = "authentication_cancelled"
)

// Error is a classified backend failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int // set for ErrorServerError and ErrorServerBusy
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("backend: %s: %v", e.Kind, e.cause)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend: %s (status %d)", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("backend: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

// KindOf extracts the error kind from a chain, or false when the error did
// not originate here.
func KindOf(err error) (ErrorKind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return "", false
}

// IsServerBusy reports whether the backend rejected the call for load
// shedding reasons.
func IsServerBusy(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrorServerBusy
}

// IsNoInternet reports whether the failure was a connectivity-class error
// that a reachability transition can resolve.
func IsNoInternet(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrorNoInternetConnection
}

// classifyTransportError maps low-level transport failures onto the taxonomy.
func classifyTransportError(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return newError(ErrorRequestTimedOut, err)
	case errors.Is(err, context.Canceled):
		return newError(ErrorAuthenticationCancelled, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newError(ErrorRequestTimedOut, err)
		}
		return newError(ErrorNoInternetConnection, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return newError(ErrorNoInternetConnection, err)
	}
	return newError(ErrorInvalidResponse, err)
}
