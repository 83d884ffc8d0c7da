package errors

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// Sentinel errors for common cases
var (
	// ErrAuthRequired indicates the ambient session is not authenticated
	// against an upstream service. Recoverable via the login flow; never
	// surfaced as a webhook error notification.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNetworkUnreachable indicates a transport-level failure reaching an
	// upstream service. Surfaced once, then handled by the retry loop.
	ErrNetworkUnreachable = errors.New("network unreachable")

	// ErrNotifyFailed indicates the webhook itself is unreachable or
	// rejecting. Logged only; the reporting channel is the failure.
	ErrNotifyFailed = errors.New("notification failed")

	// ErrMalformedResponse indicates non-JSON content where JSON was
	// expected. In practice this is almost always a login redirect, so it
	// is classified the same as ErrAuthRequired.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")
)

// FetchFailedError indicates an upstream service answered with a non-2xx
// status that is not an authentication problem.
type FetchFailedError struct {
	Service string
	Status  int
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("%s request failed: status %d", e.Service, e.Status)
}

// NewFetchFailed creates a FetchFailedError for the given service and status.
func NewFetchFailed(service string, status int) error {
	return &FetchFailedError{Service: service, Status: status}
}

// TransientError wraps an error to mark it as transient (retryable)
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error: %v", e.Cause)
	}
	return "transient error"
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransient creates a new transient error
func NewTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

// NewTransientf creates a new transient error with formatting
func NewTransientf(format string, args ...interface{}) error {
	return &TransientError{Cause: fmt.Errorf(format, args...)}
}

// PermanentError wraps an error to mark it as permanent (not retryable)
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("permanent error: %v", e.Cause)
	}
	return "permanent error"
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// NewPermanent creates a new permanent error
func NewPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

// NewPermanentf creates a new permanent error with formatting
func NewPermanentf(format string, args ...interface{}) error {
	return &PermanentError{Cause: fmt.Errorf(format, args...)}
}

// IsAuthRequired reports whether err signals a missing or expired upstream
// session. Malformed (non-JSON) responses count: login pages are served as
// HTML at the same URL and status as the real API.
func IsAuthRequired(err error) bool {
	return errors.Is(err, ErrAuthRequired) || errors.Is(err, ErrMalformedResponse)
}

// IsFetchFailed reports whether err is an upstream non-2xx failure and
// returns the status when it is.
func IsFetchFailed(err error) (int, bool) {
	var fetchErr *FetchFailedError
	if errors.As(err, &fetchErr) {
		return fetchErr.Status, true
	}
	return 0, false
}

// IsNetworkUnreachable reports whether err is a transport-level failure.
// Raw net errors are recognized so adapters can pass them through unwrapped.
func IsNetworkUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetworkUnreachable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// IsNotifyFailed reports whether err is a webhook delivery failure.
func IsNotifyFailed(err error) bool {
	return errors.Is(err, ErrNotifyFailed)
}

// IsTransient checks if an error is transient using errors.As
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	// Network problems heal on their own; auth and input problems do not.
	if IsNetworkUnreachable(err) {
		return true
	}
	if errors.Is(err, ErrAuthRequired) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) {
		return false
	}

	// Default to non-transient for safety (don't retry unknown errors)
	return false
}

// IsPermanent checks if an error is permanent (not retryable)
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}
