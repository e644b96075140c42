package remote

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/taskyapp/tasky/internal/agenda"
)

// Error classes returned by gateway calls.
//
// Every failed call returns an *Error, which matches exactly one of these
// through errors.Is (ErrUnauthorized also matches ErrServerRejected):
//
//	if errors.Is(err, remote.ErrNetwork) {
//	    // keep the change queued, try again next cycle
//	}
var (
	// ErrNetwork is returned when the server could not be reached, the
	// request timed out, or the server answered with a transient status
	// (408, 429, 502, 503, 504).
	ErrNetwork = errors.New("network unavailable")

	// ErrServerRejected is returned when the server refused the request.
	ErrServerRejected = errors.New("rejected by server")

	// ErrUnauthorized is returned for 401 responses and when no usable
	// access token is available. It also matches ErrServerRejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found on server")
)

// Error describes a failed gateway call.
type Error struct {
	// Op is the endpoint call that failed, e.g. "create task".
	Op string

	// Status is the HTTP status code, 0 when no response was received.
	Status int

	// Message is the server's explanation, if any.
	Message string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, ErrNetwork, e.Err)
	case e.Status == 0:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.Status, http.StatusText(e.Status), e.Message)
	default:
		return fmt.Sprintf("%s: %d %s", e.Op, e.Status, http.StatusText(e.Status))
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is maps the status code onto the error classes.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.transient()
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrServerRejected:
		return !e.transient() && e.Status != http.StatusNotFound
	}
	return false
}

func (e *Error) transient() bool {
	switch e.Status {
	case 0,
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func networkError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func unauthorized(op, msg string) *Error {
	return &Error{Op: op, Status: http.StatusUnauthorized, Message: msg}
}

// IsRetryable returns true if the failed call may succeed later without
// changing the request.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNetwork)
}

// IsUserFacing returns true if the error should be shown to the user
// because retrying the same request cannot succeed: server rejections and
// local validation failures.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, agenda.ErrInvalid) {
		return true
	}
	return errors.Is(err, ErrServerRejected)
}

// IsNotFound returns true if the server does not know the resource.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound)
}

// Message returns the server's message for err, or err's text.
func Message(err error) string {
	var re *Error
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
