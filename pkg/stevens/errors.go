package stevens

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrBadRequest is returned when the API rejects a request outright,
	// typically meaning bad credentials. Never retried.
	ErrBadRequest = errors.New("stevens: bad request")

	// ErrUnauthorized is returned when a bearer token is rejected. Retried with
	// fresh token acquisition as the token has likely expired.
	ErrUnauthorized = errors.New("stevens: unauthorized")

	// ErrNotFound is returned when the requested resource or user does not
	// exist. Never retried.
	ErrNotFound = errors.New("stevens: not found")

	// ErrTooManyPages is returned when a paginated walk exceeds the configured
	// page cap, which means the upstream paging metadata never converged.
	ErrTooManyPages = errors.New("stevens: page limit exceeded")
)

// APIError captures any HTTP error response outside the classified set. It is
// propagated without retry for bearer calls, and retried for authentication
// calls where any transport level failure is considered transient.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("stevens: unexpected response status %d: %s", e.StatusCode, e.Body)
}

// classifyStatus maps an HTTP error status onto our error taxonomy. Callers
// should only invoke this for statuses >= 400.
func classifyStatus(status int, body []byte) error {
	switch status {
	case http.StatusBadRequest:
		return errors.Wrapf(ErrBadRequest, "response body: %s", body)
	case http.StatusUnauthorized:
		return errors.Wrapf(ErrUnauthorized, "response body: %s", body)
	case http.StatusNotFound:
		return errors.Wrapf(ErrNotFound, "response body: %s", body)
	default:
		return &APIError{StatusCode: status, Body: string(body)}
	}
}

// IsBadRequest reports whether the given error was caused by an HTTP 400.
func IsBadRequest(err error) bool {
	return errors.Cause(err) == ErrBadRequest
}

// IsUnauthorized reports whether the given error was caused by an HTTP 401.
func IsUnauthorized(err error) bool {
	return errors.Cause(err) == ErrUnauthorized
}

// IsNotFound reports whether the given error was caused by an HTTP 404.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}
