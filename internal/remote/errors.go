package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed remote call.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindServer          Kind = "server"
	KindRateLimited     Kind = "rate_limited"
	KindNotFound        Kind = "not_found"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindLocked          Kind = "locked"
	KindBadRequest      Kind = "bad_request"
	KindInvalidResponse Kind = "invalid_response"
	KindUnexpected      Kind = "unexpected"
)

// APIError is returned by every Client call that did not succeed.
// StatusCode is 0 when no HTTP response was received.
type APIError struct {
	StatusCode int
	Kind       Kind
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("remote api %s error: %v", e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("remote api returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	default:
		return fmt.Sprintf("remote api returned %d (%s)", e.StatusCode, e.Kind)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same call later may succeed.
func (e *APIError) Transient() bool {
	switch e.Kind {
	case KindNetwork, KindServer, KindRateLimited:
		return true
	}
	return false
}

// KindFromStatus maps an HTTP status code to a Kind.
func KindFromStatus(code int) Kind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusUnauthorized:
		return KindUnauthorized
	case code == http.StatusForbidden:
		return KindForbidden
	case code == http.StatusLocked:
		return KindLocked
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return KindBadRequest
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code >= 500:
		return KindServer
	}
	return KindUnexpected
}

// IsTransient reports whether err is worth queueing for a later retry.
// Errors that did not come from the Client are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return true
}

// IsPermanent reports whether err is a classified remote failure that no
// retry will fix.
func IsPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Transient()
}

// KindOf returns the Kind of err, or "" when err is not an *APIError.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}
