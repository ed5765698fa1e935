package atproto

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError represents an XRPC error response from the PDS/app-view.
// Code carries the lexicon error name (e.g. "AccountTakedown",
// "RateLimitExceeded") when the server supplied one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("xrpc error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("xrpc error %d: %s", e.StatusCode, e.Message)
}

// ErrPostNotFound is returned when a post lookup resolves to no record,
// typically because the target was deleted or the author blocked the viewer.
var ErrPostNotFound = errors.New("post not found")

// ErrUnauthorized is returned when session creation is rejected.
var ErrUnauthorized = errors.New("invalid identifier or password")

// fatal account-level error codes: retrying cannot succeed and the run
// must terminate.
var fatalCodes = map[string]bool{
	"AccountTakedown":    true,
	"AccountSuspended":   true,
	"AccountDeactivated": true,
}

// IsFatal reports whether err is an account-level failure that must
// propagate immediately without retry.
func IsFatal(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fatalCodes[apiErr.Code]
	}
	return false
}

// IsRetryable reports whether err is a transient remote failure worth
// retrying: network errors, server errors and rate limits.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Transport-level failure with no HTTP response.
		return true
	}
	switch apiErr.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
