package gh

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed remote call. The retrier keys its behavior
// off this classification; the client itself never retries.
type ErrorKind string

const (
	// KindAuthFailure covers missing or rejected credentials (401).
	KindAuthFailure ErrorKind = "auth_failure"
	// KindForbidden covers insufficient scope or access (403).
	KindForbidden ErrorKind = "forbidden"
	// KindNotFound covers 404 responses, typically a workspace that
	// vanished between list and stop.
	KindNotFound ErrorKind = "not_found"
	// KindRateLimited covers 429 and rate-limit flavored 403 responses.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient covers 5xx, network errors and malformed responses.
	KindTransient ErrorKind = "transient"
)

// APIError is the typed failure surfaced by every client call. StatusCode is
// zero for failures that never reached the server (network error, missing
// token). RetryAfter is non-zero only when the server sent a usable
// Retry-After value.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Operation  string
	Detail     string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Operation, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %s", e.Operation, e.Kind, e.Detail)
}

// KindOf extracts the error kind from err, unwrapping as needed.
// Non-API errors report KindTransient so unexpected failures still get
// bounded retries rather than crashing a cycle.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransient
}

// RetryAfterOf returns the server-provided Retry-After delay, or zero.
func RetryAfterOf(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// IsNotFound reports whether err classifies as a vanished resource.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsAuthError reports whether err is a credential or scope failure that
// should abort the cycle and surface to the user.
func IsAuthError(err error) bool {
	k := KindOf(err)
	return k == KindAuthFailure || k == KindForbidden
}
