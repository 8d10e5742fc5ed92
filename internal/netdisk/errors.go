package netdisk

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Sentinel errors for provider failures. Use errors.Is to check.
var (
	ErrBadRequest        = errors.New("netdisk: bad request")
	ErrUnauthorized      = errors.New("netdisk: unauthorized")
	ErrForbidden         = errors.New("netdisk: forbidden")
	ErrNotFound          = errors.New("netdisk: not found")
	ErrConflict          = errors.New("netdisk: conflict")
	ErrThrottled         = errors.New("netdisk: throttled")
	ErrServerError       = errors.New("netdisk: server error")
	ErrPaginationOverrun = errors.New("netdisk: pagination limit exceeded")
	ErrNotSupported      = errors.New("netdisk: operation not supported")
	ErrConsentRequired   = errors.New("netdisk: user consent required")
)

// TokenError reports that no usable access token could be obtained, or that
// the provider rejected a freshly refreshed one.
type TokenError struct {
	Backend string
	Op      string
	Err     error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%s: token %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// NetworkError reports a transport failure: the request never produced an
// HTTP response. URL never includes query strings or credentials.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Transport marks e as a transport failure so rate limiting never mistakes
// digits in its URL for a 429.
func (e *NetworkError) Transport() bool { return true }

// ProviderError is a non-success response from a storage provider.
type ProviderError struct {
	Backend    string
	StatusCode int
	// Code is the provider's machine-readable error identifier, if any.
	Code    string
	Message string
	// RetryAfter is the server's wait hint, 0 when absent.
	RetryAfter time.Duration
	// Err is a sentinel for errors.Is.
	Err error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}

	return fmt.Sprintf("%s: HTTP %d: %s", e.Backend, e.StatusCode, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPStatus exposes the status code to throttle classifiers.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// RetryAfterHint exposes the server wait hint to the rate limiter.
func (e *ProviderError) RetryAfterHint() time.Duration { return e.RetryAfter }

// NewProviderError builds a ProviderError for status, classifying it and
// reading the Retry-After header when present.
func NewProviderError(backend string, status int, code, message string, header http.Header) *ProviderError {
	return &ProviderError{
		Backend:    backend,
		StatusCode: status,
		Code:       code,
		Message:    message,
		RetryAfter: ParseRetryAfter(header),
		Err:        ClassifyStatus(status),
	}
}

// ClassifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes with no sentinel (including 2xx).
func ClassifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// ParseRetryAfter reads a Retry-After header in delta-seconds form.
func ParseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}

	ra := header.Get("Retry-After")
	if ra == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if when, err := http.ParseTime(ra); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}

	return 0
}

// IsNotFound reports whether err means the target does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRemoteNotFound reports whether the provider itself answered 404 or 410.
// A path lookup that simply found no match is not a remote not-found.
func IsRemoteNotFound(err error) bool {
	var pe *ProviderError

	return errors.As(err, &pe) && errors.Is(pe.Err, ErrNotFound)
}
