package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"regexp"
	"time"
)

// Retry defaults applied by DefaultPolicy.
const (
	DefaultMaxRetries  = 10
	DefaultBaseBackoff = 2 * time.Second
	DefaultMaxBackoff  = 60 * time.Second
	backoffFactor      = 2.0
)

// ErrMaxRetriesExceeded is matched by every RetryExhaustedError.
var ErrMaxRetriesExceeded = errors.New("ratelimit: max retries exceeded")

// RetryExhaustedError is returned when an operation is still throttled after
// the policy's retry budget is spent. It unwraps to both
// ErrMaxRetriesExceeded and the last underlying error.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("ratelimit: %s: still throttled after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() []error {
	return []error{ErrMaxRetriesExceeded, e.Last}
}

// Policy controls which failures are retried and how long to wait.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff returns the minimum delay before retry number attempt (0-based).
	Backoff func(attempt int) time.Duration
	// Jitter adds up to this fraction of the backoff on top of it. Jitter
	// never shortens the delay.
	Jitter float64
	// Retryable classifies an error as a throttle signal.
	Retryable func(error) bool
}

// DefaultPolicy retries throttled calls up to DefaultMaxRetries times with
// min(2s·2^attempt, 60s) delays.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		Backoff:    ExponentialBackoff(DefaultBaseBackoff, DefaultMaxBackoff),
		Retryable:  IsThrottled,
	}
}

// ExponentialBackoff returns min(base·2^attempt, limit).
func ExponentialBackoff(base, limit time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := float64(base) * math.Pow(backoffFactor, float64(attempt))
		if d > float64(limit) {
			return limit
		}

		return time.Duration(d)
	}
}

func (p Policy) delay(attempt int, err error) time.Duration {
	d := p.Backoff(attempt)

	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * rand.Float64()) //nolint:gosec // jitter does not need crypto rand
	}

	if hint := RetryAfter(err); hint > d {
		d = hint
	}

	return d
}

// statusCoder is implemented by provider errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// retryAfterHinter is implemented by errors that carry a server wait hint.
type retryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// transportError is implemented by errors for requests that never got an
// HTTP response.
type transportError interface {
	Transport() bool
}

// throttledText matches a status-shaped 429 ("HTTP 429", "status: 429") or
// the 429 reason phrase, not any digits that happen to spell 429.
var throttledText = regexp.MustCompile(`(?i)\b(?:http|status|code)[ :=]*429\b|too many requests`)

// IsThrottled reports whether err signals rate limiting. An error carrying
// an HTTP status is judged by that status alone and a transport failure is
// never throttling. Other errors match on a status-shaped 429 or "too many
// requests" in their message.
func IsThrottled(err error) bool {
	if err == nil {
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus() == http.StatusTooManyRequests
	}

	var te transportError
	if errors.As(err, &te) && te.Transport() {
		return false
	}

	return throttledText.MatchString(err.Error())
}

// RetryAfter extracts a server-provided wait hint from err, or 0.
func RetryAfter(err error) time.Duration {
	var h retryAfterHinter
	if errors.As(err, &h) {
		return h.RetryAfterHint()
	}

	return 0
}
