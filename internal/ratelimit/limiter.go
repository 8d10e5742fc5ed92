// Package ratelimit bounds how many remote operations run at once per
// backend and retries operations the provider throttled.
//
// Waiters are admitted in FIFO order. A slot is held for the whole retry
// sequence of an operation, including backoff sleeps, so a throttled backend
// is not hammered by queued work while it recovers.
package ratelimit

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxConcurrent is the per-backend concurrency bound.
const DefaultMaxConcurrent = 5

// Limiter is a FIFO concurrency limiter with throttle-aware retry.
// The zero value is not usable; call New.
type Limiter struct {
	mu      sync.Mutex
	max     int
	running int
	waiters list.List // of chan struct{}

	policy  Policy
	pacer   *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithPolicy replaces the retry policy.
func WithPolicy(p Policy) Option {
	return func(l *Limiter) { l.policy = p }
}

// WithSleep injects the function used to wait between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = fn }
}

// WithLogger sets the logger for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithRequestsPerSecond paces attempts to at most rps per second on top of
// the concurrency bound. Zero or negative disables pacing.
func WithRequestsPerSecond(rps float64) Option {
	return func(l *Limiter) {
		if rps > 0 {
			burst := max(int(rps), 1)
			l.pacer = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// New returns a Limiter admitting at most maxConcurrent operations at once.
// Values below 1 fall back to DefaultMaxConcurrent.
func New(maxConcurrent int, opts ...Option) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}

	l := &Limiter{
		max:    maxConcurrent,
		policy: DefaultPolicy(),
		sleep:  timeSleep,
		logger: slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// MaxConcurrent returns the configured concurrency bound.
func (l *Limiter) MaxConcurrent() int { return l.max }

// Running returns the number of operations currently holding a slot.
func (l *Limiter) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.running
}

// Queued returns the number of operations waiting for a slot.
func (l *Limiter) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.waiters.Len()
}

// Do runs fn once a slot is free, retrying throttled failures according to
// the policy. Non-throttle errors are returned unchanged. When the retry
// budget is spent Do returns a *RetryExhaustedError.
func (l *Limiter) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := l.acquire(ctx); err != nil {
		return fmt.Errorf("ratelimit: %s: waiting for slot: %w", op, err)
	}
	defer l.release()

	for attempt := 0; ; attempt++ {
		if l.pacer != nil {
			if err := l.pacer.Wait(ctx); err != nil {
				return fmt.Errorf("ratelimit: %s: pacing: %w", op, err)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !l.policy.Retryable(err) {
			return err
		}

		if attempt >= l.policy.MaxRetries {
			l.metrics.exhausted()
			l.logger.Warn("retries exhausted",
				slog.String("op", op),
				slog.Int("attempts", attempt+1),
				slog.String("error", err.Error()),
			)

			return &RetryExhaustedError{Op: op, Attempts: attempt + 1, Last: err}
		}

		delay := l.policy.delay(attempt, err)

		l.metrics.retried()
		l.logger.Warn("throttled, backing off",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
		)

		if err := l.sleep(ctx, delay); err != nil {
			return fmt.Errorf("ratelimit: %s: backoff interrupted: %w", op, err)
		}
	}
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, l *Limiter, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T

	err := l.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}

		out = v

		return nil
	})

	return out, err
}

func (l *Limiter) acquire(ctx context.Context) error {
	l.mu.Lock()

	if l.running < l.max && l.waiters.Len() == 0 {
		l.running++
		l.metrics.setInFlight(l.running)
		l.mu.Unlock()

		return nil
	}

	ready := make(chan struct{})
	elem := l.waiters.PushBack(ready)
	l.metrics.setQueued(l.waiters.Len())
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()

		select {
		case <-ready:
			// Granted concurrently with cancellation: hand the slot on.
			l.mu.Unlock()
			l.release()
		default:
			l.waiters.Remove(elem)
			l.metrics.setQueued(l.waiters.Len())
			l.mu.Unlock()
		}

		return ctx.Err()
	}
}

// release frees a slot or transfers it directly to the oldest waiter.
func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if front := l.waiters.Front(); front != nil {
		l.waiters.Remove(front)
		l.metrics.setQueued(l.waiters.Len())
		close(front.Value.(chan struct{}))

		return
	}

	l.running--
	l.metrics.setInFlight(l.running)
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
