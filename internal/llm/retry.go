package llm

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Sleeper waits between attempts. Tests inject a recorder so no real time passes.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy decides how often and how patiently a model call is repeated.
type RetryPolicy struct {
	// MaxAttempts includes the first call.
	MaxAttempts int
	// Backoff returns the delay after the given zero-based failed attempt.
	Backoff   func(attempt int) time.Duration
	Retryable func(err error) bool
	Sleeper   Sleeper
}

// ExponentialBackoff doubles base for every failed attempt: base, 2*base, 4*base...
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		if attempt > 30 {
			attempt = 30
		}
		return base << uint(attempt)
	}
}

// DefaultRetryPolicy retries rate limiting twice, waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff(time.Second),
		Retryable:   IsRateLimited,
		Sleeper:     timerSleeper{},
	}
}

// IsRateLimited reports a 429 from the provider.
func IsRateLimited(err error) bool {
	var rme *RemoteModelError
	if errors.As(err, &rme) {
		return rme.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = def.Backoff
	}
	if p.Retryable == nil {
		p.Retryable = def.Retryable
	}
	if p.Sleeper == nil {
		p.Sleeper = def.Sleeper
	}
	return p
}

// Do runs fn until it succeeds, fails with a non-retryable error, or attempts run out.
// It returns the number of attempts made. Exhaustion is reported as a RemoteModelError
// with Exhausted set.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	p = p.withDefaults()
	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		last = fn(ctx, attempt)
		if last == nil {
			return attempt + 1, nil
		}
		if !p.Retryable(last) {
			return attempt + 1, last
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		if err := p.Sleeper.Sleep(ctx, p.Backoff(attempt)); err != nil {
			return attempt + 1, &RemoteModelError{Attempts: attempt + 1, Err: err}
		}
	}
	exhausted := &RemoteModelError{Attempts: p.MaxAttempts, Exhausted: true, Err: last}
	var rme *RemoteModelError
	if errors.As(last, &rme) {
		exhausted.StatusCode = rme.StatusCode
		exhausted.Body = rme.Body
	}
	return p.MaxAttempts, exhausted
}
