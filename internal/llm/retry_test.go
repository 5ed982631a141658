package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func testPolicy(s Sleeper) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleeper = s
	return p
}

func TestRetryPolicySucceedsAfterRateLimits(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	attempts, err := testPolicy(sleeper).Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls < 3 {
			return &RemoteModelError{StatusCode: http.StatusTooManyRequests}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)
}

func TestRetryPolicyExhausted(t *testing.T) {
	sleeper := &recordingSleeper{}
	attempts, err := testPolicy(sleeper).Do(context.Background(), func(context.Context, int) error {
		return &RemoteModelError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var rme *RemoteModelError
	require.True(t, errors.As(err, &rme))
	assert.True(t, rme.Exhausted)
	assert.Equal(t, 3, rme.Attempts)
	assert.Equal(t, http.StatusTooManyRequests, rme.StatusCode)
	assert.Len(t, sleeper.waits, 2)
}

func TestRetryPolicyDoesNotRetryOtherFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	attempts, err := testPolicy(sleeper).Do(context.Background(), func(context.Context, int) error {
		calls++
		return &RemoteModelError{StatusCode: http.StatusInternalServerError}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.waits)

	var rme *RemoteModelError
	require.True(t, errors.As(err, &rme))
	assert.False(t, rme.Exhausted)
	assert.Equal(t, http.StatusInternalServerError, rme.StatusCode)
}

func TestRetryPolicyStopsOnCancelledSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := DefaultRetryPolicy()
	_, err := p.Do(ctx, func(context.Context, int) error {
		return &RemoteModelError{StatusCode: http.StatusTooManyRequests}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, b(0))
	assert.Equal(t, time.Second, b(1))
	assert.Equal(t, 2*time.Second, b(2))
}
