package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastPolicy() Policy {
	return Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	out := Do(context.Background(), fastPolicy(), func(context.Context) error { return nil }, nil)
	assert.True(t, out.Success())
	assert.Equal(t, 1, out.Attempts)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	out := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	}, nil)
	assert.True(t, out.Success())
	assert.Equal(t, 3, out.Attempts)
	assert.Len(t, out.Reasons, 2)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	out := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return errors.New("invalid api key")
	}, nil)
	assert.False(t, out.Success())
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	out := Do(context.Background(), fastPolicy(), func(context.Context) error {
		return errors.New("connection reset by peer")
	}, nil)
	assert.Equal(t, 3, out.Attempts)
	assert.EqualError(t, out.Err, "connection reset by peer")
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy()
	p.BaseDelay = time.Hour
	p.MaxDelay = time.Hour
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	out := Do(ctx, p, func(context.Context) error { return errors.New("timeout") }, nil)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestDelayCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.delay(0))
	assert.Equal(t, 2*time.Second, p.delay(1))
	assert.Equal(t, 3*time.Second, p.delay(5))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(errors.New("HTTP 429 Too Many Requests")))
	assert.False(t, IsRetryableError(errors.New("bad request")))
	assert.False(t, IsRetryableError(nil))
}
