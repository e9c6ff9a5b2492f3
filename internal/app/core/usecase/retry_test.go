package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyBackoffBounds(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseBackoff: 2 * time.Millisecond, MaxBackoff: 10 * time.Millisecond}
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			got := p.Backoff(attempt)
			assert.GreaterOrEqual(t, got, time.Duration(0))
			assert.LessOrEqual(t, got, 10*time.Millisecond)
		}
	}
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, p.Backoff(1), 2*time.Millisecond)
	}
	assert.Zero(t, RetryPolicy{}.Backoff(3))
}

func TestRetryPolicyNormalize(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 0, BaseBackoff: 5 * time.Millisecond, MaxBackoff: time.Millisecond}.normalize()
	assert.Equal(t, DefaultRetryPolicy().MaxAttempts, p.MaxAttempts)
	assert.Equal(t, 5*time.Millisecond, p.MaxBackoff)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Microsecond))
}
