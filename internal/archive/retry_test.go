package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldRetryTransientAndRateLimited(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond)

	transient := NewCapabilityError("recognition", KindTransient, errors.New("backend hiccup"))
	rateLimited := NewCapabilityError("recognition", KindRateLimited, errors.New("quota"))

	require.True(t, p.ShouldRetry(transient, 0))
	require.True(t, p.ShouldRetry(rateLimited, 2))
	require.False(t, p.ShouldRetry(transient, 3))
}

func TestShouldRetryNeverRetriesPermanent(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond)
	permanent := NewCapabilityError("recognition", KindPermanent, errors.New("bad input"))
	require.False(t, p.ShouldRetry(permanent, 0))
}

func TestShouldRetryNeverRetriesContextEndings(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond)
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
	require.False(t, p.ShouldRetry(nil, 0))
}

func TestShouldRetryUnclassifiedDefaultsToTransient(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond)
	require.True(t, p.ShouldRetry(errors.New("connection reset"), 0))
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	ceiling := 2 * time.Second
	p := NewRetryPolicy(5, base, ceiling)

	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		require.Positive(t, d, "attempt %d", attempt)
		require.LessOrEqual(t, d, ceiling, "attempt %d", attempt)
	}
}

func TestBackoffGrowsWithAttempts(t *testing.T) {
	p := NewRetryPolicy(5, 100*time.Millisecond, time.Hour)

	// The deterministic half of the delay doubles per attempt, so even with
	// jitter attempt 4 must exceed attempt 0's upper bound.
	require.Greater(t, p.Backoff(4), 100*time.Millisecond)
	require.LessOrEqual(t, p.Backoff(0), 100*time.Millisecond)
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	p := NewRetryPolicy(0, 0, 0)
	require.Equal(t, 3, p.MaxAttempts())
	require.Positive(t, p.Backoff(0))
}
