package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestMemoryBackendOnSuccessRecoversGraduallyAfterThreshold covers S4/§4.E's
// gradual-recovery rule: a single clean response must not clear backoff
// outright, only RecoveryThreshold consecutive clean responses (with no
// 403s in RecoveryWindow) multiplicatively decrease the delay toward
// BaseDelay. White-box (package limiter) so it can inspect backoffDelay
// directly instead of inferring it through Acquire's reservation stacking.
func TestMemoryBackendOnSuccessRecoversGraduallyAfterThreshold(t *testing.T) {
	ctx := context.Background()
	params := DefaultParams()
	params.BackoffInitial = 100 * time.Millisecond
	params.BackoffMax = 1000 * time.Millisecond
	params.Multiplier = 2.0
	params.RecoveryThreshold = 3
	params.RecoveryWindow = time.Hour
	m := NewMemoryBackend(params)

	require.NoError(t, m.OnRateLimited(ctx, "example.com", nil))
	require.NoError(t, m.OnRateLimited(ctx, "example.com", nil))
	escalated := m.get("example.com").backoffDelay
	require.Equal(t, 200*time.Millisecond, escalated)

	require.NoError(t, m.OnSuccess(ctx, "example.com"))
	require.NoError(t, m.OnSuccess(ctx, "example.com"))
	require.Equal(t, escalated, m.get("example.com").backoffDelay, "delay must not move before RecoveryThreshold is reached")

	require.NoError(t, m.OnSuccess(ctx, "example.com"))
	require.Equal(t, 100*time.Millisecond, m.get("example.com").backoffDelay, "third consecutive clean response should halve the delay")
	require.Zero(t, m.get("example.com").consecutiveSuccesses)
}

// TestMemoryBackendOnSuccessDoesNotRecoverAfterRecent403 verifies a 403
// within RecoveryWindow resets the consecutive-success streak instead of
// letting it count toward recovery.
func TestMemoryBackendOnSuccessDoesNotRecoverAfterRecent403(t *testing.T) {
	ctx := context.Background()
	params := DefaultParams()
	params.BackoffInitial = 100 * time.Millisecond
	params.BackoffMax = 1000 * time.Millisecond
	params.Multiplier = 2.0
	params.RecoveryThreshold = 2
	params.RecoveryWindow = time.Hour
	m := NewMemoryBackend(params)

	require.NoError(t, m.OnRateLimited(ctx, "example.com", nil))
	escalated := m.get("example.com").backoffDelay

	require.NoError(t, m.Record403(ctx, "example.com", "https://example.com/a"))
	require.NoError(t, m.OnSuccess(ctx, "example.com"))
	require.NoError(t, m.OnSuccess(ctx, "example.com"))

	require.Equal(t, escalated, m.get("example.com").backoffDelay, "a recent 403 must prevent recovery even across the threshold count")
	require.Zero(t, m.get("example.com").consecutiveSuccesses)
}

// TestMemoryBackendOnSuccessRecoveryFloorsAtZero verifies recovery stops
// clamping at zero rather than oscillating below it once BaseDelay is 0.
func TestMemoryBackendOnSuccessRecoveryFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	params := DefaultParams()
	params.BackoffInitial = 10 * time.Millisecond
	params.Multiplier = 2.0
	params.RecoveryThreshold = 1
	params.RecoveryWindow = time.Hour
	m := NewMemoryBackend(params)

	require.NoError(t, m.OnRateLimited(ctx, "example.com", nil))
	for i := 0; i < 30; i++ {
		require.NoError(t, m.OnSuccess(ctx, "example.com"))
	}

	s := m.get("example.com")
	require.Zero(t, s.backoffDelay)
	require.Zero(t, s.backoffCount)
}
