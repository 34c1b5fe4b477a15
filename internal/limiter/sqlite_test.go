package limiter_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/crawlcore/internal/limiter"
	"github.com/rohmanhakim/crawlcore/internal/storage"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteBackendAcquireSerializesOneDomain(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	params := limiter.DefaultParams()
	params.BaseDelay = 20 * time.Millisecond
	s := limiter.NewSQLiteBackend(db, params)

	wait1, err := s.Acquire(ctx, "example.com")
	require.NoError(t, err)
	require.Zero(t, wait1)

	wait2, err := s.Acquire(ctx, "example.com")
	require.NoError(t, err)
	require.Greater(t, wait2, time.Duration(0))
}

func TestSQLiteBackendOnRateLimitedPersistsBackoff(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	params := limiter.DefaultParams()
	params.BackoffInitial = 10 * time.Millisecond
	params.BackoffMax = 200 * time.Millisecond
	params.Multiplier = 2.0
	s := limiter.NewSQLiteBackend(db, params)

	require.NoError(t, s.OnRateLimited(ctx, "example.com", nil))
	wait1, err := s.Acquire(ctx, "example.com")
	require.NoError(t, err)
	require.Greater(t, wait1, time.Duration(0))
}

func currentDelayMs(t *testing.T, db *sql.DB, domain string) int64 {
	t.Helper()
	var delay int64
	require.NoError(t, db.QueryRow(`SELECT current_delay_ms FROM rate_limit_domains WHERE domain = ?`, domain).Scan(&delay))
	return delay
}

func consecutiveSuccesses(t *testing.T, db *sql.DB, domain string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow(`SELECT consecutive_successes FROM rate_limit_domains WHERE domain = ?`, domain).Scan(&n))
	return n
}

// TestSQLiteBackendOnSuccessRecoversGraduallyAfterThreshold mirrors the
// in-memory backend's S4/§4.E gradual-recovery rule: a single clean
// response must not clear current_delay_ms outright, only
// RecoveryThreshold consecutive clean responses (no 403s in RecoveryWindow)
// multiplicatively decrease it toward BaseDelay.
func TestSQLiteBackendOnSuccessRecoversGraduallyAfterThreshold(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	params := limiter.DefaultParams()
	params.BackoffInitial = 100 * time.Millisecond
	params.BackoffMax = 1000 * time.Millisecond
	params.Multiplier = 2.0
	params.RecoveryThreshold = 3
	params.RecoveryWindow = time.Hour
	s := limiter.NewSQLiteBackend(db, params)

	// First call: no row yet, seeded at BackoffInitial then escalated once
	// (100ms -> 200ms). Second call escalates again (200ms -> 400ms).
	require.NoError(t, s.OnRateLimited(ctx, "example.com", nil))
	require.NoError(t, s.OnRateLimited(ctx, "example.com", nil))
	require.Equal(t, int64(400), currentDelayMs(t, db, "example.com"))

	require.NoError(t, s.OnSuccess(ctx, "example.com"))
	require.NoError(t, s.OnSuccess(ctx, "example.com"))
	require.Equal(t, int64(400), currentDelayMs(t, db, "example.com"), "delay must not move before RecoveryThreshold is reached")

	require.NoError(t, s.OnSuccess(ctx, "example.com"))
	require.Equal(t, int64(200), currentDelayMs(t, db, "example.com"), "third consecutive clean response should halve the delay")
	require.Zero(t, consecutiveSuccesses(t, db, "example.com"))
}

// TestSQLiteBackendOnSuccessDoesNotRecoverAfterRecent403 verifies a 403
// within RecoveryWindow resets the consecutive-success streak instead of
// letting it count toward recovery.
func TestSQLiteBackendOnSuccessDoesNotRecoverAfterRecent403(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	params := limiter.DefaultParams()
	params.BackoffInitial = 100 * time.Millisecond
	params.BackoffMax = 1000 * time.Millisecond
	params.Multiplier = 2.0
	params.RecoveryThreshold = 2
	params.RecoveryWindow = time.Hour
	s := limiter.NewSQLiteBackend(db, params)

	require.NoError(t, s.OnRateLimited(ctx, "example.com", nil))
	escalated := currentDelayMs(t, db, "example.com")

	require.NoError(t, s.Record403(ctx, "example.com", "https://example.com/a"))
	require.NoError(t, s.OnSuccess(ctx, "example.com"))
	require.NoError(t, s.OnSuccess(ctx, "example.com"))

	require.Equal(t, escalated, currentDelayMs(t, db, "example.com"), "a recent 403 must prevent recovery even across the threshold count")
	require.Zero(t, consecutiveSuccesses(t, db, "example.com"))
}

func TestSQLiteBackend403CountAndCleanup(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := limiter.NewSQLiteBackend(db, limiter.DefaultParams())

	require.NoError(t, s.Record403(ctx, "example.com", "https://example.com/a"))
	require.NoError(t, s.Record403(ctx, "example.com", "https://example.com/a"))
	require.NoError(t, s.Record403(ctx, "example.com", "https://example.com/b"))

	count, err := s.Get403Count(ctx, "example.com", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	removed, err := s.CleanupExpired(ctx, time.Nanosecond)
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)

	count, err = s.Get403Count(ctx, "example.com", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

// TestSQLiteBackendCoordinatesAcrossInstances verifies two independent
// SQLiteBackend values sharing the same db coordinate through the table
// rather than process-local memory, the property an in-memory backend can't
// provide across processes.
func TestSQLiteBackendCoordinatesAcrossInstances(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	params := limiter.DefaultParams()
	params.BaseDelay = 30 * time.Millisecond

	a := limiter.NewSQLiteBackend(db, params)
	b := limiter.NewSQLiteBackend(db, params)

	wait1, err := a.Acquire(ctx, "example.com")
	require.NoError(t, err)
	require.Zero(t, wait1)

	wait2, err := b.Acquire(ctx, "example.com")
	require.NoError(t, err)
	require.Greater(t, wait2, time.Duration(0))
}
