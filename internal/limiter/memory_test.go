package limiter_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/crawlcore/internal/limiter"
)

func TestMemoryBackendAcquireSerializesOneDomain(t *testing.T) {
	ctx := context.Background()
	params := limiter.DefaultParams()
	params.BaseDelay = 20 * time.Millisecond
	m := limiter.NewMemoryBackend(params)

	wait1, err := m.Acquire(ctx, "example.com")
	require.NoError(t, err)
	require.Zero(t, wait1)

	wait2, err := m.Acquire(ctx, "example.com")
	require.NoError(t, err)
	require.Greater(t, wait2, time.Duration(0))
}

func TestMemoryBackendOnRateLimitedEscalates(t *testing.T) {
	ctx := context.Background()
	params := limiter.DefaultParams()
	params.BackoffInitial = 10 * time.Millisecond
	params.BackoffMax = 100 * time.Millisecond
	params.Multiplier = 2.0
	m := limiter.NewMemoryBackend(params)

	require.NoError(t, m.OnRateLimited(ctx, "example.com", nil))
	wait1, _ := m.Acquire(ctx, "example.com")

	require.NoError(t, m.OnRateLimited(ctx, "example.com", nil))
	wait2, _ := m.Acquire(ctx, "example.com")
	require.GreaterOrEqual(t, wait2, wait1)
}

func TestMemoryBackendOnRateLimitedHonorsRetryAfter(t *testing.T) {
	ctx := context.Background()
	m := limiter.NewMemoryBackend(limiter.DefaultParams())
	retryAfter := 5 * time.Second
	require.NoError(t, m.OnRateLimited(ctx, "example.com", &retryAfter))

	wait, err := m.Acquire(ctx, "example.com")
	require.NoError(t, err)
	require.GreaterOrEqual(t, wait, 4*time.Second)
}

func TestMemoryBackend403CountIsDistinctURLsWithinWindow(t *testing.T) {
	ctx := context.Background()
	m := limiter.NewMemoryBackend(limiter.DefaultParams())

	require.NoError(t, m.Record403(ctx, "example.com", "https://example.com/a"))
	require.NoError(t, m.Record403(ctx, "example.com", "https://example.com/a"))
	require.NoError(t, m.Record403(ctx, "example.com", "https://example.com/b"))

	count, err := m.Get403Count(ctx, "example.com", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = m.Get403Count(ctx, "example.com", time.Nanosecond)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestMemoryBackendCleanupExpiredPrunesOldHits(t *testing.T) {
	ctx := context.Background()
	m := limiter.NewMemoryBackend(limiter.DefaultParams())
	require.NoError(t, m.Record403(ctx, "example.com", "https://example.com/a"))

	removed, err := m.CleanupExpired(ctx, time.Nanosecond)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	count, err := m.Get403Count(ctx, "example.com", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

// TestMemoryBackendConcurrentAccess stress-tests the shared domain map: many
// goroutines hammering a fixed pool of domains with randomized operations,
// run with -race.
func TestMemoryBackendConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := limiter.NewMemoryBackend(limiter.DefaultParams())
	domains := []string{"a.example", "b.example", "c.example", "d.example"}

	var wg sync.WaitGroup
	workers := 40
	opsPerWorker := 200

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(id)))
			for j := 0; j < opsPerWorker; j++ {
				d := domains[r.Intn(len(domains))]
				switch r.Intn(5) {
				case 0:
					_, _ = m.Acquire(ctx, d)
				case 1:
					_ = m.OnSuccess(ctx, d)
				case 2:
					_ = m.OnRateLimited(ctx, d, nil)
				case 3:
					_ = m.Record403(ctx, d, "https://"+d+"/x")
				case 4:
					_, _ = m.Get403Count(ctx, d, time.Minute)
				}
			}
		}(i)
	}
	wg.Wait()
}
