package limiter

/*
Responsibilities
- Bookkeep each domain's request timing and backoff state
- Compute how long a caller must wait before its next request to a domain
- React to 403/429 responses by escalating backoff and tracking recent hits

Two backends share this interface: an in-memory one for a single process,
and a sqlite-backed one for multiple processes coordinating through the
same embedded database file. A third, externally-hosted KV backend is a
named Open Question (see DESIGN.md) left unimplemented because nothing in
the reference corpus provides a client for one.
*/

import (
	"context"
	"time"
)

// Limiter is the domain-keyed politeness gate every fetch goes through.
type Limiter interface {
	// Acquire returns how long the caller must wait before issuing the next
	// request to domain, and reserves that slot.
	Acquire(ctx context.Context, domain string) (time.Duration, error)
	// OnSuccess records a clean response for domain. Once RecoveryThreshold
	// clean responses in a row arrive with no 403s in RecoveryWindow, the
	// backoff delay is decreased toward BaseDelay; one success alone does
	// not clear it.
	OnSuccess(ctx context.Context, domain string) error
	// OnRateLimited escalates backoff for domain. retryAfter, if not nil,
	// overrides the computed exponential delay.
	OnRateLimited(ctx context.Context, domain string, retryAfter *time.Duration) error
	// Record403 appends a 403 event for domain/url to the rolling log.
	Record403(ctx context.Context, domain, url string) error
	// Get403Count counts distinct URLs that returned 403 for domain within window.
	Get403Count(ctx context.Context, domain string, window time.Duration) (int, error)
	// CleanupExpired deletes 403 events older than window.
	CleanupExpired(ctx context.Context, window time.Duration) (int64, error)
}

// Params configures backoff/jitter behavior shared by both backends.
type Params struct {
	BaseDelay      time.Duration
	Jitter         time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Multiplier     float64

	// RecoveryThreshold is how many consecutive clean responses (no 403s
	// within RecoveryWindow) a domain needs before its backoff delay is
	// decreased toward BaseDelay.
	RecoveryThreshold int
	// RecoveryWindow is how far back Record403 events are considered when
	// deciding whether a success streak counts toward RecoveryThreshold.
	RecoveryWindow time.Duration
}

// DefaultParams uses a 1s initial backoff, doubling, capped at 60s,
// recovering by halving every 3 clean responses with no 403s in 10 minutes.
func DefaultParams() Params {
	return Params{
		BaseDelay:         0,
		Jitter:            0,
		BackoffInitial:    1 * time.Second,
		BackoffMax:        60 * time.Second,
		Multiplier:        2.0,
		RecoveryThreshold: 3,
		RecoveryWindow:    10 * time.Minute,
	}
}
