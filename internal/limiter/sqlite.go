package limiter

import (
	"context"
	"database/sql"
	"math"
	"time"
)

// SQLiteBackend persists domain rate-limit state in the shared crawl
// database, so multiple processes fetching from the same embedded file
// coordinate through one set of tables instead of racing independent
// in-memory state.
type SQLiteBackend struct {
	db     *sql.DB
	params Params
}

func NewSQLiteBackend(db *sql.DB, params Params) *SQLiteBackend {
	return &SQLiteBackend{db: db, params: params}
}

func (s *SQLiteBackend) Acquire(ctx context.Context, domain string) (time.Duration, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	nowMs := time.Now().UnixMilli()

	var currentDelayMs int64
	var lastRequestAt sql.NullInt64
	row := tx.QueryRowContext(ctx, `
		SELECT current_delay_ms, last_request_at FROM rate_limit_domains WHERE domain = ?`, domain)
	err = row.Scan(&currentDelayMs, &lastRequestAt)

	var wait time.Duration
	switch {
	case err == sql.ErrNoRows:
		baseMs := int64(s.params.BaseDelay / time.Millisecond)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rate_limit_domains (domain, current_delay_ms, total_requests) VALUES (?, ?, 0)`,
			domain, baseMs); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		if lastRequestAt.Valid {
			readyAt := lastRequestAt.Int64 + currentDelayMs
			if readyAt > nowMs {
				wait = time.Duration(readyAt-nowMs) * time.Millisecond
			}
		}
	}

	requestAt := nowMs + wait.Milliseconds()
	if _, err := tx.ExecContext(ctx, `
		UPDATE rate_limit_domains SET last_request_at = ?, total_requests = total_requests + 1 WHERE domain = ?`,
		requestAt, domain); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return wait, nil
}

// OnSuccess increments consecutive_successes and, only once it reaches
// RecoveryThreshold with no 403s recorded in RecoveryWindow, multiplicatively
// decreases current_delay_ms toward BaseDelay and resets the streak. A lone
// clean response does not clear backoff by itself.
func (s *SQLiteBackend) OnSuccess(ctx context.Context, domain string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	baseMs := int64(s.params.BaseDelay / time.Millisecond)

	var currentDelayMs, consecutiveSuccesses int64
	row := tx.QueryRowContext(ctx, `
		SELECT current_delay_ms, consecutive_successes FROM rate_limit_domains WHERE domain = ?`, domain)
	switch err := row.Scan(&currentDelayMs, &consecutiveSuccesses); {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rate_limit_domains (domain, current_delay_ms, consecutive_successes, in_backoff)
			VALUES (?, ?, 1, 0)`, domain, baseMs); err != nil {
			return err
		}
		return tx.Commit()
	case err != nil:
		return err
	}

	cutoff := time.Now().Add(-s.params.RecoveryWindow).UnixMilli()
	var recent403 int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT url) FROM rate_limit_403s WHERE domain = ? AND timestamp_ms > ?`,
		domain, cutoff).Scan(&recent403); err != nil {
		return err
	}
	if recent403 > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE rate_limit_domains SET consecutive_successes = 0 WHERE domain = ?`, domain); err != nil {
			return err
		}
		return tx.Commit()
	}

	consecutiveSuccesses++
	newDelayMs := currentDelayMs
	if consecutiveSuccesses >= int64(s.params.RecoveryThreshold) && currentDelayMs > baseMs {
		multiplier := s.params.Multiplier
		if multiplier <= 1 {
			multiplier = 2.0
		}
		newDelayMs = int64(math.Round(float64(currentDelayMs) / multiplier))
		if newDelayMs < baseMs {
			newDelayMs = baseMs
		}
		consecutiveSuccesses = 0
	}

	inBackoff := 0
	if newDelayMs > baseMs {
		inBackoff = 1
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rate_limit_domains SET current_delay_ms = ?, consecutive_successes = ?, in_backoff = ? WHERE domain = ?`,
		newDelayMs, consecutiveSuccesses, inBackoff, domain); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteBackend) OnRateLimited(ctx context.Context, domain string, retryAfter *time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var currentDelayMs int64
	var hits int64
	row := tx.QueryRowContext(ctx, `SELECT current_delay_ms, rate_limit_hits FROM rate_limit_domains WHERE domain = ?`, domain)
	err = row.Scan(&currentDelayMs, &hits)
	if err == sql.ErrNoRows {
		currentDelayMs = int64(s.params.BackoffInitial / time.Millisecond)
		hits = 0
	} else if err != nil {
		return err
	}

	var nextDelayMs int64
	if retryAfter != nil {
		nextDelayMs = retryAfter.Milliseconds()
	} else {
		initial := float64(s.params.BackoffInitial / time.Millisecond)
		delay := initial
		if currentDelayMs > 0 {
			delay = float64(currentDelayMs) * s.params.Multiplier
		}
		if max := float64(s.params.BackoffMax / time.Millisecond); max > 0 && delay > max {
			delay = max
		}
		nextDelayMs = int64(math.Round(delay))
	}

	nowMs := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_limit_domains (domain, current_delay_ms, in_backoff, rate_limit_hits, last_request_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			current_delay_ms = ?,
			in_backoff = 1,
			consecutive_successes = 0,
			rate_limit_hits = rate_limit_hits + 1,
			last_request_at = COALESCE(last_request_at, ?)`,
		domain, nextDelayMs, hits+1, nowMs, nextDelayMs, nowMs)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteBackend) Record403(ctx context.Context, domain, url string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limit_403s (domain, url, timestamp_ms) VALUES (?, ?, ?)`,
		domain, url, time.Now().UnixMilli())
	return err
}

func (s *SQLiteBackend) Get403Count(ctx context.Context, domain string, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window).UnixMilli()
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT url) FROM rate_limit_403s WHERE domain = ? AND timestamp_ms > ?`,
		domain, cutoff).Scan(&count)
	return count, err
}

func (s *SQLiteBackend) CleanupExpired(ctx context.Context, window time.Duration) (int64, error) {
	cutoff := time.Now().Add(-window).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_403s WHERE timestamp_ms <= ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
