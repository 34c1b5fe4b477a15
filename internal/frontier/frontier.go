package frontier

/*
Responsibilities
- Own the durable claim protocol: Discovered -> Fetching -> Fetched/Failed/Exhausted
- Serialize admission by depth then discovery order (breadth-first bias)
- Track retry schedules and the SHA-256 config-hash invalidation
- Report crawl state (pending, unexplored branches) to whoever drives the loop

Knows nothing about fetching, rate limiting, or document storage — those
are the orchestrator's job to wire together.
*/

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

type Frontier struct {
	db *sql.DB
}

func New(db *sql.DB) *Frontier {
	return &Frontier{db: db}
}

// Add inserts a newly discovered URL. If the (source_id, url) pair already
// exists the insert is a no-op (INSERT OR IGNORE semantics) — discovery is
// idempotent, a URL can be rediscovered from many parents without
// duplicating frontier rows.
func (f *Frontier) Add(ctx context.Context, u CrawlURL) error {
	if u.DiscoveryContext == "" {
		u.DiscoveryContext = "{}"
	}
	_, err := f.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO crawl_urls
			(source_id, url, status, discovery_method, parent_url, discovery_context, depth, discovered_at)
		VALUES (?, ?, 'discovered', ?, ?, ?, ?, ?)`,
		u.SourceID, u.URL, string(u.DiscoveryMethod), nullableString(u.ParentURL), u.DiscoveryContext, u.Depth, timeString(time.Now()),
	)
	if err != nil {
		return &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	return nil
}

// Claim atomically reserves the single highest-priority pending URL
// (lowest depth, then earliest discovered) for a source, flipping its
// status from discovered to fetching. Returns (CrawlURL{}, false, nil)
// when nothing is claimable.
func (f *Frontier) Claim(ctx context.Context, sourceID string) (CrawlURL, bool, error) {
	claimed, err := f.ClaimN(ctx, sourceID, 1)
	if err != nil {
		return CrawlURL{}, false, err
	}
	if len(claimed) == 0 {
		return CrawlURL{}, false, nil
	}
	return claimed[0], true, nil
}

// ClaimN atomically reserves up to limit pending URLs for a source in one
// transaction, so concurrent workers (or processes sharing the same
// database file) never claim the same row twice.
func (f *Frontier) ClaimN(ctx context.Context, sourceID string, limit int) ([]CrawlURL, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, source_id, url, status, discovery_method, parent_url, discovery_context,
		       depth, discovered_at, fetched_at, retry_count, last_error, next_retry_at,
		       etag, last_modified, content_hash, document_id
		FROM crawl_urls
		WHERE source_id = ? AND status = 'discovered'
		ORDER BY depth ASC, discovered_at ASC
		LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}

	var claimed []CrawlURL
	for rows.Next() {
		u, err := scanCrawlURL(rows)
		if err != nil {
			rows.Close()
			return nil, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
		}
		claimed = append(claimed, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	rows.Close()

	for i := range claimed {
		if _, err := tx.ExecContext(ctx, `UPDATE crawl_urls SET status = 'fetching' WHERE id = ?`, claimed[i].ID); err != nil {
			return nil, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
		}
		claimed[i].Status = StatusFetching
	}

	if err := tx.Commit(); err != nil {
		return nil, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	return claimed, nil
}

// RecordResult transitions a claimed URL out of fetching into a terminal
// or retry state, updating conditional-fetch cache keys and content hash
// as appropriate. nextRetryAt is only meaningful when status is failed or
// exhausted.
func (f *Frontier) RecordResult(ctx context.Context, id int64, status UrlStatus, fields ResultFields) error {
	_, err := f.db.ExecContext(ctx, `
		UPDATE crawl_urls SET
			status = ?,
			fetched_at = ?,
			retry_count = ?,
			last_error = ?,
			next_retry_at = ?,
			etag = ?,
			last_modified = ?,
			content_hash = ?,
			document_id = ?
		WHERE id = ?`,
		string(status), nullableTime(fields.FetchedAt), fields.RetryCount, nullableString(fields.LastError),
		nullableTime(fields.NextRetryAt), nullableString(fields.ETag), nullableString(fields.LastModified),
		nullableString(fields.ContentHash), nullableString(fields.DocumentID), id,
	)
	if err != nil {
		return &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	return nil
}

// ResultFields carries the columns RecordResult updates after a fetch
// attempt completes.
type ResultFields struct {
	FetchedAt    *time.Time
	RetryCount   int
	LastError    string
	NextRetryAt  *time.Time
	ETag         string
	LastModified string
	ContentHash  string
	DocumentID   string
}

// MarkForRefresh resets a fetched URL back to discovered so it is claimed
// and conditionally re-fetched on the next pass.
func (f *Frontier) MarkForRefresh(ctx context.Context, id int64) error {
	_, err := f.db.ExecContext(ctx, `UPDATE crawl_urls SET status = 'discovered' WHERE id = ?`, id)
	if err != nil {
		return &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	return nil
}

// GetURLsNeedingRefresh returns fetched URLs older than maxAge for a source.
func (f *Frontier) GetURLsNeedingRefresh(ctx context.Context, sourceID string, maxAge time.Duration) ([]CrawlURL, error) {
	cutoff := timeString(time.Now().Add(-maxAge))
	rows, err := f.db.QueryContext(ctx, `
		SELECT id, source_id, url, status, discovery_method, parent_url, discovery_context,
		       depth, discovered_at, fetched_at, retry_count, last_error, next_retry_at,
		       etag, last_modified, content_hash, document_id
		FROM crawl_urls
		WHERE source_id = ? AND status = 'fetched' AND fetched_at < ?
		ORDER BY fetched_at ASC`, sourceID, cutoff)
	if err != nil {
		return nil, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	defer rows.Close()
	return scanAll(rows)
}

// Retryable returns failed URLs whose retry delay has elapsed, and
// exhausted URLs whose next_retry_at (or, when that is unset, last
// fetched_at) is older than exhaustedRetryWindow, in the order
// they should be retried (fewest attempts first, then oldest).
func (f *Frontier) Retryable(ctx context.Context, sourceID string, limit int) ([]CrawlURL, error) {
	now := time.Now()
	exhaustedCutoff := timeString(now.Add(-exhaustedRetryWindow))
	nowStr := timeString(now)

	rows, err := f.db.QueryContext(ctx, `
		SELECT id, source_id, url, status, discovery_method, parent_url, discovery_context,
		       depth, discovered_at, fetched_at, retry_count, last_error, next_retry_at,
		       etag, last_modified, content_hash, document_id
		FROM crawl_urls
		WHERE source_id = ?
		AND (
			(status = 'failed' AND (next_retry_at IS NULL OR next_retry_at <= ?))
			OR (status = 'exhausted' AND COALESCE(next_retry_at, fetched_at) < ?)
		)
		ORDER BY retry_count ASC, discovered_at ASC
		LIMIT ?`, sourceID, nowStr, exhaustedCutoff, limit)
	if err != nil {
		return nil, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	defer rows.Close()
	return scanAll(rows)
}

// CrawlState computes the status rollup used to decide whether a source's
// crawl is idle: no pending URLs and no fetched page still has unexplored
// discovered-but-not-yet-followed branches.
func (f *Frontier) CrawlState(ctx context.Context, sourceID string) (CrawlState, error) {
	state := CrawlState{SourceID: sourceID}

	rows, err := f.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM crawl_urls WHERE source_id = ? GROUP BY status`, sourceID)
	if err != nil {
		return state, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return state, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
		}
		state.URLsDiscovered += count
		switch UrlStatus(status) {
		case StatusFetched:
			state.URLsFetched += count
		case StatusFailed, StatusExhausted:
			state.URLsFailed += count
		case StatusDiscovered, StatusFetching:
			state.URLsPending += count
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return state, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	state.HasPendingURLs = state.URLsPending > 0

	var oldest sql.NullString
	err = f.db.QueryRowContext(ctx, `
		SELECT MIN(discovered_at) FROM crawl_urls
		WHERE source_id = ? AND status IN ('discovered', 'fetching')`, sourceID).Scan(&oldest)
	if err != nil {
		return state, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	if oldest.Valid {
		if t, perr := time.Parse(time.RFC3339Nano, oldest.String); perr == nil {
			state.OldestPendingURL = &t
		}
	}

	var unexplored int
	err = f.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM crawl_urls
		WHERE source_id = ? AND status = 'fetched'
		AND discovery_method IN ('html_link', 'pagination', 'api_result')
		AND depth < 10
		AND explored = 0`, sourceID).Scan(&unexplored)
	if err != nil {
		return state, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	state.HasUnexploredBranches = unexplored > 0

	return state, nil
}

// MarkExplored records that a discovery strategy has already run over a
// fetched URL's body, so CrawlState stops counting it as an unexplored
// branch even if it turned out to have no outgoing links.
func (f *Frontier) MarkExplored(ctx context.Context, id int64) error {
	_, err := f.db.ExecContext(ctx, `UPDATE crawl_urls SET explored = 1 WHERE id = ?`, id)
	if err != nil {
		return &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	return nil
}

// CheckConfigChanged compares the SHA-256 hash of the serialized scraper
// config against what was last stored for this source. If it changed and
// there is pending work in the frontier, callers should clear that pending
// work so it re-admits under the new config.
func (f *Frontier) CheckConfigChanged(ctx context.Context, sourceID string, serializedConfig []byte) (changed bool, hasPending bool, err error) {
	sum := sha256.Sum256(serializedConfig)
	newHash := hex.EncodeToString(sum[:])

	var storedHash string
	row := f.db.QueryRowContext(ctx, `SELECT config_hash FROM crawl_config WHERE source_id = ?`, sourceID)
	scanErr := row.Scan(&storedHash)
	switch {
	case scanErr == sql.ErrNoRows:
		changed = true
	case scanErr != nil:
		return false, false, &FrontierError{Message: scanErr.Error(), Retryable: true, Cause: ErrCauseDatabase}
	default:
		changed = storedHash != newHash
	}

	if !changed {
		return false, false, nil
	}

	var pending int
	err = f.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM crawl_urls
		WHERE source_id = ? AND status IN ('discovered', 'fetching')`, sourceID).Scan(&pending)
	if err != nil {
		return changed, false, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}

	return true, pending > 0, nil
}

// StoreConfigHash persists the SHA-256 hash of the serialized config that
// was just applied, so future CheckConfigChanged calls compare against it.
func (f *Frontier) StoreConfigHash(ctx context.Context, sourceID string, serializedConfig []byte) error {
	sum := sha256.Sum256(serializedConfig)
	hash := hex.EncodeToString(sum[:])
	_, err := f.db.ExecContext(ctx, `
		INSERT INTO crawl_config (source_id, config_hash, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET config_hash = excluded.config_hash, updated_at = excluded.updated_at`,
		sourceID, hash, timeString(time.Now()),
	)
	if err != nil {
		return &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	return nil
}

// ClearPending deletes discovered/fetching/failed rows for a source, used
// when a config change invalidates in-flight work without touching fetched
// history.
func (f *Frontier) ClearPending(ctx context.Context, sourceID string) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM crawl_urls WHERE source_id = ? AND status IN ('discovered', 'fetching', 'failed')`, sourceID); err != nil {
		return &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM crawl_requests WHERE source_id = ?`, sourceID); err != nil {
		return &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	return tx.Commit()
}

// ClearAll wipes every frontier and audit-log row for a source, used when
// a source is deleted or fully reset.
func (f *Frontier) ClearAll(ctx context.Context, sourceID string) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	defer tx.Rollback()

	for _, table := range []string{"crawl_urls", "crawl_requests", "crawl_config"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE source_id = ?`, table), sourceID); err != nil {
			return &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
		}
	}
	return tx.Commit()
}

// ReapStaleFetching resets rows stuck in fetching (from a crash mid-claim)
// back to discovered. Run once at orchestrator startup.
func (f *Frontier) ReapStaleFetching(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := timeString(time.Now().Add(-olderThan))
	res, err := f.db.ExecContext(ctx, `
		UPDATE crawl_urls SET status = 'discovered'
		WHERE status = 'fetching' AND discovered_at < ?`, cutoff)
	if err != nil {
		return 0, &FrontierError{Message: err.Error(), Retryable: true, Cause: ErrCauseDatabase}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanAll(rows *sql.Rows) ([]CrawlURL, error) {
	var out []CrawlURL
	for rows.Next() {
		u, err := scanCrawlURL(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanCrawlURL(rows *sql.Rows) (CrawlURL, error) {
	var u CrawlURL
	var status, method string
	var parentURL, lastError, etag, lastModified, contentHash, documentID sql.NullString
	var discoveredAt string
	var fetchedAt, nextRetryAt sql.NullString

	err := rows.Scan(
		&u.ID, &u.SourceID, &u.URL, &status, &method, &parentURL, &u.DiscoveryContext,
		&u.Depth, &discoveredAt, &fetchedAt, &u.RetryCount, &lastError, &nextRetryAt,
		&etag, &lastModified, &contentHash, &documentID,
	)
	if err != nil {
		return CrawlURL{}, err
	}

	u.Status = UrlStatus(status)
	u.DiscoveryMethod = DiscoveryMethod(method)
	u.ParentURL = parentURL.String
	u.LastError = lastError.String
	u.ETag = etag.String
	u.LastModified = lastModified.String
	u.ContentHash = contentHash.String
	u.DocumentID = documentID.String

	if t, perr := time.Parse(time.RFC3339Nano, discoveredAt); perr == nil {
		u.DiscoveredAt = t
	}
	if fetchedAt.Valid {
		if t, perr := time.Parse(time.RFC3339Nano, fetchedAt.String); perr == nil {
			u.FetchedAt = &t
		}
	}
	if nextRetryAt.Valid {
		if t, perr := time.Parse(time.RFC3339Nano, nextRetryAt.String); perr == nil {
			u.NextRetryAt = &t
		}
	}

	return u, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return timeString(*t)
}

func timeString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
