package auditlog

/*
Responsibilities
- Append one row per fetch attempt, success or failure
- Answer per-source rollups (success/error/conditional counts, bytes, timing)
- Answer "what did we last see for this URL" for conditional-request callers

This is a write-mostly audit trail; it never mutates a row once written.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type Log struct {
	db *sql.DB
}

func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Attempt describes one fetch attempt to be recorded.
type Attempt struct {
	SourceID        string
	URL             string
	Method          string
	RequestHeaders  map[string]string
	RequestAt       time.Time
	ResponseStatus  *int
	ResponseHeaders map[string]string
	ResponseAt      *time.Time
	ResponseSize    *int64
	DurationMs      *int64
	Error           string
	WasConditional  bool
	WasNotModified  bool
}

// RecordAttempt appends an audit row.
func (l *Log) RecordAttempt(ctx context.Context, a Attempt) error {
	reqHeaders, err := json.Marshal(a.RequestHeaders)
	if err != nil {
		return err
	}

	var respHeaders []byte
	if a.ResponseHeaders != nil {
		respHeaders, err = json.Marshal(a.ResponseHeaders)
		if err != nil {
			return err
		}
	}

	method := a.Method
	if method == "" {
		method = "GET"
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO crawl_requests
			(source_id, url, method, request_headers, request_at, response_status,
			 response_headers, response_at, response_size, duration_ms, error,
			 was_conditional, was_not_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SourceID, a.URL, method, string(reqHeaders), timeString(a.RequestAt),
		nullableInt(a.ResponseStatus), nullableBytes(respHeaders), nullableTimePtr(a.ResponseAt),
		nullableInt64(a.ResponseSize), nullableInt64(a.DurationMs), nullableString(a.Error),
		boolToInt(a.WasConditional), boolToInt(a.WasNotModified),
	)
	return err
}

// SourceStats is the per-source request rollup.
type SourceStats struct {
	SourceID             string
	TotalRequests        int64
	Success200           int64
	NotModified304       int64
	Errors               int64
	ConditionalRequests  int64
	AvgDurationMs        float64
	TotalBytes           int64
}

// SourceStats aggregates crawl_requests for one source.
func (l *Log) SourceStats(ctx context.Context, sourceID string) (SourceStats, error) {
	stats := SourceStats{SourceID: sourceID}
	row := l.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN response_status = 200 THEN 1 ELSE 0 END),
			SUM(CASE WHEN response_status = 304 THEN 1 ELSE 0 END),
			SUM(CASE WHEN response_status >= 400 THEN 1 ELSE 0 END),
			SUM(was_conditional),
			AVG(duration_ms),
			SUM(response_size)
		FROM crawl_requests WHERE source_id = ?`, sourceID)

	var avg, totalBytes sql.NullFloat64
	var success, notModified, errs, conditional sql.NullInt64
	err := row.Scan(&stats.TotalRequests, &success, &notModified, &errs, &conditional, &avg, &totalBytes)
	if err != nil {
		return stats, err
	}
	stats.Success200 = success.Int64
	stats.NotModified304 = notModified.Int64
	stats.Errors = errs.Int64
	stats.ConditionalRequests = conditional.Int64
	stats.AvgDurationMs = avg.Float64
	stats.TotalBytes = int64(totalBytes.Float64)
	return stats, nil
}

// LastRequestForURL returns the most recent recorded attempt against url
// for a source, used by conditional-fetch callers that want the last
// known outcome without consulting the frontier's cache columns.
func (l *Log) LastRequestForURL(ctx context.Context, sourceID, url string) (Attempt, bool, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT method, request_at, response_status, response_at, response_size, duration_ms, error, was_conditional, was_not_modified
		FROM crawl_requests
		WHERE source_id = ? AND url = ?
		ORDER BY request_at DESC
		LIMIT 1`, sourceID, url)

	var a Attempt
	a.SourceID = sourceID
	a.URL = url
	var requestAt string
	var responseStatus sql.NullInt64
	var responseAt sql.NullString
	var responseSize, durationMs sql.NullInt64
	var errStr sql.NullString
	var wasConditional, wasNotModified int

	err := row.Scan(&a.Method, &requestAt, &responseStatus, &responseAt, &responseSize, &durationMs, &errStr, &wasConditional, &wasNotModified)
	if err == sql.ErrNoRows {
		return Attempt{}, false, nil
	}
	if err != nil {
		return Attempt{}, false, err
	}

	if t, perr := time.Parse(time.RFC3339Nano, requestAt); perr == nil {
		a.RequestAt = t
	}
	if responseStatus.Valid {
		v := int(responseStatus.Int64)
		a.ResponseStatus = &v
	}
	if responseSize.Valid {
		v := responseSize.Int64
		a.ResponseSize = &v
	}
	if durationMs.Valid {
		v := durationMs.Int64
		a.DurationMs = &v
	}
	a.Error = errStr.String
	a.WasConditional = wasConditional != 0
	a.WasNotModified = wasNotModified != 0

	return a, true, nil
}

func timeString(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return timeString(*t)
}

func nullableInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullableInt64(i *int64) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
