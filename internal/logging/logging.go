package logging

/*
Structured logging via zerolog, replacing a former Recorder stub (no
longer part of this repository). The fetch timestamps, status codes,
durations, and crawl depth handed to Recorder are written to the log
only; Recorder feeds nothing back into retry or scheduling decisions.
*/

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Recorder wraps a zerolog.Logger with the crawl-domain event vocabulary:
// fetch attempts, classified errors, and stored artifacts.
type Recorder struct {
	logger zerolog.Logger
}

// New builds a Recorder writing to w (os.Stdout if nil) at the given level.
func New(w io.Writer, level zerolog.Level) *Recorder {
	if w == nil {
		w = os.Stdout
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Recorder{logger: logger}
}

// NewConsole builds a Recorder with zerolog's human-readable console writer,
// for local/interactive runs.
func NewConsole(w io.Writer) *Recorder {
	if w == nil {
		w = os.Stdout
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	return &Recorder{logger: logger}
}

// RecordFetch logs one completed fetch attempt.
func (r *Recorder) RecordFetch(sourceID, domain, url string, status int, duration time.Duration, backoff time.Duration, depth int) {
	r.logger.Info().
		Str("source_id", sourceID).
		Str("domain", domain).
		Str("url", url).
		Int("status", status).
		Int64("duration_ms", duration.Milliseconds()).
		Int64("backoff_ms", backoff.Milliseconds()).
		Int("depth", depth).
		Msg("fetch")
}

// RecordError logs a classified failure.
func (r *Recorder) RecordError(sourceID, component, action, url string, err error) {
	r.logger.Error().
		Str("source_id", sourceID).
		Str("component", component).
		Str("action", action).
		Str("url", url).
		Err(err).
		Msg("error")
}

// RecordArtifact logs a document store write.
func (r *Recorder) RecordArtifact(sourceID, documentID, contentHash, filePath string, isNewVersion bool) {
	r.logger.Info().
		Str("source_id", sourceID).
		Str("document_id", documentID).
		Str("content_hash", contentHash).
		Str("file_path", filePath).
		Bool("is_new_version", isNewVersion).
		Msg("artifact")
}

// RecordRunSummary logs the terminal rollup of a completed crawl run.
// Computed once, after the run has fully stopped — never consulted to
// decide whether to continue.
func (r *Recorder) RecordRunSummary(sourceID string, fetched, failed, pending int, duration time.Duration) {
	r.logger.Info().
		Str("source_id", sourceID).
		Int("fetched", fetched).
		Int("failed", failed).
		Int("pending", pending).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("run_summary")
}

// Logger exposes the underlying zerolog.Logger for components that want
// to add their own fields (e.g. per-request child loggers).
func (r *Recorder) Logger() *zerolog.Logger {
	return &r.logger
}
