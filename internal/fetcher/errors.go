package fetcher

import (
	"fmt"

	"github.com/rohmanhakim/crawlcore/pkg/failure"
)

type FetchErrorCause string

const (
	ErrCauseTimeout        FetchErrorCause = "timeout"
	ErrCauseNetworkFailure FetchErrorCause = "network issues"
	ErrCauseBuildRequest   FetchErrorCause = "failed to build request"
	ErrCauseReadBody       FetchErrorCause = "failed to read response body"
)

// FetchError is only returned for failures that prevent a classified
// Outcome from being produced at all (request construction, transport
// failure, body read failure). Everything a server actually answered —
// 2xx/3xx/4xx/5xx — is surfaced as an Outcome, never an error.
type FetchError struct {
	Message   string
	Retryable bool
	Cause     FetchErrorCause
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error: %s: %s", e.Cause, e.Message)
}

func (e *FetchError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *FetchError) IsRetryable() bool {
	return e.Retryable
}
