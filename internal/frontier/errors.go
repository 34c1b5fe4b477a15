package frontier

import (
	"fmt"

	"github.com/rohmanhakim/crawlcore/pkg/failure"
)

type FrontierErrorCause string

const (
	ErrCauseNotFound      FrontierErrorCause = "url not found"
	ErrCauseInvalidStatus FrontierErrorCause = "invalid status transition"
	ErrCauseDatabase      FrontierErrorCause = "database error"
)

type FrontierError struct {
	Message   string
	Retryable bool
	Cause     FrontierErrorCause
}

func (e *FrontierError) Error() string {
	return fmt.Sprintf("frontier error: %s: %s", e.Cause, e.Message)
}

func (e *FrontierError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}
