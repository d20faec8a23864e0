package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidReport marks a report that was rejected and must not be retried.
	ErrInvalidReport = errors.New("invalid location report")
	// ErrUnknownConnection is returned for operations on a connection that is
	// not, or no longer, registered. Callers treat it as a no-op.
	ErrUnknownConnection = errors.New("unknown connection")
)

// InvalidReportError names the offending field of a rejected report.
type InvalidReportError struct {
	Field  string
	Reason string
}

func (e *InvalidReportError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidReport, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidReport.
func (e *InvalidReportError) Unwrap() error { return ErrInvalidReport }
