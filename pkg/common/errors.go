package common

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks loss of graph store connectivity. It aborts a batch once
	// the retry budget is spent.
	ErrStoreUnavailable = errors.New("graph store unavailable")
	// ErrBatchAborted is returned when too many publications failed to write.
	ErrBatchAborted = errors.New("batch aborted")
)

// TransientIOError wraps a network or service failure that is worth retrying.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient io error during %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientIOError unless it is nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientIOError{Op: op, Err: err}
}

// MalformedRecordError reports a publication with a missing required field.
type MalformedRecordError struct {
	PublicationID string
	Field         string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed publication %q: missing %s", e.PublicationID, e.Field)
}

// ExtractionFailure reports an annotator that failed or returned unusable output.
type ExtractionFailure struct {
	Annotator string
	Err       error
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("annotator %s failed: %v", e.Annotator, e.Err)
}

func (e *ExtractionFailure) Unwrap() error { return e.Err }

// GraphWriteError reports a failed publication write unit.
type GraphWriteError struct {
	PublicationID string
	Err           error
}

func (e *GraphWriteError) Error() string {
	return fmt.Sprintf("graph write failed for publication %q: %v", e.PublicationID, e.Err)
}

func (e *GraphWriteError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried. Per attempt timeouts count as transient,
// cancellation does not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var t *TransientIOError
	if errors.As(err, &t) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStoreUnavailable)
}

// FailureKind is the label used in batch summaries and metrics.
type FailureKind string

const (
	FailureMalformed  FailureKind = "malformed_record"
	FailureExtraction FailureKind = "extraction_failure"
	FailureGraphWrite FailureKind = "graph_write"
	FailureTransient  FailureKind = "transient_io"
	FailureCanceled   FailureKind = "canceled"
	FailureInternal   FailureKind = "internal"
)

// Classify maps an error onto the failure taxonomy.
func Classify(err error) FailureKind {
	var (
		malformed  *MalformedRecordError
		extraction *ExtractionFailure
		write      *GraphWriteError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.As(err, &malformed):
		return FailureMalformed
	case errors.As(err, &write):
		return FailureGraphWrite
	case errors.As(err, &extraction):
		return FailureExtraction
	case IsTransient(err):
		return FailureTransient
	}
	return FailureInternal
}
