package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("export job not found")

	// ErrInvalidJobID is returned when a job id is not a UUID
	ErrInvalidJobID = errors.New("export id must be a valid UUID")

	// ErrNotReady is returned when a download is requested before completion
	ErrNotReady = errors.New("export is not completed yet")

	// ErrArtifactMissing is returned when a completed job has no file on storage
	ErrArtifactMissing = errors.New("export file not found")

	// ErrJobNotClaimable is returned when a worker tries to claim a job that is no longer pending
	ErrJobNotClaimable = errors.New("export job is not in pending status")

	// ErrQueueFull is returned when the worker pool cannot accept more jobs
	ErrQueueFull = errors.New("export queue is full")

	// ErrPoolStopped is returned when submitting to a stopped worker pool
	ErrPoolStopped = errors.New("export worker pool is stopped")
)

// ValidationError rejects a request before any job exists
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FailureKind tags why an export failed
type FailureKind string

const (
	FailureValidation  FailureKind = "validation"
	FailureDataSource  FailureKind = "data_source"
	FailureStorage     FailureKind = "storage"
	FailureInterrupted FailureKind = "interrupted"
)

// ExportError is the typed failure of a running export.
// Only Error() is persisted on the job.
type ExportError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// NewExportError wraps err with a failure kind and the failing operation
func NewExportError(kind FailureKind, op string, err error) error {
	return &ExportError{Kind: kind, Op: op, Err: err}
}

// FailureKindOf extracts the failure kind of err, defaulting to data_source
func FailureKindOf(err error) FailureKind {
	var exportErr *ExportError
	if errors.As(err, &exportErr) {
		return exportErr.Kind
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return FailureValidation
	}
	return FailureDataSource
}
