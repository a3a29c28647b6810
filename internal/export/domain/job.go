package domain

import (
	"fmt"
	"time"
)

const (
	// DefaultDelimiter is used when the request does not carry one
	DefaultDelimiter = ','
	// DefaultQuoteChar is used when the request does not carry one
	DefaultQuoteChar = '"'
)

// Job is one export request's full lifecycle record
type Job struct {
	ID            string
	Status        Status
	TotalRows     int64
	ProcessedRows int64
	Percentage    int
	Error         *string
	FilePath      *string
	CreatedAt     time.Time
	CompletedAt   *time.Time
	Filters       Filters
	Columns       string
	Delimiter     rune
	QuoteChar     rune
}

// JobUpdate carries the fields to change on a job; nil fields are left untouched
type JobUpdate struct {
	Status        *Status
	TotalRows     *int64
	ProcessedRows *int64
	Percentage    *int
	Error         *string
	FilePath      *string
	ClearFilePath bool
	CompletedAt   *time.Time
}

// IsEmpty reports whether the update would not change anything
func (u JobUpdate) IsEmpty() bool {
	return u.Status == nil && u.TotalRows == nil && u.ProcessedRows == nil &&
		u.Percentage == nil && u.Error == nil && u.FilePath == nil &&
		!u.ClearFilePath && u.CompletedAt == nil
}

// Percentage returns floor(processed*100/total), clamped to [0,100].
// An unknown or empty total yields 0.
func Percentage(processed, total int64) int {
	if total <= 0 || processed <= 0 {
		return 0
	}
	if processed >= total {
		return 100
	}
	return int(processed * 100 / total)
}

// ArtifactName is the deterministic file name of a job's export artifact
func ArtifactName(jobID string) string {
	return fmt.Sprintf("export_%s.csv", jobID)
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
