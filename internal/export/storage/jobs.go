package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/csv-export-service/internal/export/domain"
	"github.com/jmoiron/sqlx"
)

// JobStore persists export jobs. Every call runs as its own short statement
// on the pool, so progress writes never share a connection with an export scan.
type JobStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewJobStore creates a new JobStore instance
func NewJobStore(db *sqlx.DB, logger *slog.Logger) *JobStore {
	return &JobStore{
		db:     db,
		logger: logger,
	}
}

type jobRow struct {
	ID            string         `db:"id"`
	Status        string         `db:"status"`
	TotalRows     int64          `db:"total_rows"`
	ProcessedRows int64          `db:"processed_rows"`
	Percentage    int            `db:"percentage"`
	Error         sql.NullString `db:"error"`
	FilePath      sql.NullString `db:"file_path"`
	Filters       sql.NullString `db:"filters"`
	Columns       sql.NullString `db:"columns"`
	Delimiter     string         `db:"delimiter"`
	QuoteChar     string         `db:"quote_char"`
	CreatedAt     time.Time      `db:"created_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
}

const jobColumns = `id, status, total_rows, processed_rows, percentage, error, file_path,
	filters, columns, delimiter, quote_char, created_at, completed_at`

func (r *jobRow) toDomain() (*domain.Job, error) {
	filters, err := domain.DecodeFilters(r.Filters.String)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:            r.ID,
		Status:        domain.Status(r.Status),
		TotalRows:     r.TotalRows,
		ProcessedRows: r.ProcessedRows,
		Percentage:    r.Percentage,
		CreatedAt:     r.CreatedAt,
		Filters:       filters,
		Columns:       r.Columns.String,
		Delimiter:     firstRune(r.Delimiter, domain.DefaultDelimiter),
		QuoteChar:     firstRune(r.QuoteChar, domain.DefaultQuoteChar),
	}
	if r.Error.Valid {
		job.Error = domain.Ptr(r.Error.String)
	}
	if r.FilePath.Valid {
		job.FilePath = domain.Ptr(r.FilePath.String)
	}
	if r.CompletedAt.Valid {
		job.CompletedAt = domain.Ptr(r.CompletedAt.Time)
	}
	return job, nil
}

func firstRune(s string, fallback rune) rune {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || r == utf8.RuneError {
		return fallback
	}
	return r
}

// CreateJob inserts a new job record
func (s *JobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	filters, err := job.Filters.Encode()
	if err != nil {
		return err
	}

	query := s.db.Rebind(`
		INSERT INTO exports (
			id, status, total_rows, processed_rows, percentage,
			filters, columns, delimiter, quote_char, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		string(job.Status),
		job.TotalRows,
		job.ProcessedRows,
		job.Percentage,
		filters,
		nullString(job.Columns),
		string(job.Delimiter),
		string(job.QuoteChar),
		job.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create export job: %w", err)
	}

	s.logger.Debug("Export job created",
		slog.String("job_id", job.ID),
	)
	return nil
}

// GetJob retrieves a job by its ID
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM exports WHERE id = ?`)

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get export job: %w", err)
	}

	return row.toDomain()
}

// ClaimJob moves a pending job to processing using optimistic locking.
// Returns ErrJobNotClaimable when the job exists but is no longer pending.
func (s *JobStore) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`UPDATE exports SET status = ? WHERE id = ? AND status = ?`)

	result, err := s.db.ExecContext(ctx, query, string(domain.StatusProcessing), jobID, string(domain.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to claim export job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		s.logger.Warn("Failed to claim export job - not pending",
			slog.String("job_id", jobID),
			slog.String("status", job.Status.String()),
		)
		return nil, domain.ErrJobNotClaimable
	}

	return job, nil
}

// UpdateJob applies only the supplied fields of the update
func (s *JobStore) UpdateJob(ctx context.Context, jobID string, update domain.JobUpdate) error {
	affected, err := s.update(ctx, jobID, update, false)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// FinishJob applies a terminal update only while the job is not yet terminal.
// It reports whether the update was applied.
func (s *JobStore) FinishJob(ctx context.Context, jobID string, update domain.JobUpdate) (bool, error) {
	affected, err := s.update(ctx, jobID, update, true)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *JobStore) update(ctx context.Context, jobID string, update domain.JobUpdate, onlyActive bool) (int64, error) {
	if update.IsEmpty() {
		return 1, nil
	}

	var sets []string
	var args []interface{}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.TotalRows != nil {
		sets = append(sets, "total_rows = ?")
		args = append(args, *update.TotalRows)
	}
	if update.ProcessedRows != nil {
		sets = append(sets, "processed_rows = ?")
		args = append(args, *update.ProcessedRows)
	}
	if update.Percentage != nil {
		sets = append(sets, "percentage = ?")
		args = append(args, *update.Percentage)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.ClearFilePath {
		sets = append(sets, "file_path = NULL")
	} else if update.FilePath != nil {
		sets = append(sets, "file_path = ?")
		args = append(args, *update.FilePath)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, update.CompletedAt.UTC())
	}

	query := "UPDATE exports SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, jobID)

	if onlyActive {
		query += " AND status NOT IN (?, ?, ?)"
		for _, st := range domain.TerminalStatuses {
			args = append(args, string(st))
		}
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update export job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if update.Status != nil && affected > 0 {
		s.logger.Info("Export job status updated",
			slog.String("job_id", jobID),
			slog.String("status", update.Status.String()),
		)
	}

	return affected, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ListJobIDs returns the ids of jobs in the given status, oldest first
func (s *JobStore) ListJobIDs(ctx context.Context, status domain.Status) ([]string, error) {
	query := s.db.Rebind(`SELECT id FROM exports WHERE status = ? ORDER BY created_at, id`)

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, string(status)); err != nil {
		return nil, fmt.Errorf("failed to list export jobs: %w", err)
	}
	return ids, nil
}
