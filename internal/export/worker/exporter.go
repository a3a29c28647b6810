package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/csv-export-service/internal/export/csvwriter"
	"github.com/cuongbtq/csv-export-service/internal/export/domain"
)

// DefaultProgressInterval is the number of rows between progress writes
const DefaultProgressInterval = 5000

var errCancelled = errors.New("export cancelled")

// JobStore is the part of the job storage the exporter writes through
type JobStore interface {
	ClaimJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJob(ctx context.Context, jobID string, update domain.JobUpdate) error
	FinishJob(ctx context.Context, jobID string, update domain.JobUpdate) (bool, error)
}

// UserSource counts and streams the rows to export
type UserSource interface {
	CountUsers(ctx context.Context, filters domain.Filters) (int64, error)
	StreamUsers(ctx context.Context, filters domain.Filters, fn func(*domain.User) error) error
}

// Registry is the cancellation table shared with the request path
type Registry interface {
	Register(jobID string)
	Deregister(jobID string)
	IsActive(jobID string) bool
}

// ExporterConfig holds exporter dependencies and settings
type ExporterConfig struct {
	Logger           *slog.Logger
	Store            JobStore
	Source           UserSource
	Registry         Registry
	ExportDir        string
	ProgressInterval int64
	ColumnPolicy     domain.ColumnPolicy
	Now              func() time.Time
}

// Exporter runs the streaming export of a single job
type Exporter struct {
	logger           *slog.Logger
	store            JobStore
	source           UserSource
	registry         Registry
	exportDir        string
	progressInterval int64
	columnPolicy     domain.ColumnPolicy
	now              func() time.Time
}

// NewExporter creates a new exporter instance
func NewExporter(cfg *ExporterConfig) *Exporter {
	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	policy := cfg.ColumnPolicy
	if policy == "" {
		policy = domain.ColumnPolicyDrop
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Exporter{
		logger:           cfg.Logger,
		store:            cfg.Store,
		source:           cfg.Source,
		registry:         cfg.Registry,
		exportDir:        cfg.ExportDir,
		progressInterval: interval,
		columnPolicy:     policy,
		now:              now,
	}
}

// Run claims the job and exports it. Only the run that wins the claim
// registers the job for cancellation, and it deregisters on every exit path.
// Failures are recorded on the job; the returned error is for logging only.
func (e *Exporter) Run(ctx context.Context, jobID string) error {
	job, err := e.store.ClaimJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotClaimable) {
			e.logger.Warn("Export job no longer pending, skipping",
				slog.String("job_id", jobID),
			)
			return nil
		}
		return fmt.Errorf("failed to claim export job: %w", err)
	}

	e.registry.Register(jobID)
	defer e.registry.Deregister(jobID)

	e.logger.Info("Processing export job",
		slog.String("job_id", jobID),
	)

	start := e.now()
	err = e.export(ctx, job)

	// terminal writes must survive a shutdown of the pool context
	finishCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		e.logger.Info("Export job completed",
			slog.String("job_id", jobID),
			slog.Duration("elapsed", e.now().Sub(start)),
		)
		return nil

	case errors.Is(err, errCancelled):
		e.finish(finishCtx, jobID, domain.JobUpdate{
			Status:        domain.Ptr(domain.StatusCancelled),
			ClearFilePath: true,
			CompletedAt:   domain.Ptr(e.now().UTC()),
		})
		e.logger.Info("Export job cancelled",
			slog.String("job_id", jobID),
		)
		return nil

	default:
		e.logger.Error("Export job failed",
			slog.String("job_id", jobID),
			slog.String("reason", string(domain.FailureKindOf(err))),
			slog.String("error", err.Error()),
		)
		e.finish(finishCtx, jobID, domain.JobUpdate{
			Status:        domain.Ptr(domain.StatusFailed),
			Error:         domain.Ptr(err.Error()),
			ClearFilePath: true,
			CompletedAt:   domain.Ptr(e.now().UTC()),
		})
		return err
	}
}

func (e *Exporter) export(ctx context.Context, job *domain.Job) error {
	columns, err := domain.ResolveColumns(job.Columns, e.columnPolicy)
	if err != nil {
		return domain.NewExportError(domain.FailureValidation, "resolve columns", err)
	}

	total, err := e.source.CountUsers(ctx, job.Filters)
	if err != nil {
		return domain.NewExportError(domain.FailureDataSource, "count rows", err)
	}
	if err := e.store.UpdateJob(ctx, job.ID, domain.JobUpdate{TotalRows: domain.Ptr(total)}); err != nil {
		return domain.NewExportError(domain.FailureStorage, "persist total rows", err)
	}

	e.logger.Info("Export rows counted",
		slog.String("job_id", job.ID),
		slog.Int64("total_rows", total),
		slog.Any("columns", columns),
	)

	// empty result: completed without an artifact
	if total == 0 {
		return e.complete(ctx, job.ID, 0, "")
	}

	file, err := createArtifact(e.exportDir, job.ID)
	if err != nil {
		return domain.NewExportError(domain.FailureStorage, "create artifact", err)
	}
	defer func() {
		if err := file.discard(); err != nil {
			e.logger.Warn("Failed to remove partial export file",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	writer, err := csvwriter.NewWriter(file, job.Delimiter, job.QuoteChar)
	if err != nil {
		return domain.NewExportError(domain.FailureValidation, "configure writer", err)
	}
	if err := writer.Write(columns); err != nil {
		return domain.NewExportError(domain.FailureStorage, "write header", err)
	}

	var processed int64
	grown := false
	record := make([]string, len(columns))

	err = e.source.StreamUsers(ctx, job.Filters, func(user *domain.User) error {
		if err := ctx.Err(); err != nil {
			return domain.NewExportError(domain.FailureInterrupted, "stream rows", err)
		}
		if !e.registry.IsActive(job.ID) {
			return errCancelled
		}

		for i, col := range columns {
			record[i] = user.Value(col)
		}
		if err := writer.Write(record); err != nil {
			return domain.NewExportError(domain.FailureStorage, "write row", err)
		}

		processed++
		if processed > total {
			// rows inserted after counting
			total = processed
			grown = true
		}

		if processed%e.progressInterval == 0 || (!grown && processed == total) {
			update := domain.JobUpdate{
				ProcessedRows: domain.Ptr(processed),
				Percentage:    domain.Ptr(domain.Percentage(processed, total)),
			}
			if grown {
				update.TotalRows = domain.Ptr(total)
			}
			if err := e.store.UpdateJob(ctx, job.ID, update); err != nil {
				return domain.NewExportError(domain.FailureStorage, "persist progress", err)
			}
			e.logger.Debug("Export progress",
				slog.String("job_id", job.ID),
				slog.Int64("processed_rows", processed),
				slog.Int64("total_rows", total),
			)
		}
		return nil
	})
	if err != nil {
		var exportErr *domain.ExportError
		if errors.Is(err, errCancelled) || errors.As(err, &exportErr) {
			return err
		}
		if ctx.Err() != nil {
			return domain.NewExportError(domain.FailureInterrupted, "stream rows", err)
		}
		return domain.NewExportError(domain.FailureDataSource, "stream rows", err)
	}

	if !e.registry.IsActive(job.ID) {
		return errCancelled
	}

	if err := writer.Flush(); err != nil {
		return domain.NewExportError(domain.FailureStorage, "flush artifact", err)
	}
	path, err := file.publish()
	if err != nil {
		return domain.NewExportError(domain.FailureStorage, "publish artifact", err)
	}

	return e.complete(ctx, job.ID, processed, path)
}

// complete records the successful end of a job. A published artifact is
// removed again when the job was forced terminal in the meantime.
func (e *Exporter) complete(ctx context.Context, jobID string, processed int64, path string) error {
	update := domain.JobUpdate{
		Status:        domain.Ptr(domain.StatusCompleted),
		TotalRows:     domain.Ptr(processed),
		ProcessedRows: domain.Ptr(processed),
		Percentage:    domain.Ptr(100),
		CompletedAt:   domain.Ptr(e.now().UTC()),
	}
	if path != "" {
		update.FilePath = domain.Ptr(path)
	}

	applied, err := e.store.FinishJob(context.WithoutCancel(ctx), jobID, update)
	if err != nil || !applied {
		if path != "" {
			e.removeFile(jobID, path)
		}
	}
	if err != nil {
		return domain.NewExportError(domain.FailureStorage, "persist completion", err)
	}
	if !applied {
		e.logger.Warn("Export job reached a terminal state before completion was recorded",
			slog.String("job_id", jobID),
		)
	}
	return nil
}

func (e *Exporter) finish(ctx context.Context, jobID string, update domain.JobUpdate) {
	applied, err := e.store.FinishJob(ctx, jobID, update)
	if err != nil {
		e.logger.Error("Failed to record terminal export status",
			slog.String("job_id", jobID),
			slog.String("status", update.Status.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !applied {
		e.logger.Debug("Export job already terminal",
			slog.String("job_id", jobID),
			slog.String("status", update.Status.String()),
		)
	}
}

func (e *Exporter) removeFile(jobID, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Warn("Failed to remove export file",
			slog.String("job_id", jobID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
