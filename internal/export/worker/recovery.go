package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/csv-export-service/internal/export/domain"
)

// RecoveryStore is the job storage used when the service restarts
type RecoveryStore interface {
	ListJobIDs(ctx context.Context, status domain.Status) ([]string, error)
	FinishJob(ctx context.Context, jobID string, update domain.JobUpdate) (bool, error)
}

// ScheduleFunc hands a job id to the worker pool or the queue
type ScheduleFunc func(ctx context.Context, jobID string) error

// Recover fails jobs left processing by a previous run, removes their
// partial files and schedules jobs still pending
func Recover(ctx context.Context, store RecoveryStore, schedule ScheduleFunc, exportDir string, logger *slog.Logger) error {
	if err := FailStaleJobs(ctx, store, exportDir, logger); err != nil {
		return err
	}
	return ReschedulePending(ctx, store, schedule, logger)
}

// FailStaleJobs marks every processing job as failed and removes temp files.
// It must run before any worker of this process claims a job.
func FailStaleJobs(ctx context.Context, store RecoveryStore, exportDir string, logger *slog.Logger) error {
	stale, err := store.ListJobIDs(ctx, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to list processing jobs: %w", err)
	}

	reason := domain.NewExportError(domain.FailureInterrupted, "export", errors.New("service restarted while processing"))
	for _, id := range stale {
		_, err := store.FinishJob(ctx, id, domain.JobUpdate{
			Status:        domain.Ptr(domain.StatusFailed),
			Error:         domain.Ptr(reason.Error()),
			ClearFilePath: true,
			CompletedAt:   domain.Ptr(time.Now().UTC()),
		})
		if err != nil {
			return fmt.Errorf("failed to fail stale job %s: %w", id, err)
		}
		logger.Warn("Stale export job marked as failed",
			slog.String("job_id", id),
		)
	}

	removePartialFiles(exportDir, logger)
	return nil
}

// ReschedulePending hands every pending job to schedule
func ReschedulePending(ctx context.Context, store RecoveryStore, schedule ScheduleFunc, logger *slog.Logger) error {
	pending, err := store.ListJobIDs(ctx, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}
	for _, id := range pending {
		if err := schedule(ctx, id); err != nil {
			return fmt.Errorf("failed to reschedule job %s: %w", id, err)
		}
	}

	logger.Info("Pending export jobs rescheduled",
		slog.Int("count", len(pending)),
	)
	return nil
}

func removePartialFiles(dir string, logger *slog.Logger) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv.part"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove partial export file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}
