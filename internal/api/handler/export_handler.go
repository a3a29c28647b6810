package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/csv-export-service/internal/api/dto"
	"github.com/cuongbtq/csv-export-service/internal/export/csvwriter"
	"github.com/cuongbtq/csv-export-service/internal/export/domain"
	"github.com/cuongbtq/csv-export-service/internal/export/download"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateExport handles POST /exports/csv
// Validates the request, records a pending job and schedules it
func (h *ExportHandler) CreateExport(c *gin.Context) {
	var req dto.CreateExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	job, err := h.newJob(&req)
	if err != nil {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			h.logger.Warn("Export request rejected",
				slog.String("field", validationErr.Field),
				slog.String("reason", validationErr.Reason),
			)
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: validationErr.Error()})
			return
		}
		h.logger.Error("Failed to build export job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to create export"})
		return
	}

	ctx := c.Request.Context()
	if err := h.jobs.CreateJob(ctx, job); err != nil {
		h.logger.Error("Failed to create export job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to create export"})
		return
	}

	if err := h.scheduler.Schedule(ctx, job.ID); err != nil {
		h.logger.Error("Failed to schedule export job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		h.failUnscheduled(c, job.ID, err)
		if errors.Is(err, domain.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Export queue is full, retry later"})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to schedule export"})
		return
	}

	h.logger.Info("Export job created",
		slog.String("job_id", job.ID),
		slog.String("columns", job.Columns),
	)

	c.JSON(http.StatusAccepted, dto.CreateExportResponse{
		ExportID: job.ID,
		Status:   string(domain.StatusPending),
	})
}

func (h *ExportHandler) newJob(req *dto.CreateExportRequest) (*domain.Job, error) {
	delimiter, err := singleRune("delimiter", req.Delimiter, domain.DefaultDelimiter)
	if err != nil {
		return nil, err
	}
	quoteChar, err := singleRune("quoteChar", req.QuoteChar, domain.DefaultQuoteChar)
	if err != nil {
		return nil, err
	}
	if err := csvwriter.ValidateDialect(delimiter, quoteChar); err != nil {
		return nil, &domain.ValidationError{Field: "delimiter", Reason: err.Error()}
	}

	filters := domain.Filters{
		CountryCode:      nonEmpty(req.CountryCode),
		SubscriptionTier: nonEmpty(req.SubscriptionTier),
	}
	if raw := nonEmpty(req.MinLTV); raw != nil {
		minLTV, err := strconv.ParseFloat(*raw, 64)
		if err != nil {
			return nil, &domain.ValidationError{Field: "min_ltv", Reason: "must be a number"}
		}
		filters.MinLifetimeValue = &minLTV
	}

	if _, err := domain.ResolveColumns(req.Columns, h.columnPolicy); err != nil {
		return nil, err
	}

	return &domain.Job{
		ID:        uuid.New().String(),
		Status:    domain.StatusPending,
		CreatedAt: h.now().UTC(),
		Filters:   filters,
		Columns:   req.Columns,
		Delimiter: delimiter,
		QuoteChar: quoteChar,
	}, nil
}

func singleRune(field string, raw *string, fallback rune) (rune, error) {
	if raw == nil {
		return fallback, nil
	}
	if utf8.RuneCountInString(*raw) != 1 {
		return 0, &domain.ValidationError{Field: field, Reason: "must be exactly one character"}
	}
	r, _ := utf8.DecodeRuneInString(*raw)
	return r, nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// failUnscheduled records a job that never reached a worker as failed
func (h *ExportHandler) failUnscheduled(c *gin.Context, jobID string, cause error) {
	_, err := h.jobs.FinishJob(c.Request.Context(), jobID, domain.JobUpdate{
		Status:      domain.Ptr(domain.StatusFailed),
		Error:       domain.Ptr("schedule export: " + cause.Error()),
		CompletedAt: domain.Ptr(h.now().UTC()),
	})
	if err != nil {
		h.logger.Error("Failed to mark unscheduled export as failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// GetExportStatus handles GET /exports/:id/status
func (h *ExportHandler) GetExportStatus(c *gin.Context) {
	jobID := c.Param("id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: domain.ErrInvalidJobID.Error()})
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Export not found"})
			return
		}
		h.logger.Error("Failed to get export job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to get export"})
		return
	}

	resp := dto.ExportStatusResponse{
		ExportID: job.ID,
		Status:   string(job.Status),
		Progress: dto.ProgressDTO{
			TotalRows:     job.TotalRows,
			ProcessedRows: job.ProcessedRows,
			Percentage:    job.Percentage,
		},
		Error:     job.Error,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = domain.Ptr(job.CompletedAt.UTC().Format(time.RFC3339))
	}

	c.JSON(http.StatusOK, resp)
}

// DownloadExport handles GET /exports/:id/download
// Range requests get the raw file, otherwise gzip when the client accepts it
func (h *ExportHandler) DownloadExport(c *gin.Context) {
	jobID := c.Param("id")

	artifact, err := h.streamer.Open(c.Request.Context(), jobID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrInvalidJobID):
			status = http.StatusBadRequest
		case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrArtifactMissing):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrNotReady):
			status = http.StatusTooEarly
		default:
			h.logger.Error("Failed to open export file",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
		c.JSON(status, dto.ErrorResponse{Error: err.Error()})
		return
	}
	defer artifact.Close()

	if c.GetHeader("Range") == "" && download.AcceptsGzip(c.GetHeader("Accept-Encoding")) {
		if err := h.streamer.ServeGzip(c.Writer, artifact); err != nil {
			h.logger.Warn("Gzip download aborted",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	h.streamer.ServeRange(c.Writer, c.Request, artifact)
}

// CancelExport handles DELETE /exports/:id
// Signals the worker, forces the cancelled status and deletes the artifact
func (h *ExportHandler) CancelExport(c *gin.Context) {
	jobID := c.Param("id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: domain.ErrInvalidJobID.Error()})
		return
	}

	ctx := c.Request.Context()
	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Export not found"})
			return
		}
		h.logger.Error("Failed to get export job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to cancel export"})
		return
	}

	signalled := h.registry.RequestCancel(jobID)

	update := domain.JobUpdate{
		Status:        domain.Ptr(domain.StatusCancelled),
		ClearFilePath: true,
		CompletedAt:   domain.Ptr(h.now().UTC()),
	}

	applied := true
	if h.cancelPolicy == CancelPolicyStrict {
		applied, err = h.jobs.FinishJob(ctx, jobID, update)
	} else {
		err = h.jobs.UpdateJob(ctx, jobID, update)
	}
	if err != nil {
		h.logger.Error("Failed to cancel export job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to cancel export"})
		return
	}

	if applied {
		h.removeArtifacts(jobID, job.FilePath)
	}

	h.logger.Info("Export cancel requested",
		slog.String("job_id", jobID),
		slog.String("previous_status", job.Status.String()),
		slog.Bool("worker_signalled", signalled),
		slog.Bool("status_changed", applied),
	)

	c.Status(http.StatusNoContent)
}

// removeArtifacts deletes the recorded file and the canonical artifact path.
// The canonical path covers a worker publishing between the read and the
// status write.
func (h *ExportHandler) removeArtifacts(jobID string, recorded *string) {
	paths := []string{filepath.Join(h.exportDir, domain.ArtifactName(jobID))}
	if recorded != nil && *recorded != "" && *recorded != paths[0] {
		paths = append(paths, *recorded)
	}

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("Failed to delete export file",
				slog.String("job_id", jobID),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Health handles GET /health
func (h *ExportHandler) Health(c *gin.Context) {
	resp := dto.HealthResponse{
		Status:        "healthy",
		Service:       h.serviceName,
		Database:      "up",
		ActiveExports: h.registry.Len(),
	}
	if h.pool != nil {
		resp.QueuedExports = h.pool.Stats().Queued
	}

	if err := h.health.HealthCheck(c.Request.Context()); err != nil {
		h.logger.Error("Health check failed", slog.String("error", err.Error()))
		resp.Status = "unhealthy"
		resp.Database = "down"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}
