package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/csv-export-service/internal/export/domain"
	"github.com/cuongbtq/csv-export-service/internal/export/download"
	"github.com/cuongbtq/csv-export-service/internal/export/worker"
)

// Cancel policies
const (
	// CancelPolicyForce cancels any job, including terminal ones
	CancelPolicyForce = "force"
	// CancelPolicyStrict leaves terminal jobs untouched
	CancelPolicyStrict = "strict"
)

// JobStore is the job storage used by the request path
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJob(ctx context.Context, jobID string, update domain.JobUpdate) error
	FinishJob(ctx context.Context, jobID string, update domain.JobUpdate) (bool, error)
}

// Scheduler hands new jobs to the workers
type Scheduler interface {
	Schedule(ctx context.Context, jobID string) error
}

// Canceller signals running jobs to stop
type Canceller interface {
	RequestCancel(jobID string) bool
	Len() int
}

// HealthChecker reports database reachability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PoolStats reports worker pool utilisation
type PoolStats interface {
	Stats() worker.PoolStats
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	ServiceName  string
	Jobs         JobStore
	Scheduler    Scheduler
	Registry     Canceller
	Streamer     *download.Streamer
	Health       HealthChecker
	Pool         PoolStats
	ExportDir    string
	CancelPolicy string
	ColumnPolicy domain.ColumnPolicy
	Now          func() time.Time
}

// ExportHandler handles export HTTP requests
type ExportHandler struct {
	logger       *slog.Logger
	serviceName  string
	jobs         JobStore
	scheduler    Scheduler
	registry     Canceller
	streamer     *download.Streamer
	health       HealthChecker
	pool         PoolStats
	exportDir    string
	cancelPolicy string
	columnPolicy domain.ColumnPolicy
	now          func() time.Time
}

// NewExportHandler creates a new ExportHandler instance
func NewExportHandler(deps *Dependencies) *ExportHandler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cancelPolicy := deps.CancelPolicy
	if cancelPolicy == "" {
		cancelPolicy = CancelPolicyForce
	}
	columnPolicy := deps.ColumnPolicy
	if columnPolicy == "" {
		columnPolicy = domain.ColumnPolicyDrop
	}

	return &ExportHandler{
		logger:       deps.Logger,
		serviceName:  deps.ServiceName,
		jobs:         deps.Jobs,
		scheduler:    deps.Scheduler,
		registry:     deps.Registry,
		streamer:     deps.Streamer,
		health:       deps.Health,
		pool:         deps.Pool,
		exportDir:    deps.ExportDir,
		cancelPolicy: cancelPolicy,
		columnPolicy: columnPolicy,
		now:          now,
	}
}
