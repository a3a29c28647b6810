package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cuongbtq/csv-export-service/internal/export/domain"
)

// Runner executes one export job
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// PoolConfig holds worker pool configuration
type PoolConfig struct {
	Logger      *slog.Logger
	Runner      Runner
	Concurrency int
	QueueSize   int
	WorkerID    string
}

// PoolStats is a snapshot of pool utilisation
type PoolStats struct {
	Workers  int `json:"workers"`
	Active   int `json:"active"`
	Queued   int `json:"queued"`
	Capacity int `json:"capacity"`
}

// Pool runs export jobs on a fixed number of goroutines fed by a bounded queue
type Pool struct {
	logger      *slog.Logger
	runner      Runner
	workerID    string
	concurrency int
	jobsChan    chan string
	stopChan    chan struct{}
	wg          sync.WaitGroup
	active      atomic.Int64

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

// NewPool creates a new worker pool
func NewPool(cfg *PoolConfig) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "export-worker"
	}

	return &Pool{
		logger:      cfg.Logger,
		runner:      cfg.Runner,
		workerID:    workerID,
		concurrency: concurrency,
		jobsChan:    make(chan string, queueSize),
		stopChan:    make(chan struct{}),
	}
}

// Start spawns the worker goroutines. ctx is passed to every job run and is
// cancelled by Stop.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("Spawning worker pool",
		slog.Int("concurrency", p.concurrency),
		slog.Int("queue_size", cap(p.jobsChan)),
		slog.String("worker_id", p.workerID),
	)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}
}

// Schedule hands a job to the pool without blocking
func (p *Pool) Schedule(_ context.Context, jobID string) error {
	return p.Submit(jobID)
}

// Submit enqueues a job, returning ErrQueueFull when every slot is taken
func (p *Pool) Submit(jobID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return domain.ErrPoolStopped
	}

	select {
	case p.jobsChan <- jobID:
		return nil
	default:
		p.logger.Warn("Worker pool saturated, rejecting job",
			slog.String("job_id", jobID),
			slog.Int("queued", len(p.jobsChan)),
		)
		return domain.ErrQueueFull
	}
}

// SubmitWait enqueues a job, blocking until a slot frees up or ctx is done
func (p *Pool) SubmitWait(ctx context.Context, jobID string) error {
	p.mu.RLock()
	stopped := p.stopped
	p.mu.RUnlock()
	if stopped {
		return domain.ErrPoolStopped
	}

	select {
	case p.jobsChan <- jobID:
		return nil
	case <-p.stopChan:
		return domain.ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels running jobs at their next row boundary and waits for the
// workers to return. Queued jobs stay pending in the job store.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopChan)
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool...")
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// Stats returns the current pool utilisation
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:  p.concurrency,
		Active:   int(p.active.Load()),
		Queued:   len(p.jobsChan),
		Capacity: cap(p.jobsChan),
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (p *Pool) workerLoop(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("%s-%d", p.workerID, workerNum)
	p.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-p.stopChan:
			p.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			p.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case jobID := <-p.jobsChan:
			p.active.Add(1)
			p.runJob(ctx, workerName, jobID)
			p.active.Add(-1)
		}
	}
}

func (p *Pool) runJob(ctx context.Context, workerName, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Export job panicked",
				slog.String("worker_name", workerName),
				slog.String("job_id", jobID),
				slog.Any("panic", r),
			)
		}
	}()

	p.logger.Info("Worker received job",
		slog.String("worker_name", workerName),
		slog.String("job_id", jobID),
	)

	if err := p.runner.Run(ctx, jobID); err != nil {
		p.logger.Error("Job processing failed",
			slog.String("worker_name", workerName),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
