package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sevigo/pr-warden/internal/core"
)

const queueSize = 100

var (
	ErrQueueFull         = errors.New("job queue is full, cannot accept new review job")
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)

type queuedJob struct {
	id  string
	req *core.ReviewRequest
}

// Dispatcher implements core.JobDispatcher with a fixed pool of workers.
// Reviews share one working tree, so the server runs a single worker unless
// configured otherwise.
type Dispatcher struct {
	reviewJob  core.Job
	jobQueue   chan queuedJob
	maxWorkers int
	wg         sync.WaitGroup
	logger     *slog.Logger

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher starts maxWorkers workers; values below 1 mean 1.
func NewDispatcher(reviewJob core.Job, maxWorkers int, logger *slog.Logger) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		reviewJob:  reviewJob,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan queuedJob, queueSize),
		logger:     logger,
	}
	for i := range d.maxWorkers {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

func (d *Dispatcher) worker(workerID int) {
	defer d.wg.Done()
	d.logger.Info("starting review worker", "id", workerID)
	for job := range d.jobQueue {
		d.process(workerID, job)
	}
	d.logger.Info("shutting down review worker", "id", workerID)
}

func (d *Dispatcher) process(workerID int, job queuedJob) {
	log := d.logger.With("job_id", job.id, "repo", job.req.RepoFullName, "pr", job.req.PRNumber)
	log.Info("worker processing job", "worker_id", workerID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("review job panicked", "panic", r)
		}
	}()
	if err := d.reviewJob.Run(context.Background(), job.req); err != nil {
		log.Error("review job failed", "error", err)
	}
}

// Dispatch queues req without blocking.
func (d *Dispatcher) Dispatch(_ context.Context, req *core.ReviewRequest) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	job := queuedJob{id: uuid.NewString(), req: req}
	select {
	case d.jobQueue <- job:
		d.logger.Info("queued review job", "job_id", job.id, "repo", req.RepoFullName, "pr", req.PRNumber, "commenter", req.Commenter)
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new jobs and waits for queued ones to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobQueue)
	d.mu.Unlock()

	d.logger.Info("stopping dispatcher and waiting for jobs to finish")
	d.wg.Wait()
	d.logger.Info("all review jobs have finished")
}
