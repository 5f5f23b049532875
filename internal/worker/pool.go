package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dandantas/certwatch/internal/log"
	"github.com/dandantas/certwatch/internal/metrics"
	"github.com/dandantas/certwatch/internal/model"
)

// WorkerPool runs a fixed number of workers that drain a job source
type WorkerPool struct {
	workers     int
	source      Source
	processor   Processor
	pollTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	wg          sync.WaitGroup
}

// NewWorkerPool creates a new worker pool. pollTimeout bounds how long an idle
// worker waits for a job before checking for shutdown again.
func NewWorkerPool(
	workers int,
	source Source,
	processor Processor,
	pollTimeout time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &WorkerPool{
		workers:     workers,
		source:      source,
		processor:   processor,
		pollTimeout: pollTimeout,
		logger:      logger,
		metrics:     m,
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has finished its in-flight job
func (wp *WorkerPool) Run(ctx context.Context) {
	wp.logger.Info("Starting worker pool", "workers", wp.workers)

	for i := range wp.workers {
		wp.wg.Go(func() {
			wp.worker(ctx, i)
		})
	}

	wp.wg.Wait()
	wp.logger.Info("Worker pool stopped")
}

// worker is the worker goroutine that processes jobs
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug("Worker started", "worker_id", id)

	for ctx.Err() == nil {
		job, ok := wp.source.Dequeue(ctx, wp.pollTimeout)
		if !ok {
			continue
		}
		wp.process(ctx, id, job)
	}

	wp.logger.Debug("Worker stopped", "worker_id", id)
}

// process runs a single job. A started job is finished even when shutdown
// begins; its own timeouts bound it.
func (wp *WorkerPool) process(ctx context.Context, id int, job model.Job) {
	jobCtx := log.JobAttrs(context.WithoutCancel(ctx), job.ID.String(), job.RequestID)
	jobCtx = log.ContextAttrs(jobCtx, slog.Int("worker_id", id))

	wp.metrics.ObserveQueueLatency(job.ReceivedAt)
	wp.metrics.WorkerStarted()
	defer wp.metrics.WorkerFinished()

	defer func() {
		if r := recover(); r != nil {
			wp.metrics.IncWorkerPanic()
			wp.logger.ErrorContext(jobCtx, "Panic recovered while processing job",
				"error", fmt.Sprint(r),
				"stack_trace", string(debug.Stack()),
			)
		}
	}()

	wp.logger.DebugContext(jobCtx, "Worker processing job")
	wp.processor.Process(jobCtx, job)
}
