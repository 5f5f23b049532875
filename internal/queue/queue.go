package queue

import (
	"context"
	"time"

	"github.com/dandantas/certwatch/internal/model"
)

// Queue is a bounded FIFO of jobs shared by task sources and workers. It is
// safe for concurrent use; each job is delivered to at most one consumer.
type Queue struct {
	items chan model.Job
}

// New creates a queue holding at most capacity jobs
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		items: make(chan model.Job, capacity),
	}
}

// Enqueue adds a job without blocking. It returns model.ErrQueueFull when the
// queue is at capacity; the job is not retained in that case.
func (q *Queue) Enqueue(job model.Job) error {
	select {
	case q.items <- job:
		return nil
	default:
		return model.ErrQueueFull
	}
}

// Dequeue waits up to timeout for a job. The boolean is false when the wait
// timed out or ctx was cancelled.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (model.Job, bool) {
	// Fast path
	select {
	case job := <-q.items:
		return job, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-q.items:
		return job, true
	case <-timer.C:
		return model.Job{}, false
	case <-ctx.Done():
		return model.Job{}, false
	}
}

// Len returns the number of queued jobs
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.items)
}

// Full reports whether an Enqueue would currently be rejected
func (q *Queue) Full() bool {
	return len(q.items) >= cap(q.items)
}
