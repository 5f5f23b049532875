package worker

import (
	"context"
	"time"

	"github.com/dandantas/certwatch/internal/model"
)

// Source supplies jobs to workers
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (model.Job, bool)
}

// Processor handles one job to completion, including result delivery
type Processor interface {
	Process(ctx context.Context, job model.Job)
}

// ProcessorFunc adapts a function to the Processor interface
type ProcessorFunc func(ctx context.Context, job model.Job)

// Process calls f(ctx, job)
func (f ProcessorFunc) Process(ctx context.Context, job model.Job) {
	f(ctx, job)
}
