package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reporter delivers results to a report endpoint
type Reporter interface {
	Report(ctx context.Context, delivery Delivery) error
}

// Batcher buffers deliveries and flushes them periodically, merging results
// that share an endpoint into a single request
type Batcher struct {
	next     Reporter
	interval time.Duration
	maxSize  int
	logger   *slog.Logger

	mu      sync.Mutex
	pending []Delivery
	size    int
	full    chan struct{}
}

// NewBatcher creates a batcher flushing to next every interval or once
// maxSize results are pending
func NewBatcher(next Reporter, interval time.Duration, maxSize int, logger *slog.Logger) *Batcher {
	if interval <= 0 {
		interval = time.Second
	}
	if maxSize < 1 {
		maxSize = 50
	}
	return &Batcher{
		next:     next,
		interval: interval,
		maxSize:  maxSize,
		logger:   logger,
		full:     make(chan struct{}, 1),
	}
}

// Report buffers the delivery; it never blocks on the network
func (b *Batcher) Report(_ context.Context, delivery Delivery) error {
	b.mu.Lock()
	b.pending = append(b.pending, delivery)
	b.size += len(delivery.Results)
	full := b.size >= b.maxSize
	b.mu.Unlock()

	if full {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run flushes on every tick until ctx is cancelled. Deliveries still pending
// at that point are left for a final Flush by the owner. A flush already in
// progress is not cut short by cancellation; each request is bounded by the
// reporter's own timeout.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	flushCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ticker.C:
			b.Flush(flushCtx)
		case <-b.full:
			b.Flush(flushCtx)
		case <-ctx.Done():
			return
		}
	}
}

// Flush sends every pending delivery, one request per endpoint
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.size = 0
	b.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	for _, d := range Batch(pending) {
		if err := b.next.Report(ctx, d); err != nil {
			b.logger.WarnContext(ctx, "Batched report delivery failed",
				"endpoint", d.Endpoint,
				"results", len(d.Results),
				"error", err,
			)
		}
	}
}
