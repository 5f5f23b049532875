package queue_test

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dandantas/certwatch/internal/model"
	"github.com/dandantas/certwatch/internal/queue"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func job(i int) model.Job {
	return model.Job{ID: model.NumericJobID(json.Number(strconv.Itoa(i)))}
}

func TestQueueCapacity(t *testing.T) {
	t.Parallel()

	q := queue.New(2)
	require.Equal(t, 2, q.Cap())
	require.NoError(t, q.Enqueue(job(1)))
	require.NoError(t, q.Enqueue(job(2)))
	require.True(t, q.Full())

	err := q.Enqueue(job(3))
	require.ErrorIs(t, err, model.ErrQueueFull)
	require.True(t, model.IsRetryable(err))
	require.Equal(t, 2, q.Len())

	got, ok := q.Dequeue(t.Context(), time.Second)
	require.True(t, ok)
	require.Equal(t, "1", got.ID.String())

	got, ok = q.Dequeue(t.Context(), time.Second)
	require.True(t, ok)
	require.Equal(t, "2", got.ID.String())
	require.Equal(t, 0, q.Len())
}

func TestQueueDequeueTimeout(t *testing.T) {
	t.Parallel()

	q := queue.New(1)
	start := time.Now()
	_, ok := q.Dequeue(t.Context(), 50*time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestQueueDequeueCancelled(t *testing.T) {
	t.Parallel()

	q := queue.New(1)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, ok := q.Dequeue(ctx, time.Hour)
	require.False(t, ok)
}

func TestQueueConcurrentDeliveryAtMostOnce(t *testing.T) {
	t.Parallel()

	const (
		producers = 4
		perProd   = 250
		consumers = 8
	)

	q := queue.New(producers * perProd)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Go(func() {
			for i := range perProd {
				require.NoError(t, q.Enqueue(job(p*perProd+i)))
			}
		})
	}
	wg.Wait()

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		n    atomic.Int64
	)
	for range consumers {
		wg.Go(func() {
			for {
				j, ok := q.Dequeue(t.Context(), 20*time.Millisecond)
				if !ok {
					return
				}
				n.Add(1)
				mu.Lock()
				seen[j.ID.String()]++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	require.Equal(t, int64(producers*perProd), n.Load())
	require.Len(t, seen, producers*perProd)
	for id, count := range seen {
		require.Equal(t, 1, count, "job %s delivered more than once", id)
	}
}
