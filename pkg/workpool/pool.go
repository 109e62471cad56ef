// Package workpool provides a bounded-concurrency mapper used to fan a batch
// of inputs over a fixed number of workers while preserving input order in
// the results.
package workpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var itemsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mallsync_workpool_items_total",
	Help: "Total items processed by work pools",
})

// Op is the operation applied to each item. Failures must be encoded into R
// (e.g. a tagged result type); the pool has no separate error channel and an
// individual failure never aborts the batch.
type Op[T, R any] func(ctx context.Context, item T, index int) R

// Run applies op to every item with at most concurrency workers running at
// once. The result slice has the same length and order as items: result[i]
// always holds the result for items[i], regardless of completion order.
//
// Scheduling is dynamic: a worker picks up the next queued item the moment
// its current one finishes, so one slow item does not stall the rest.
// Concurrency is clamped to [1, len(items)]. Cancellation is cooperative and
// checked before each item is started; items already running are allowed to
// finish and result slots never started hold R's zero value.
func Run[T, R any](ctx context.Context, items []T, concurrency int, op Op[T, R]) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}

	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	start := time.Now()
	log.Debug().
		Int("items", len(items)).
		Int("concurrency", concurrency).
		Msg("Work pool starting")

	queue := make(chan int, len(items))
	for i := range items {
		queue <- i
	}
	close(queue)

	var completed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range queue {
				select {
				case <-ctx.Done():
					log.Debug().
						Int("worker_id", workerID).
						Msg("Worker stopping (context cancelled)")
					return
				default:
				}

				results[idx] = op(ctx, items[idx], idx)
				itemsProcessedTotal.Inc()

				// Progress logging every 50 items
				if n := completed.Add(1); n%50 == 0 {
					log.Info().
						Int64("completed", n).
						Int("total", len(items)).
						Msg("Work pool progress")
				}
			}
		}(w)
	}
	wg.Wait()

	log.Debug().
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Work pool complete")

	return results
}
