// Package ratelimit implements the token bucket that caps the aggregate
// outbound call rate against the shop admin API. One bucket is shared by all
// workers of a batch invocation; the API's per-second limits are undocumented,
// so the bucket is the only thing standing between a bulk scan and a ban.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for token bucket operations.
var (
	tokensAcquiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mallsync_ratelimit_tokens_acquired_total",
		Help: "Total tokens granted by the outbound token bucket",
	})

	tokenWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mallsync_ratelimit_wait_seconds",
		Help:    "Time spent waiting for an outbound token",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

// minWait is the floor on the wait before re-checking for a token.
// Prevents busy-waiting when the bucket is fractionally short of a token.
const minWait = 50 * time.Millisecond

// ErrDisposed is returned to waiters when the bucket is disposed.
var ErrDisposed = errors.New("rate limiter disposed")

// Bucket is a token bucket limiter. Refill is computed lazily at acquire
// time from wall-clock elapsed, so there is no background timer to drift.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	refillRate float64 // tokens per second
	burst      float64
	lastRefill time.Time

	done     chan struct{}
	disposed sync.Once

	logger zerolog.Logger
	now    func() time.Time
}

// NewBucket creates a bucket granting refillRate tokens per second with the
// given burst capacity. The bucket starts full. Non-positive inputs are
// clamped to 1.
func NewBucket(refillRate float64, burst int, logger zerolog.Logger) *Bucket {
	if refillRate <= 0 {
		refillRate = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Bucket{
		tokens:     float64(burst),
		refillRate: refillRate,
		burst:      float64(burst),
		lastRefill: time.Now(),
		done:       make(chan struct{}),
		logger:     logger,
		now:        time.Now,
	}
}

// refillLocked credits elapsed time against the refill rate, capped at burst.
// Caller must hold mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.burst, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

// Acquire blocks until one token is available, then deducts it. It returns
// early with the context error if ctx is cancelled, or ErrDisposed if the
// bucket is disposed while waiting.
func (b *Bucket) Acquire(ctx context.Context) error {
	start := b.now()
	for {
		select {
		case <-b.done:
			return ErrDisposed
		default:
		}

		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			tokensAcquiredTotal.Inc()
			tokenWaitSeconds.Observe(b.now().Sub(start).Seconds())
			return nil
		}
		wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
		b.mu.Unlock()

		if wait < minWait {
			wait = minWait
		}

		b.logger.Debug().
			Dur("wait", wait).
			Msg("Token bucket empty, waiting for refill")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-b.done:
			timer.Stop()
			return ErrDisposed
		case <-timer.C:
		}
	}
}

// Tokens returns the current token count after a lazy refill. Intended for
// diagnostics; the value is stale the moment it is returned.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// Rate returns the configured refill rate in tokens per second.
func (b *Bucket) Rate() float64 { return b.refillRate }

// Burst returns the configured burst capacity.
func (b *Bucket) Burst() int { return int(b.burst) }

// Dispose releases all waiters with ErrDisposed. Best-effort: waiters that
// already hold a token are unaffected. Safe to call more than once.
func (b *Bucket) Dispose() {
	b.disposed.Do(func() {
		close(b.done)
		b.logger.Debug().Msg("Token bucket disposed")
	})
}
