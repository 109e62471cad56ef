package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/client"
	"github.com/seolo/mallsync/pkg/datewindow"
	"github.com/seolo/mallsync/pkg/ratelimit"
	"github.com/seolo/mallsync/pkg/workpool"
)

var (
	identifiersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mallsync_batch_identifiers_total",
		Help: "Total identifiers processed in batch runs by outcome",
	}, []string{"outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mallsync_batch_duration_seconds",
		Help:    "Wall time of whole batch runs",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})
)

// ErrNoIdentifiers rejects a batch with an empty input list before any
// work starts.
var ErrNoIdentifiers = errors.New("identifier list is empty")

// ErrInvalidConfig rejects a structurally invalid batch configuration
// before any work starts. Callers can distinguish it from execution
// failures when mapping errors to responses.
var ErrInvalidConfig = errors.New("invalid batch config")

// Caller-facing bounds. Requested values beyond these are clamped, not
// rejected, so a misconfigured client cannot hammer the upstream API.
const (
	DefaultConcurrency = 3
	MaxConcurrency     = 5

	DefaultRequestsPerSecond = 2.0
	MaxRequestsPerSecond     = 5.0

	DefaultBurst = 3
	MaxBurst     = 10
)

// Config holds caller-supplied batch parameters.
type Config struct {
	// Concurrency is the number of identifiers processed in parallel.
	Concurrency int

	// RequestsPerSecond is the shared outbound rate across all workers.
	RequestsPerSecond float64

	// Burst is the token bucket capacity.
	Burst int

	// Period selects the reporting range. Empty means Period3Months.
	Period datewindow.Period

	// ShopNo selects the storefront on multi-shop accounts. Zero means
	// the directory factory's default shop.
	ShopNo int

	// Guess enables suffixed login-id variants for numeric identifiers.
	Guess bool

	// GuessSuffixes overrides DefaultGuessSuffixes when non-nil.
	GuessSuffixes []string
}

// DefaultBatchConfig returns a conservative configuration.
func DefaultBatchConfig() Config {
	return Config{
		Concurrency:       DefaultConcurrency,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Burst:             DefaultBurst,
		Period:            datewindow.Period3Months,
	}
}

// withDefaults fills zero values and clamps the rest to the safe bounds.
func (c Config) withDefaults() (Config, error) {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	} else if c.Concurrency > MaxConcurrency {
		c.Concurrency = MaxConcurrency
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	} else if c.RequestsPerSecond > MaxRequestsPerSecond {
		c.RequestsPerSecond = MaxRequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	} else if c.Burst > MaxBurst {
		c.Burst = MaxBurst
	}
	if c.Period == "" {
		c.Period = datewindow.Period3Months
	}
	if c.ShopNo < 0 {
		return c, fmt.Errorf("%w: negative shop number %d", ErrInvalidConfig, c.ShopNo)
	}
	if !c.Period.Valid() {
		return c, fmt.Errorf("%w: unknown reporting period %q", ErrInvalidConfig, c.Period)
	}
	return c, nil
}

// Summary is the synchronous batch response body.
type Summary struct {
	Total            int      `json:"total"`
	OK               int      `json:"ok"`
	Fail             int      `json:"fail"`
	ProcessingTimeMS int64    `json:"processingTime"`
	Results          []Result `json:"results"`
}

// DirectoryFactory builds an admin API client bound to the batch's own
// rate limiter and storefront. Each batch run owns a fresh limiter
// sized from its Config, so the factory is invoked once per run.
// A zero shopNo selects the factory's default shop.
type DirectoryFactory func(limiter client.Limiter, shopNo int) (Directory, error)

// Runner executes synchronous batches over a list of identifiers.
type Runner struct {
	newDirectory DirectoryFactory
	logger       zerolog.Logger
}

// NewRunner creates a batch runner.
func NewRunner(newDirectory DirectoryFactory, logger zerolog.Logger) (*Runner, error) {
	if newDirectory == nil {
		return nil, fmt.Errorf("directory factory is required")
	}
	return &Runner{
		newDirectory: newDirectory,
		logger:       logger.With().Str("component", "batch").Logger(),
	}, nil
}

// Run processes all identifiers with bounded concurrency and returns a
// mixed ok/fail summary. Per-item failures never abort the batch; only
// input validation and client construction errors do.
func (r *Runner) Run(ctx context.Context, identifiers []string, cfg Config) (*Summary, error) {
	return r.execute(ctx, identifiers, cfg, nil)
}

func (r *Runner) execute(ctx context.Context, identifiers []string, cfg Config, onItem func(completed int, res Result)) (*Summary, error) {
	if len(identifiers) == 0 {
		return nil, ErrNoIdentifiers
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	// One shared bucket serializes the aggregate outbound rate of all
	// workers in this run.
	bucket := ratelimit.NewBucket(cfg.RequestsPerSecond, cfg.Burst, r.logger)
	defer bucket.Dispose()

	dir, err := r.newDirectory(bucket, cfg.ShopNo)
	if err != nil {
		return nil, fmt.Errorf("failed to build admin API client: %w", err)
	}
	resolver := NewResolver(dir, cfg.Guess, cfg.GuessSuffixes, r.logger)
	orch, err := NewOrchestrator(dir, resolver, cfg.Period, r.logger)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Int("total", len(identifiers)).
		Int("concurrency", cfg.Concurrency).
		Float64("rps", cfg.RequestsPerSecond).
		Str("period", string(cfg.Period)).
		Int("shop_no", cfg.ShopNo).
		Msg("Starting batch")

	start := time.Now()
	var completed atomic.Int64
	results := workpool.Run(ctx, identifiers, cfg.Concurrency, func(ctx context.Context, identifier string, _ int) Result {
		res := orch.Process(ctx, identifier)
		if onItem != nil {
			onItem(int(completed.Add(1)), res)
		}
		return res
	})
	elapsed := time.Since(start)
	batchDuration.Observe(elapsed.Seconds())

	summary := &Summary{
		Total:            len(results),
		ProcessingTimeMS: elapsed.Milliseconds(),
		Results:          results,
	}
	for _, res := range results {
		if res.OK {
			summary.OK++
			identifiersTotal.WithLabelValues("ok").Inc()
		} else {
			summary.Fail++
			identifiersTotal.WithLabelValues("fail").Inc()
		}
	}

	r.logger.Info().
		Int("total", summary.Total).
		Int("ok", summary.OK).
		Int("fail", summary.Fail).
		Dur("elapsed", elapsed).
		Msg("Batch finished")

	return summary, nil
}
