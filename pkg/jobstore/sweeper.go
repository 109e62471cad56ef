package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/logging"
)

var jobsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mallsync_jobs_swept_total",
	Help: "Total terminal job records removed by the retention sweep",
})

// DefaultRetention is how long a terminal record stays pollable past its
// end time.
const DefaultRetention = time.Hour

// DefaultSweepInterval is how often the sweep runs.
const DefaultSweepInterval = 10 * time.Minute

// Sweeper periodically removes expired terminal job records. It is an
// explicitly owned background task: Start launches it, Stop blocks until it
// has exited, and its lifetime is tied to the owning process.
type Sweeper struct {
	repo      Repository
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper over the given repository. Non-positive
// durations fall back to the defaults.
func NewSweeper(repo Repository, retention, interval time.Duration) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logging.NewLogger("job-sweeper"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop terminates the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Msg("Job sweeper started")

	for {
		select {
		case <-s.stop:
			s.logger.Info().Msg("Job sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.retention)
	deleted, err := s.repo.Sweep(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Job sweep failed")
		return
	}
	if deleted > 0 {
		jobsSweptTotal.Add(float64(deleted))
		s.logger.Info().Int("deleted", deleted).Msg("Swept expired job records")
	}
}
