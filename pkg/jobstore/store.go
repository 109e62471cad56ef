package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/logging"
)

// Prometheus metrics for job tracking.
var (
	jobsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mallsync_jobs_created_total",
		Help: "Total background jobs created",
	})

	jobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mallsync_jobs_finished_total",
		Help: "Total background jobs finished by terminal status",
	}, []string{"status"})

	jobUpdatesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mallsync_job_updates_dropped_total",
		Help: "Total job updates dropped because the job was already terminal",
	})
)

// Store enforces the job state machine over a Repository. All writes go
// through it; repositories stay dumb CRUD.
type Store struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore creates a store over the given repository.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:   repo,
		logger: logging.NewLogger("jobstore"),
		now:    time.Now,
	}
}

// Create registers a new pending job and returns its record.
func (s *Store) Create(ctx context.Context, total int, message string) (*Record, error) {
	rec := &Record{
		JobID:     NewJobID(),
		Status:    StatusPending,
		Total:     total,
		Message:   message,
		StartTime: s.now(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	jobsCreatedTotal.Inc()
	s.logger.Info().
		Str("job_id", rec.JobID).
		Int("total", total).
		Msg("Job created")

	return rec, nil
}

// Get returns the record for a job id.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	return s.repo.Get(ctx, jobID)
}

// mutate re-reads the record, applies fn unless the record is terminal, and
// saves. Updates racing against an already-terminal job are dropped with a
// warning rather than applied: the background worker may fire a late
// progress write after a failure ended the job.
func (s *Store) mutate(ctx context.Context, jobID string, fn func(*Record)) (bool, error) {
	rec, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return false, err
	}

	if rec.Status.Terminal() {
		jobUpdatesDroppedTotal.Inc()
		s.logger.Warn().
			Str("job_id", jobID).
			Str("status", string(rec.Status)).
			Msg("Dropping update against terminal job")
		return false, nil
	}

	fn(rec)
	if err := s.repo.Save(ctx, rec); err != nil {
		return false, fmt.Errorf("save job %s: %w", jobID, err)
	}
	return true, nil
}

// Progress moves the job to running and records the current position.
// current is clamped to total.
func (s *Store) Progress(ctx context.Context, jobID string, current int, message string) error {
	_, err := s.mutate(ctx, jobID, func(rec *Record) {
		if current > rec.Total {
			current = rec.Total
		}
		if current > rec.Current {
			rec.Current = current
		}
		rec.Status = StatusRunning
		rec.Message = message
	})
	return err
}

// Complete moves the job to its completed terminal state with a result.
func (s *Store) Complete(ctx context.Context, jobID string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}

	applied, err := s.mutate(ctx, jobID, func(rec *Record) {
		end := s.now()
		rec.Status = StatusCompleted
		rec.Current = rec.Total
		rec.Message = "completed"
		rec.EndTime = &end
		rec.Result = payload
	})
	if err != nil || !applied {
		return err
	}

	jobsFinishedTotal.WithLabelValues(string(StatusCompleted)).Inc()
	s.logger.Info().Str("job_id", jobID).Msg("Job completed")
	return nil
}

// Fail moves the job to its failed terminal state.
func (s *Store) Fail(ctx context.Context, jobID string, errMsg string) error {
	applied, err := s.mutate(ctx, jobID, func(rec *Record) {
		end := s.now()
		rec.Status = StatusFailed
		rec.Message = "failed"
		rec.EndTime = &end
		rec.Error = errMsg
	})
	if err != nil || !applied {
		return err
	}

	jobsFinishedTotal.WithLabelValues(string(StatusFailed)).Inc()
	s.logger.Warn().Str("job_id", jobID).Str("error", errMsg).Msg("Job failed")
	return nil
}
