package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/jobstore"
)

// JobRunner executes batches in the background, tracking progress in a
// job store so callers can poll instead of holding a request open for
// the whole run. A started job has no cancellation path. It runs to
// completion or failure.
type JobRunner struct {
	runner *Runner
	jobs   *jobstore.Store
	logger zerolog.Logger
}

// NewJobRunner creates a background batch runner.
func NewJobRunner(runner *Runner, jobs *jobstore.Store, logger zerolog.Logger) (*JobRunner, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	return &JobRunner{
		runner: runner,
		jobs:   jobs,
		logger: logger.With().Str("component", "jobrunner").Logger(),
	}, nil
}

// StartJob validates the input, creates a job record and launches the
// batch in the background. It returns the job id and item count
// immediately.
func (j *JobRunner) StartJob(ctx context.Context, identifiers []string, cfg Config) (string, int, error) {
	if len(identifiers) == 0 {
		return "", 0, ErrNoIdentifiers
	}
	if _, err := cfg.withDefaults(); err != nil {
		return "", 0, err
	}

	rec, err := j.jobs.Create(ctx, len(identifiers), "queued")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create job record: %w", err)
	}

	j.logger.Info().
		Str("job_id", rec.JobID).
		Int("total", len(identifiers)).
		Msg("Job started")

	go j.run(rec.JobID, identifiers, cfg)

	return rec.JobID, len(identifiers), nil
}

// run executes the batch detached from the starting request's context.
func (j *JobRunner) run(jobID string, identifiers []string, cfg Config) {
	ctx := context.Background()
	total := len(identifiers)
	start := time.Now()

	summary, err := j.runner.execute(ctx, identifiers, cfg, func(completed int, res Result) {
		msg := fmt.Sprintf("processed %d/%d identifiers", completed, total)
		if perr := j.jobs.Progress(ctx, jobID, completed, msg); perr != nil {
			j.logger.Warn().
				Err(perr).
				Str("job_id", jobID).
				Msg("Failed to record job progress")
		}
	})
	if err != nil {
		j.logger.Error().
			Err(err).
			Str("job_id", jobID).
			Msg("Job failed")
		if ferr := j.jobs.Fail(ctx, jobID, err.Error()); ferr != nil {
			j.logger.Error().Err(ferr).Str("job_id", jobID).Msg("Failed to record job failure")
		}
		return
	}

	j.logger.Info().
		Str("job_id", jobID).
		Int("ok", summary.OK).
		Int("fail", summary.Fail).
		Dur("elapsed", time.Since(start)).
		Msg("Job completed")

	if cerr := j.jobs.Complete(ctx, jobID, summary); cerr != nil {
		j.logger.Error().Err(cerr).Str("job_id", jobID).Msg("Failed to record job completion")
	}
}
