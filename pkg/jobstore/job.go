// Package jobstore tracks long-running batch jobs across process
// boundaries. A job record is created when a scan starts, updated by the
// background worker, polled by status requests that may land on a different
// process instance, and swept a fixed retention after it ends.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the job lifecycle state. The machine is forward-only:
// pending -> running -> {completed | failed}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the durable state of one batch job.
type Record struct {
	JobID     string          `json:"job_id"`
	Status    Status          `json:"status"`
	Current   int             `json:"current"`
	Total     int             `json:"total"`
	Message   string          `json:"message"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Progress derives the completion percentage, 0..100.
func (r *Record) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(math.Round(float64(r.Current) / float64(r.Total) * 100))
}

// NewJobID generates a unique job identifier: creation timestamp plus a
// random suffix.
func NewJobID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("job_%d_%s", time.Now().UnixMilli(), suffix)
}

// Errors returned by repositories.
var (
	// ErrNotFound indicates the job id does not exist (or was swept).
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyExists indicates a create collided with an existing id.
	ErrAlreadyExists = errors.New("job already exists")
)

// Repository is the durable keyed store behind the job store: plain CRUD
// plus a retention sweep. Implementations must tolerate read-after-write
// from a different process than the writer.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, jobID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	// Sweep deletes terminal records whose EndTime is before cutoff and
	// returns how many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// StatusView is the poll-endpoint projection of a record.
type StatusView struct {
	JobID            string          `json:"jobId"`
	Status           Status          `json:"status"`
	Progress         int             `json:"progress"`
	Current          int             `json:"current"`
	Total            int             `json:"total"`
	Message          string          `json:"message"`
	ElapsedSeconds   int64           `json:"elapsedTime"`
	RemainingSeconds *int64          `json:"estimatedRemainingTime,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// View projects the record for polling. The remaining-time estimate
// extrapolates from throughput so far and is only present while running
// with at least one item done.
func (r *Record) View(now time.Time) StatusView {
	end := now
	if r.EndTime != nil {
		end = *r.EndTime
	}
	elapsed := int64(end.Sub(r.StartTime).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}

	view := StatusView{
		JobID:          r.JobID,
		Status:         r.Status,
		Progress:       r.Progress(),
		Current:        r.Current,
		Total:          r.Total,
		Message:        r.Message,
		ElapsedSeconds: elapsed,
		Result:         r.Result,
		Error:          r.Error,
	}

	if r.Status == StatusRunning && r.Current > 0 && r.Total > r.Current {
		perItem := float64(elapsed) / float64(r.Current)
		remaining := int64(perItem * float64(r.Total-r.Current))
		view.RemainingSeconds = &remaining
	}

	return view
}
