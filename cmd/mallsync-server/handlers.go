package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/batch"
	"github.com/seolo/mallsync/pkg/datewindow"
	"github.com/seolo/mallsync/pkg/jobstore"
)

type server struct {
	runner    *batch.Runner
	jobRunner *batch.JobRunner
	jobs      *jobstore.Store
	logger    zerolog.Logger
}

func newServer(runner *batch.Runner, jobRunner *batch.JobRunner, jobs *jobstore.Store, logger zerolog.Logger) *server {
	return &server{
		runner:    runner,
		jobRunner: jobRunner,
		jobs:      jobs,
		logger:    logger.With().Str("component", "http").Logger(),
	}
}

// batchRequest is the body of POST /api/batch and POST /api/jobs.
type batchRequest struct {
	Identifiers       []string `json:"identifiers"`
	Concurrency       int      `json:"concurrency"`
	RequestsPerSecond float64  `json:"rps"`
	Burst             int      `json:"burst"`
	Period            string   `json:"period"`
	ShopNo            int      `json:"shopNo"`
	Guess             bool     `json:"guess"`
}

func (r batchRequest) config() batch.Config {
	return batch.Config{
		Concurrency:       r.Concurrency,
		RequestsPerSecond: r.RequestsPerSecond,
		Burst:             r.Burst,
		Period:            datewindow.Period(r.Period),
		ShopNo:            r.ShopNo,
		Guess:             r.Guess,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleBatch runs a synchronous batch. Partial failure is a normal
// outcome: the response is always 200 with a mixed ok/fail breakdown;
// only structural validation problems produce a 4xx.
func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	summary, err := s.runner.Run(r.Context(), req.Identifiers, req.config())
	if err != nil {
		if errors.Is(err, batch.ErrNoIdentifiers) || errors.Is(err, batch.ErrInvalidConfig) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Error().Err(err).Msg("Batch failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "batch execution failed"})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

type startJobResponse struct {
	JobID      string `json:"jobId"`
	TotalItems int    `json:"totalItems"`
}

// handleStartJob launches a background batch and returns immediately.
func (s *server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	jobID, total, err := s.jobRunner.StartJob(r.Context(), req.Identifiers, req.config())
	if err != nil {
		if errors.Is(err, batch.ErrNoIdentifiers) || errors.Is(err, batch.ErrInvalidConfig) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to start job")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to start job"})
		return
	}

	writeJSON(w, http.StatusAccepted, startJobResponse{JobID: jobID, TotalItems: total})
}

// handleJobStatus returns the poll projection of one job. Swept jobs
// return 404, same as never-existed ids.
func (s *server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	rec, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
			return
		}
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Job lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "job lookup failed"})
		return
	}

	writeJSON(w, http.StatusOK, rec.View(time.Now()))
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
