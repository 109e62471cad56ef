package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores job records in a single table: the record as
// jsonb plus an end_time column so the sweep is one indexed DELETE.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a Postgres-backed repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("pgx pool cannot be nil")
	}
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the jobs table if it does not exist.
func (p *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mallsync_jobs (
			job_id   text PRIMARY KEY,
			record   jsonb NOT NULL,
			end_time timestamptz
		)`)
	if err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

// Create inserts a new record, refusing to overwrite an existing id.
func (p *PostgresRepository) Create(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	tag, err := p.pool.Exec(ctx, `
		INSERT INTO mallsync_jobs (job_id, record, end_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO NOTHING`,
		rec.JobID, data, rec.EndTime)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.JobID)
	}
	return nil
}

// Get retrieves a record by job id.
func (p *PostgresRepository) Get(ctx context.Context, jobID string) (*Record, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT record FROM mallsync_jobs WHERE job_id = $1`, jobID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("select job: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal job record: %w", err)
	}
	return &rec, nil
}

// Save overwrites a record.
func (p *PostgresRepository) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE mallsync_jobs SET record = $2, end_time = $3 WHERE job_id = $1`,
		rec.JobID, data, rec.EndTime)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.JobID)
	}
	return nil
}

// Sweep deletes terminal records that ended before cutoff.
func (p *PostgresRepository) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM mallsync_jobs WHERE end_time IS NOT NULL AND end_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
