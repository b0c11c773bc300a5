package postgresql

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/repository"
)

//go:embed schema.sql
var schemaSQL string

// NewPool connects and pings.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// Migrate creates the pipeline_jobs table when missing.
func (r *JobRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate pipeline_jobs: %w", err)
	}
	return nil
}

// Save upserts a job.
func (r *JobRepository) Save(ctx context.Context, job *entity.Job) error {
	rec, err := repository.Encode(job)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO pipeline_jobs (id, state, priority, progress, inputs, config, stages, logs, error, created_at, updated_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    state = EXCLUDED.state,
    priority = EXCLUDED.priority,
    progress = EXCLUDED.progress,
    inputs = EXCLUDED.inputs,
    config = EXCLUDED.config,
    stages = EXCLUDED.stages,
    logs = EXCLUDED.logs,
    error = EXCLUDED.error,
    updated_at = EXCLUDED.updated_at,
    finished_at = EXCLUDED.finished_at;
`
	_, err = r.pool.Exec(ctx, q,
		rec.ID,
		rec.State,
		rec.Priority,
		rec.Progress,
		rec.Inputs,
		rec.Config,
		rec.Stages,
		rec.Logs,
		rec.Error,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.FinishedAt,
	)
	return err
}

const selectColumns = `id, state, priority, progress, inputs, config, stages, logs, error, created_at, updated_at, finished_at`

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + selectColumns + ` FROM pipeline_jobs WHERE id = $1;`

	rec, err := scanRecord(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, entity.ErrNotFound)
		}
		return nil, err
	}
	return rec.Decode()
}

// List returns the most recent jobs first.
func (r *JobRepository) List(ctx context.Context, limit int) ([]*entity.Job, error) {
	q := `SELECT ` + selectColumns + ` FROM pipeline_jobs ORDER BY created_at DESC LIMIT $1;`

	rows, err := r.pool.Query(ctx, q, repository.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		job, err := rec.Decode()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanRecord(row pgx.Row) (repository.Record, error) {
	var rec repository.Record
	err := row.Scan(
		&rec.ID,
		&rec.State,
		&rec.Priority,
		&rec.Progress,
		&rec.Inputs,
		&rec.Config,
		&rec.Stages,
		&rec.Logs,
		&rec.Error, // NULL => nil
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.FinishedAt, // NULL => nil
	)
	return rec, err
}
