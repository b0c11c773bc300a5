// Package sqlite stores job history in a local SQLite file for running
// without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/repository"
)

//go:embed schema.sql
var schemaSQL string

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type JobRepository struct {
	db *sql.DB
}

// Open creates the database file and its directory when missing and applies
// the schema.
func Open(path string) (*JobRepository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer avoids SQLITE_BUSY between the runner's saves
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &JobRepository{db: db}, nil
}

func (r *JobRepository) Close() error {
	return r.db.Close()
}

func (r *JobRepository) Save(ctx context.Context, job *entity.Job) error {
	rec, err := repository.Encode(job)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO pipeline_jobs (id, state, priority, progress, inputs, config, stages, logs, error, created_at, updated_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    state = excluded.state,
    priority = excluded.priority,
    progress = excluded.progress,
    inputs = excluded.inputs,
    config = excluded.config,
    stages = excluded.stages,
    logs = excluded.logs,
    error = excluded.error,
    updated_at = excluded.updated_at,
    finished_at = excluded.finished_at;
`
	var finishedAt *string
	if rec.FinishedAt != nil {
		s := formatTime(*rec.FinishedAt)
		finishedAt = &s
	}

	_, err = r.db.ExecContext(ctx, q,
		rec.ID.String(),
		rec.State,
		rec.Priority,
		rec.Progress,
		string(rec.Inputs),
		string(rec.Config),
		string(rec.Stages),
		string(rec.Logs),
		rec.Error,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
		finishedAt,
	)
	return err
}

const selectColumns = `id, state, priority, progress, inputs, config, stages, logs, error, created_at, updated_at, finished_at`

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + selectColumns + ` FROM pipeline_jobs WHERE id = ?;`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, entity.ErrNotFound)
		}
		return nil, err
	}
	return rec.Decode()
}

// List returns the most recent jobs first.
func (r *JobRepository) List(ctx context.Context, limit int) ([]*entity.Job, error) {
	q := `SELECT ` + selectColumns + ` FROM pipeline_jobs ORDER BY created_at DESC LIMIT ?;`

	rows, err := r.db.QueryContext(ctx, q, repository.ClampLimit(limit))
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

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (repository.Record, error) {
	var (
		rec                  repository.Record
		id                   string
		inputs, config       string
		stages, logs         string
		errText, finishedAt  sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&id,
		&rec.State,
		&rec.Priority,
		&rec.Progress,
		&inputs,
		&config,
		&stages,
		&logs,
		&errText,
		&createdAt,
		&updatedAt,
		&finishedAt,
	); err != nil {
		return repository.Record{}, err
	}

	var err error
	if rec.ID, err = uuid.Parse(id); err != nil {
		return repository.Record{}, fmt.Errorf("parse id %q: %w", id, err)
	}
	rec.Inputs, rec.Config = []byte(inputs), []byte(config)
	rec.Stages, rec.Logs = []byte(stages), []byte(logs)
	if errText.Valid {
		rec.Error = &errText.String
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return repository.Record{}, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return repository.Record{}, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return repository.Record{}, err
		}
		rec.FinishedAt = &t
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
