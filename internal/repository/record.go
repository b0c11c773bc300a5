// Package repository holds what the history stores share: the row layout of
// a terminal job and its JSON columns.
package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"meeting-pipeline/internal/entity"
)

// Record is a job flattened into table columns.
type Record struct {
	ID         uuid.UUID
	State      string
	Priority   int
	Progress   float64
	Inputs     []byte
	Config     []byte
	Stages     []byte
	Logs       []byte
	Error      *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

func Encode(job *entity.Job) (Record, error) {
	rec := Record{
		ID:         job.ID,
		State:      string(job.State),
		Priority:   job.Priority,
		Progress:   job.Progress,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		FinishedAt: job.FinishedAt,
	}

	var err error
	if rec.Inputs, err = marshalColumn("inputs", job.Inputs, "[]"); err != nil {
		return Record{}, err
	}
	if rec.Config, err = marshalColumn("config", job.Config, "{}"); err != nil {
		return Record{}, err
	}
	if rec.Stages, err = marshalColumn("stages", job.Stages, "[]"); err != nil {
		return Record{}, err
	}
	if rec.Logs, err = marshalColumn("logs", job.Logs, "[]"); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func marshalColumn(name string, v any, empty string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	if string(b) == "null" {
		return []byte(empty), nil
	}
	return b, nil
}

func (rec Record) Decode() (*entity.Job, error) {
	job := &entity.Job{
		ID:         rec.ID,
		State:      entity.JobState(rec.State),
		Priority:   rec.Priority,
		Progress:   rec.Progress,
		Error:      rec.Error,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		FinishedAt: rec.FinishedAt,
	}

	columns := []struct {
		name string
		data []byte
		into any
	}{
		{"inputs", rec.Inputs, &job.Inputs},
		{"config", rec.Config, &job.Config},
		{"stages", rec.Stages, &job.Stages},
		{"logs", rec.Logs, &job.Logs},
	}
	for _, c := range columns {
		if len(c.data) == 0 {
			continue
		}
		if err := json.Unmarshal(c.data, c.into); err != nil {
			return nil, fmt.Errorf("decode %s of job %s: %w", c.name, rec.ID, err)
		}
	}
	return job, nil
}

// ClampLimit keeps list sizes within [1, 500], defaulting to 50.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
