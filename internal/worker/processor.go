package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/pipeline"
)

// JobRunner is the part of pipeline.Runner a worker drives.
type JobRunner interface {
	Start(id uuid.UUID) (*pipeline.RunHandle, error)
	Snapshot(id uuid.UUID) (*entity.Job, error)
}

// JobLoader registers a job this process has not seen, typically from the
// history store (implemented by service.JobService).
type JobLoader interface {
	Adopt(ctx context.Context, id uuid.UUID) error
}

type Processor struct {
	runner JobRunner
	loader JobLoader
}

type ProcessorOption func(*Processor)

// WithLoader lets the processor run jobs submitted by other instances.
func WithLoader(l JobLoader) ProcessorOption {
	return func(p *Processor) { p.loader = l }
}

func NewProcessor(runner JobRunner, opts ...ProcessorOption) *Processor {
	p := &Processor{runner: runner}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process starts the job and blocks until it is terminal. A job this process
// does not know is loaded first. Jobs that were cancelled while queued, or
// that cannot be found anywhere, are dropped.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		return fmt.Errorf("parse job id %q: %w", jobID, err)
	}
	logger := log.WithField("job_id", id.String())

	h, err := p.runner.Start(id)
	if errors.Is(err, entity.ErrNotFound) && p.loader != nil {
		err = p.loader.Adopt(ctx, id)
		if err == nil {
			h, err = p.runner.Start(id)
		} else if !errors.Is(err, entity.ErrNotFound) && !errors.Is(err, entity.ErrAlreadyRunning) {
			return fmt.Errorf("load job %s: %w", id, err)
		}
	}
	switch {
	case errors.Is(err, entity.ErrAlreadyRunning):
		logger.WithError(err).Info("job not pending, dropping")
		return nil
	case errors.Is(err, entity.ErrNotFound):
		logger.Warn("job unknown, dropping")
		return nil
	case err != nil:
		return err
	}

	state, err := h.Wait(ctx)
	if err != nil {
		// the runner keeps going; shutdown waits for it
		return fmt.Errorf("wait for job %s: %w", id, err)
	}

	fields := log.Fields{
		"state":       state,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if state != entity.JobFailed {
		logger.WithFields(fields).Info("job processed")
		return nil
	}

	job, err := p.runner.Snapshot(id)
	if err != nil || job.Error == nil {
		logger.WithFields(fields).Warn("job failed")
		return fmt.Errorf("job %s failed", id)
	}
	logger.WithFields(fields).WithField("error", *job.Error).Warn("job failed")
	return fmt.Errorf("job %s failed: %s", id, *job.Error)
}
