package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/executor"
	"meeting-pipeline/internal/pipeline"
	"meeting-pipeline/internal/resolver"
)

// JobRepository is the history store (postgresql.JobRepository, sqlite.JobRepository).
// Queued jobs are saved there too, so any instance sharing the queue can load them.
type JobRepository interface {
	Save(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	List(ctx context.Context, limit int) ([]*entity.Job, error)
}

// JobQueue only enqueues; claiming belongs to the worker.
// (Not named Queue to keep clear of queue_service.go.)
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
}

// JobRunner is the part of pipeline.Runner the service needs.
type JobRunner interface {
	Submit(job *entity.Job) error
	Snapshot(id uuid.UUID) (*entity.Job, error)
	CancelJob(id uuid.UUID) error
	Subscribe(id uuid.UUID, l pipeline.Listener) (func(), error)
	Pending() []uuid.UUID
	Settle(job *entity.Job) error
}

type JobService struct {
	runner    JobRunner
	resolver  resolver.Resolver
	queue     JobQueue
	repo      JobRepository
	listeners []pipeline.Listener
	stages    func(entity.Config) []entity.StageDefinition
	now       func() time.Time
}

type ServiceOption func(*JobService)

// WithListeners attaches ls to every submitted job.
func WithListeners(ls ...pipeline.Listener) ServiceOption {
	return func(s *JobService) { s.listeners = append(s.listeners, ls...) }
}

func NewJobService(runner JobRunner, res resolver.Resolver, queue JobQueue, repo JobRepository, opts ...ServiceOption) *JobService {
	s := &JobService{
		runner:   runner,
		resolver: res,
		queue:    queue,
		repo:     repo,
		stages:   executor.MeetingStages,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SubmitRequest struct {
	Inputs   []string
	Config   entity.Config
	Priority int
}

// Submit resolves inputs and config, registers the job and queues it.
// Nothing runs when an input cannot be resolved.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	if len(req.Inputs) == 0 {
		return uuid.Nil, entity.ErrEmptyInputs
	}

	cfg, err := req.Config.Normalize()
	if err != nil {
		return uuid.Nil, err
	}

	inputs, err := resolver.ResolveAll(ctx, s.resolver, req.Inputs)
	if err != nil {
		return uuid.Nil, err
	}

	priority := req.Priority
	if priority < PriorityLow || priority > PriorityHigh {
		priority = PriorityNormal
	}

	job := entity.NewJob(inputs, cfg, s.stages(cfg), s.now())
	job.Priority = priority

	if err := s.runner.Submit(job); err != nil {
		return uuid.Nil, err
	}
	s.attach(job.ID)

	// saved before it is queued: whichever instance claims it loads it from here
	if s.repo != nil {
		if err := s.repo.Save(ctx, job); err != nil {
			if cErr := s.runner.CancelJob(job.ID); cErr != nil {
				log.WithError(cErr).WithField("job_id", job.ID.String()).Warn("cancel unsaved job")
			}
			return uuid.Nil, fmt.Errorf("save job %s: %w", job.ID, err)
		}
	}

	if err := s.queue.Enqueue(ctx, job.ID.String(), priority); err != nil {
		if cErr := s.runner.CancelJob(job.ID); cErr != nil {
			log.WithError(cErr).WithField("job_id", job.ID.String()).Warn("cancel unqueued job")
		}
		return uuid.Nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	log.WithFields(log.Fields{
		"job_id":   job.ID.String(),
		"inputs":   len(inputs),
		"priority": priority,
		"force":    cfg.ForceRun(),
	}).Info("job submitted")
	return job.ID, nil
}

func (s *JobService) attach(id uuid.UUID) {
	for _, l := range s.listeners {
		if _, err := s.runner.Subscribe(id, l); err != nil {
			log.WithError(err).WithField("job_id", id.String()).Warn("attach listener")
		}
	}
}

// Adopt registers a queued job that another instance submitted, loading it
// from the history store. Jobs that are no longer pending are refused with
// ErrAlreadyRunning.
func (s *JobService) Adopt(ctx context.Context, id uuid.UUID) error {
	if s.repo == nil {
		return fmt.Errorf("job %s: %w", id, entity.ErrNotFound)
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.runner.Submit(job); err != nil {
		return err
	}
	s.attach(job.ID)

	log.WithField("job_id", id.String()).Info("job adopted")
	return nil
}

// SettleRemote hands the stored final state to every job submitted here that
// another instance has finished in the meantime. It returns how many it settled.
func (s *JobService) SettleRemote(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}

	settled := 0
	for _, id := range s.runner.Pending() {
		stored, err := s.repo.GetByID(ctx, id)
		if errors.Is(err, entity.ErrNotFound) {
			continue
		}
		if err != nil {
			return settled, err
		}
		if !stored.State.IsTerminal() {
			continue
		}
		if err := s.runner.Settle(stored); err != nil {
			// claimed here in the meantime
			continue
		}
		settled++
	}
	return settled, nil
}

// GetJob returns the live job, or its stored copy once the runner has let go of it.
func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := s.runner.Snapshot(id)
	if err == nil {
		if job.State == entity.JobPending && s.repo != nil {
			return s.finishedElsewhere(ctx, job), nil
		}
		return job, nil
	}
	if !errors.Is(err, entity.ErrNotFound) || s.repo == nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// finishedElsewhere returns the stored copy of a locally pending job when another
// instance has already finished it.
func (s *JobService) finishedElsewhere(ctx context.Context, local *entity.Job) *entity.Job {
	stored, err := s.repo.GetByID(ctx, local.ID)
	if err != nil || !stored.State.IsTerminal() {
		return local
	}
	if err := s.runner.Settle(stored); err != nil {
		log.WithError(err).WithField("job_id", local.ID.String()).Debug("settle job")
	}
	return stored
}

func (s *JobService) Cancel(_ context.Context, id uuid.UUID) error {
	return s.runner.CancelJob(id)
}

// Subscribe attaches l to a live job. A job the runner has let go of is
// served from history as one terminal event.
func (s *JobService) Subscribe(ctx context.Context, id uuid.UUID, l pipeline.Listener) (func(), error) {
	unsubscribe, err := s.runner.Subscribe(id, l)
	if err == nil || !errors.Is(err, entity.ErrNotFound) || s.repo == nil {
		return unsubscribe, err
	}

	stored, rErr := s.repo.GetByID(ctx, id)
	if rErr != nil {
		return nil, rErr
	}
	if !stored.State.IsTerminal() {
		return nil, fmt.Errorf("job %s is %s on another instance: %w", id, stored.State, entity.ErrNotFound)
	}
	go l.OnEvent(pipeline.SnapshotEvent(stored))
	return func() {}, nil
}

func (s *JobService) History(ctx context.Context, limit int) ([]*entity.Job, error) {
	if s.repo == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.List(ctx, limit)
}
