package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"meeting-pipeline/internal/cache"
	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/executor"
)

const cancelledMessage = "Cancelled by user"

// ExecutorResolver picks the executor for a stage (implemented by executor.Registry).
type ExecutorResolver interface {
	Resolve(stage entity.Stage, cfg entity.Config) (executor.Executor, error)
}

// HistoryStore records jobs when they start and when they finish.
type HistoryStore interface {
	Save(ctx context.Context, job *entity.Job) error
}

type Option func(*Runner)

func WithHistory(h HistoryStore) Option {
	return func(r *Runner) { r.history = h }
}

// WithSaveRetry sets how often a failed history save is attempted.
func WithSaveRetry(attempts uint, delay time.Duration) Option {
	return func(r *Runner) {
		r.saveAttempts = attempts
		r.saveDelay = delay
	}
}

// WithRetention bounds the number of finished jobs kept in memory; 0 keeps all.
func WithRetention(n int) Option {
	return func(r *Runner) { r.retention = n }
}

// Runner drives jobs through their stages. Each job runs on its own
// goroutine, one stage at a time; jobs share nothing but the cache.
type Runner struct {
	executors ExecutorResolver
	cache     *cache.Cache
	history   HistoryStore
	now       func() time.Time

	saveAttempts uint
	saveDelay    time.Duration
	retention    int

	mu       sync.RWMutex
	runs     map[uuid.UUID]*run
	finished []uuid.UUID

	wg      sync.WaitGroup
	baseCtx context.Context
	stopAll context.CancelFunc
}

func NewRunner(executors ExecutorResolver, c *cache.Cache, opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		executors:    executors,
		cache:        c,
		now:          time.Now,
		saveAttempts: 3,
		saveDelay:    200 * time.Millisecond,
		retention:    256,
		runs:         make(map[uuid.UUID]*run),
		baseCtx:      ctx,
		stopAll:      cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the mutable state of one job. mu guards job, subs and published.
type run struct {
	mu        sync.Mutex
	job       *entity.Job
	subs      map[int]*subscriber
	nextSub   int
	published int
	handle    *RunHandle
}

// RunHandle refers to a started job.
type RunHandle struct {
	JobID uuid.UUID

	cancelRequested atomic.Bool
	done            chan struct{}
	run             *run
}

// Cancel asks the runner to stop the job at its next checkpoint.
func (h *RunHandle) Cancel() {
	h.cancelRequested.Store(true)
}

func (h *RunHandle) cancelled() bool {
	return h.cancelRequested.Load()
}

// Done is closed once the job is terminal and saved.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job is terminal or ctx ends.
func (h *RunHandle) Wait(ctx context.Context) (entity.JobState, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.done:
	}
	h.run.mu.Lock()
	defer h.run.mu.Unlock()
	return h.run.job.State, nil
}

// Submit registers a pending job so observers can subscribe before it starts.
func (rn *Runner) Submit(job *entity.Job) error {
	if job.State != entity.JobPending {
		return fmt.Errorf("%w: job %s is %s", entity.ErrAlreadyRunning, job.ID, job.State)
	}

	rn.mu.Lock()
	defer rn.mu.Unlock()

	if _, ok := rn.runs[job.ID]; ok {
		return fmt.Errorf("%w: job %s already submitted", entity.ErrAlreadyRunning, job.ID)
	}
	rn.runs[job.ID] = &run{job: job.Clone(), subs: make(map[int]*subscriber)}
	return nil
}

// Start begins executing a submitted job.
func (rn *Runner) Start(id uuid.UUID) (*RunHandle, error) {
	r, err := rn.lookup(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.job.State != entity.JobPending {
		state := r.job.State
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s is %s", entity.ErrAlreadyRunning, id, state)
	}
	h := &RunHandle{JobID: id, done: make(chan struct{}), run: r}
	r.handle = h
	r.job.State = entity.JobRunning
	r.job.UpdatedAt = rn.now()
	r.mu.Unlock()

	rn.wg.Add(1)
	go rn.execute(r, h)
	return h, nil
}

// Cancel requests cooperative cancellation of a started job.
func (rn *Runner) Cancel(h *RunHandle) {
	if h != nil {
		h.Cancel()
	}
}

// CancelJob cancels by id. A job that has not started is cancelled at once.
func (rn *Runner) CancelJob(id uuid.UUID) error {
	r, err := rn.lookup(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	switch {
	case r.job.State == entity.JobPending:
		rn.finishLocked(r, entity.JobCancelled, nil, "Pipeline cancelled by user")
		snapshot := r.job.Clone()
		r.mu.Unlock()
		rn.afterFinish(snapshot)
		return nil
	case r.job.State.IsTerminal():
		state := r.job.State
		r.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", entity.ErrNotRunning, id, state)
	default:
		h := r.handle
		r.mu.Unlock()
		h.Cancel()
		return nil
	}
}

// Pending lists jobs that were submitted here and have not started.
func (rn *Runner) Pending() []uuid.UUID {
	rn.mu.RLock()
	runs := make(map[uuid.UUID]*run, len(rn.runs))
	for id, r := range rn.runs {
		runs[id] = r
	}
	rn.mu.RUnlock()

	var ids []uuid.UUID
	for id, r := range runs {
		r.mu.Lock()
		if r.job.State == entity.JobPending {
			ids = append(ids, id)
		}
		r.mu.Unlock()
	}
	return ids
}

// Settle takes over the final state of a pending job that another instance
// claimed and finished. Subscribers get it as one remote terminal event and
// nothing is saved, since the other instance already did.
func (rn *Runner) Settle(job *entity.Job) error {
	if !job.State.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", entity.ErrNotRunning, job.ID, job.State)
	}
	r, err := rn.lookup(job.ID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.job.State != entity.JobPending {
		state := r.job.State
		r.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", entity.ErrAlreadyRunning, job.ID, state)
	}
	r.job = job.Clone()
	ev := SnapshotEvent(r.job)
	ev.Remote = true
	r.published = len(r.job.Logs)
	for _, s := range r.subs {
		s.push(ev)
	}
	r.subs = make(map[int]*subscriber)
	r.mu.Unlock()

	rn.retain(job.ID)
	return nil
}

// Snapshot returns a copy of the job's current state.
func (rn *Runner) Snapshot(id uuid.UUID) (*entity.Job, error) {
	r, err := rn.lookup(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Clone(), nil
}

// Subscribe attaches l to a job. l first receives the current snapshot with
// every log line so far, then one event per state change. The returned func
// detaches l and may be called more than once.
func (rn *Runner) Subscribe(id uuid.UUID, l Listener) (func(), error) {
	r, err := rn.lookup(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := newSubscriber(id, l)
	initial := rn.event(r)
	initial.NewLogs = append([]entity.LogLine(nil), r.job.Logs...)
	s.push(initial)
	if initial.Terminal {
		return s.close, nil
	}

	key := r.nextSub
	r.nextSub++
	r.subs[key] = s

	return func() {
		r.mu.Lock()
		delete(r.subs, key)
		r.mu.Unlock()
		s.close()
	}, nil
}

// Shutdown waits for running jobs. When ctx ends first, in-flight stages are
// interrupted and their jobs fail.
func (rn *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		rn.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		rn.stopAll()
		return nil
	case <-ctx.Done():
		rn.stopAll()
		<-done
		return ctx.Err()
	}
}

func (rn *Runner) lookup(id uuid.UUID) (*run, error) {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	r, ok := rn.runs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, entity.ErrNotFound)
	}
	return r, nil
}

func (rn *Runner) execute(r *run, h *RunHandle) {
	defer rn.wg.Done()
	defer close(h.done)

	ctx := rn.baseCtx
	start := rn.now()

	r.mu.Lock()
	jobID := r.job.ID
	inputs := append([]entity.InputDescriptor(nil), r.job.Inputs...)
	cfg := r.job.Config.Clone()
	stageCount := len(r.job.Stages)
	rn.logf(r, "Starting pipeline for %d file(s)...", len(inputs))
	if cfg.ForceRun() {
		rn.logf(r, "Force run enabled - ignoring cache")
	} else {
		rn.logf(r, "Cache-hit enabled")
	}
	rn.publish(r)
	started := r.job.Clone()
	r.mu.Unlock()

	// a stored running job is not picked up again by another instance
	rn.save(started)

	logger := log.WithField("job_id", jobID.String())
	logger.WithField("stages", stageCount).Info("job started")

	state := entity.JobCompleted
	var jobErr error
	finalLine := "Pipeline completed successfully"

	for i := 0; i < stageCount; i++ {
		r.mu.Lock()
		stage := &r.job.Stages[i]
		if err := stage.Transition(entity.StageRunning, rn.now()); err != nil {
			// stages are only ever advanced here, so this is a bug
			r.mu.Unlock()
			logger.WithError(err).Error("stage transition")
			state, jobErr, finalLine = entity.JobFailed, err, "Pipeline failed: "+err.Error()
			break
		}
		if stage.CacheEligible {
			stage.Fingerprint = cache.Fingerprint(stage.ID, stage.Kind, inputs, cfg)
		}
		rn.logf(r, "Starting %s...", stage.Label)
		rn.publish(r)
		current := *stage
		r.mu.Unlock()

		// checkpoint before any work of this stage happens
		var out stageOutcome
		if h.cancelled() {
			out = stageOutcome{status: entity.StageFailed}
		} else {
			out = rn.runStage(ctx, r, current, inputs, cfg)
		}

		r.mu.Lock()
		stage = &r.job.Stages[i]
		status, message := out.status, out.message
		if h.cancelled() {
			status, message = entity.StageFailed, cancelledMessage
		}
		if err := stage.Transition(status, rn.now()); err != nil {
			r.mu.Unlock()
			logger.WithError(err).Error("stage transition")
			state, jobErr, finalLine = entity.JobFailed, err, "Pipeline failed: "+err.Error()
			break
		}
		stage.Message = message
		if status == entity.StageSuccess || status == entity.StageCacheHit {
			stage.Output = out.output
		}
		r.job.RecomputeProgress()

		stageLog := logger.WithFields(log.Fields{
			"stage":       stage.ID,
			"status":      stage.Status,
			"duration_ms": stage.DurationMs,
		})

		switch {
		case h.cancelled():
			rn.logf(r, "%s cancelled", stage.Label)
			state, finalLine = entity.JobCancelled, "Pipeline cancelled by user"
		case status == entity.StageFailed:
			jobErr = &entity.StageExecutionError{StageID: stage.ID, Err: out.err}
			rn.logf(r, "%s failed: %v", stage.Label, out.err)
			state, finalLine = entity.JobFailed, fmt.Sprintf("Pipeline failed at %s: %v", stage.Label, out.err)
		case status == entity.StageCacheHit:
			rn.logf(r, "Cache-hit: fingerprint matched, skipping execution")
		case status == entity.StageSkipped:
			rn.logf(r, "Skipped %s: %s", stage.Label, message)
		default:
			rn.logf(r, "Completed %s in %dms", stage.Label, stage.DurationMs)
		}
		stageLog.Info("stage finished")

		if state != entity.JobCompleted {
			r.mu.Unlock()
			break
		}
		rn.publish(r)
		r.mu.Unlock()
	}

	r.mu.Lock()
	rn.finishLocked(r, state, jobErr, finalLine)
	snapshot := r.job.Clone()
	r.mu.Unlock()

	logger.WithFields(log.Fields{
		"state":       state,
		"duration_ms": rn.now().Sub(start).Milliseconds(),
	}).Info("job finished")

	rn.afterFinish(snapshot)
}

type stageOutcome struct {
	status  entity.StageStatus
	message string
	output  json.RawMessage
	err     error
}

func (rn *Runner) runStage(ctx context.Context, r *run, stage entity.Stage, inputs []entity.InputDescriptor, cfg entity.Config) stageOutcome {
	ex, err := rn.executors.Resolve(stage, cfg)
	if err != nil {
		return stageOutcome{status: entity.StageFailed, err: err}
	}

	req := executor.Request{
		Stage:  stage,
		Inputs: inputs,
		Config: cfg,
		Logf: func(format string, args ...any) {
			r.mu.Lock()
			rn.logf(r, format, args...)
			rn.publish(r)
			r.mu.Unlock()
		},
	}
	compute := func(ctx context.Context) (cache.Entry, error) {
		res, err := ex.Execute(ctx, req)
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.Entry{StageID: stage.ID, Output: res.Output, Message: res.Message}, nil
	}

	var (
		entry   cache.Entry
		outcome = cache.Computed
	)
	switch {
	case !stage.CacheEligible || rn.cache == nil:
		entry, err = compute(ctx)
	case cfg.ForceRun():
		entry, err = rn.cache.Refresh(ctx, stage.Fingerprint, compute)
	default:
		entry, outcome, err = rn.cache.Do(ctx, stage.Fingerprint, compute)
	}

	switch {
	case errors.Is(err, entity.ErrStageSkipped):
		return stageOutcome{status: entity.StageSkipped, message: err.Error()}
	case err != nil:
		return stageOutcome{status: entity.StageFailed, message: err.Error(), err: err}
	case outcome == cache.Hit:
		return stageOutcome{status: entity.StageCacheHit, message: entry.Message, output: entry.Output}
	default:
		return stageOutcome{status: entity.StageSuccess, message: entry.Message, output: entry.Output}
	}
}

// finishLocked marks the job terminal and notifies subscribers. r.mu must be held.
func (rn *Runner) finishLocked(r *run, state entity.JobState, jobErr error, finalLine string) {
	now := rn.now()
	r.job.State = state
	r.job.FinishedAt = &now
	r.job.UpdatedAt = now
	if jobErr != nil {
		msg := jobErr.Error()
		r.job.Error = &msg
	}
	r.job.RecomputeProgress()
	rn.logf(r, "%s", finalLine)
	rn.publish(r)

	// subscribers exit on their own after the terminal event
	r.subs = make(map[int]*subscriber)
}

func (rn *Runner) afterFinish(snapshot *entity.Job) {
	rn.save(snapshot)
	rn.retain(snapshot.ID)
}

// retain records a finished job and evicts the oldest beyond the retention bound.
func (rn *Runner) retain(id uuid.UUID) {
	if rn.retention <= 0 {
		return
	}
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.finished = append(rn.finished, id)
	for len(rn.finished) > rn.retention {
		delete(rn.runs, rn.finished[0])
		rn.finished = rn.finished[1:]
	}
}

func (rn *Runner) save(job *entity.Job) {
	if rn.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	attempts := rn.saveAttempts
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error { return rn.history.Save(ctx, job) },
		retry.Attempts(attempts),
		retry.Delay(rn.saveDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.WithError(err).WithField("job_id", job.ID.String()).Error("save job history")
	}
}

// logf appends a log line. r.mu must be held.
func (rn *Runner) logf(r *run, format string, args ...any) {
	r.job.AppendLog(rn.now(), fmt.Sprintf(format, args...))
}

// event builds an event without log lines. r.mu must be held.
func (rn *Runner) event(r *run) Event {
	return eventOf(r.job)
}

// publish sends the current snapshot and unpublished log lines to every subscriber. r.mu must be held.
func (rn *Runner) publish(r *run) {
	ev := rn.event(r)
	if r.published < len(r.job.Logs) {
		ev.NewLogs = append([]entity.LogLine(nil), r.job.Logs[r.published:]...)
		r.published = len(r.job.Logs)
	}
	for _, s := range r.subs {
		s.push(ev)
	}
}
