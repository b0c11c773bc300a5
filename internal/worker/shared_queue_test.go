package worker_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-pipeline/internal/cache"
	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/executor"
	"meeting-pipeline/internal/pipeline"
	"meeting-pipeline/internal/repository/sqlite"
	"meeting-pipeline/internal/service"
	"meeting-pipeline/internal/worker"
)

type mp3Resolver struct{}

func (mp3Resolver) Resolve(_ context.Context, ref string) (entity.InputDescriptor, error) {
	return entity.InputDescriptor{Ref: ref, Name: ref, SizeBytes: 2048, Duration: time.Minute}, nil
}

// instance is one worker process: its own runner and service over the
// shared queue and history store.
type instance struct {
	runner    *pipeline.Runner
	svc       *service.JobService
	processor *worker.Processor
}

type cluster struct {
	queue   service.Queue
	history *sqlite.JobRepository
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	history, err := sqlite.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	low, normal, high := service.LanesFor("jobs:queue", "jobs:processing")
	return &cluster{
		queue:   service.NewRedisPriorityQueue(rdb, "jobs:processing:map", low, normal, high),
		history: history,
	}
}

func (c *cluster) start(t *testing.T, ls ...pipeline.Listener) *instance {
	t.Helper()
	store, err := cache.NewMemoryStore(64)
	require.NoError(t, err)
	rn := pipeline.NewRunner(executor.NewSimulatedRegistry(0), cache.New(store),
		pipeline.WithHistory(c.history), pipeline.WithSaveRetry(1, time.Millisecond))
	svc := service.NewJobService(rn, mp3Resolver{}, c.queue, c.history, service.WithListeners(ls...))
	return &instance{runner: rn, svc: svc, processor: worker.NewProcessor(rn, worker.WithLoader(svc))}
}

func (c *cluster) claimAndProcess(t *testing.T, in *instance) error {
	t.Helper()
	ctx := context.Background()
	id, err := c.queue.ClaimBlocking(ctx, 2*time.Second)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.queue.Ack(ctx, id)) }()
	return in.processor.Process(ctx, id)
}

type terminalSink struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (s *terminalSink) OnEvent(ev pipeline.Event) {
	if !ev.Terminal {
		return
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *terminalSink) last() (pipeline.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return pipeline.Event{}, false
	}
	return s.events[len(s.events)-1], true
}

func TestSharedQueue_JobSubmittedOnOneInstanceRunsOnAnother(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()
	a := c.start(t)
	b := c.start(t)

	id, err := a.svc.Submit(ctx, service.SubmitRequest{Inputs: []string{"standup.mp3"}})
	require.NoError(t, err)

	watcher := &terminalSink{}
	_, err = a.svc.Subscribe(ctx, id, watcher)
	require.NoError(t, err)

	require.NoError(t, c.claimAndProcess(t, b))

	ran, err := b.runner.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, ran.State)

	stored, err := c.history.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, stored.State)
	assert.NotEmpty(t, stored.Stages[8].Output)

	// the submitting instance catches up instead of staying pending
	n, err := a.svc.SettleRemote(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := a.svc.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, got.State)
	assert.Empty(t, a.runner.Pending())

	require.Eventually(t, func() bool {
		ev, ok := watcher.last()
		return ok && ev.Remote && ev.State == entity.JobCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestSharedQueue_GetJobSettlesWithoutSweep(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()
	a := c.start(t)
	b := c.start(t)

	id, err := a.svc.Submit(ctx, service.SubmitRequest{Inputs: []string{"standup.mp3"}})
	require.NoError(t, err)
	require.NoError(t, c.claimAndProcess(t, b))

	got, err := a.svc.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, got.State)

	local, err := a.runner.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, local.State)
}

func TestSharedQueue_RestartedInstanceRunsQueuedJob(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()

	gone := c.start(t)
	id, err := gone.svc.Submit(ctx, service.SubmitRequest{Inputs: []string{"standup.mp3"}})
	require.NoError(t, err)

	restarted := c.start(t)
	require.NoError(t, c.claimAndProcess(t, restarted))

	job, err := restarted.svc.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, job.State)
}

func TestSharedQueue_CancelledWhileQueuedIsDroppedElsewhere(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()
	a := c.start(t)
	b := c.start(t)

	id, err := a.svc.Submit(ctx, service.SubmitRequest{Inputs: []string{"standup.mp3"}})
	require.NoError(t, err)
	require.NoError(t, a.svc.Cancel(ctx, id))

	require.NoError(t, c.claimAndProcess(t, b))

	_, err = b.runner.Snapshot(id)
	assert.ErrorIs(t, err, entity.ErrNotFound)
	stored, err := c.history.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCancelled, stored.State)
}

func TestSharedQueue_RequeuedJobStartedElsewhereIsNotRunAgain(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()
	a := c.start(t)
	b := c.start(t)

	id, err := a.svc.Submit(ctx, service.SubmitRequest{Inputs: []string{"standup.mp3"}})
	require.NoError(t, err)
	require.NoError(t, c.claimAndProcess(t, a))

	// as the reaper would after a slow ack
	require.NoError(t, c.queue.Enqueue(ctx, id.String(), service.PriorityNormal))
	require.NoError(t, c.claimAndProcess(t, b))

	_, err = b.runner.Snapshot(id)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestSharedQueue_UnknownIDIsDropped(t *testing.T) {
	c := newCluster(t)
	b := c.start(t)

	require.NoError(t, c.queue.Enqueue(context.Background(), uuid.NewString(), service.PriorityNormal))
	assert.NoError(t, c.claimAndProcess(t, b))
}

type settlerFunc func(ctx context.Context) (int, error)

func (f settlerFunc) SettleRemote(ctx context.Context) (int, error) { return f(ctx) }

func TestSettle_SweepsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	go func() {
		worker.Settle(ctx, settlerFunc(func(context.Context) (int, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return 1, nil
		}), 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
