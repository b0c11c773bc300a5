package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-pipeline/internal/cache"
	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/executor"
	"meeting-pipeline/internal/pipeline"
	"meeting-pipeline/internal/service"
	"meeting-pipeline/internal/worker"
)

func newRunner(t *testing.T) *pipeline.Runner {
	t.Helper()
	store, err := cache.NewMemoryStore(64)
	require.NoError(t, err)
	return pipeline.NewRunner(executor.NewSimulatedRegistry(0), cache.New(store))
}

func submit(t *testing.T, rn *pipeline.Runner, size int64) uuid.UUID {
	t.Helper()
	cfg, err := entity.Config{}.Normalize()
	require.NoError(t, err)
	inputs := []entity.InputDescriptor{{Ref: "standup.mp3", Name: "standup.mp3", SizeBytes: size, Duration: time.Minute}}
	job := entity.NewJob(inputs, cfg, executor.MeetingStages(cfg), time.Now())
	require.NoError(t, rn.Submit(job))
	return job.ID
}

func TestProcessor_RunsJobToCompletion(t *testing.T) {
	rn := newRunner(t)
	id := submit(t, rn, 1024)

	require.NoError(t, worker.NewProcessor(rn).Process(context.Background(), id.String()))

	job, err := rn.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, job.State)
	assert.Equal(t, float64(100), job.Progress)
}

func TestProcessor_ReportsStageFailure(t *testing.T) {
	rn := newRunner(t)
	id := submit(t, rn, 0)

	err := worker.NewProcessor(rn).Process(context.Background(), id.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate")
}

func TestProcessor_DropsCancelledAndUnknownJobs(t *testing.T) {
	rn := newRunner(t)
	p := worker.NewProcessor(rn)
	ctx := context.Background()

	id := submit(t, rn, 1024)
	require.NoError(t, rn.CancelJob(id))
	assert.NoError(t, p.Process(ctx, id.String()))

	assert.NoError(t, p.Process(ctx, uuid.NewString()))
	assert.Error(t, p.Process(ctx, "not-a-uuid"))
}

type recordingProcessor struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (p *recordingProcessor) Process(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, jobID)
	return p.err
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func TestPool_ProcessesAndAcksEveryJob(t *testing.T) {
	q := service.NewMemoryQueue()
	proc := &recordingProcessor{err: errors.New("boom")}
	ctx, cancel := context.WithCancel(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, id, service.PriorityNormal))
	}

	done := make(chan struct{})
	go func() {
		worker.NewPool(q, proc, 2, worker.WithClaimDelay(10*time.Millisecond)).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return proc.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	// acked ids are not requeued
	n, err := q.RequeueStale(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, proc.seen)
}

func TestPool_EndToEndWithRunner(t *testing.T) {
	rn := newRunner(t)
	q := service.NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := []uuid.UUID{submit(t, rn, 1024), submit(t, rn, 2048)}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(ctx, id.String(), service.PriorityHigh))
	}

	go worker.NewPool(q, worker.NewProcessor(rn), 2, worker.WithClaimDelay(10*time.Millisecond)).Run(ctx)

	for _, id := range ids {
		id := id
		require.Eventually(t, func() bool {
			job, err := rn.Snapshot(id)
			return err == nil && job.State == entity.JobCompleted
		}, 5*time.Second, 5*time.Millisecond)
	}
}

func TestReap_RequeuesClaimedIDs(t *testing.T) {
	q := service.NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, "orphan", service.PriorityLow))
	_, err := q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)
	require.Zero(t, q.Len())

	go worker.Reap(ctx, q, 5*time.Millisecond, 10)

	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
}
