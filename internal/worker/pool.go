package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"meeting-pipeline/internal/service"
)

// JobProcessor runs one claimed job to completion.
type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}

type Pool struct {
	queue      service.Queue
	processor  JobProcessor
	workers    int
	claimDelay time.Duration
}

type PoolOption func(*Pool)

// WithClaimDelay sets how long one claim blocks before the loop checks ctx again.
func WithClaimDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.claimDelay = d }
}

func NewPool(queue service.Queue, processor JobProcessor, workers int, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = 4
	}
	p := &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run claims job ids and hands them to the workers until ctx ends. It returns
// after every worker has finished its current job.
func (p *Pool) Run(ctx context.Context) {
	log.WithField("workers", p.workers).Info("worker pool started")

	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger := log.WithField("worker", n)
			for jobID := range jobCh {
				if err := p.processor.Process(ctx, jobID); err != nil {
					logger.WithError(err).WithField("job_id", jobID).Warn("process job")
				}

				// the job is terminal (or unknown here) either way; a crash
				// before this point leaves the id for the reaper
				if ackErr := p.queue.Ack(context.WithoutCancel(ctx), jobID); ackErr != nil {
					logger.WithError(ackErr).WithField("job_id", jobID).Error("ack job")
				}
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		log.Info("worker pool stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if !errors.Is(err, service.ErrQueueEmpty) && ctx.Err() == nil {
				log.WithError(err).Warn("claim job")
				// keep a broken connection from spinning
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}
		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			return
		}
	}
}

// Reap requeues ids left in processing by crashed workers every interval
// until ctx ends.
func Reap(ctx context.Context, queue service.Queue, interval time.Duration, maxPerLane int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := queue.RequeueStale(ctx, maxPerLane)
			if err != nil {
				log.WithError(err).Warn("requeue stale jobs")
				continue
			}
			if n > 0 {
				log.WithField("count", n).Info("requeued jobs from processing")
			}
		}
	}
}

// RemoteSettler is implemented by service.JobService.
type RemoteSettler interface {
	SettleRemote(ctx context.Context) (int, error)
}

// Settle brings local copies of jobs submitted here up to date with the
// instances that ran them, every interval until ctx ends.
func Settle(ctx context.Context, s RemoteSettler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SettleRemote(ctx)
			if err != nil {
				log.WithError(err).Warn("settle remote jobs")
				continue
			}
			if n > 0 {
				log.WithField("count", n).Info("settled jobs finished elsewhere")
			}
		}
	}
}
