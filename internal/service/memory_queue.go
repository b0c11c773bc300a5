package service

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for running without Redis. It keeps
// the same lane order and processing bookkeeping as the Redis queue.
type MemoryQueue struct {
	mu         sync.Mutex
	lanes      [3][]string // indexed by priority
	processing map[string]int
	notify     chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		processing: make(map[string]int),
		notify:     make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobID string, priority int) error {
	q.mu.Lock()
	p := ClampPriority(priority)
	q.lanes[p] = append(q.lanes[p], jobID)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		if id, ok := q.pop(); ok {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", ErrQueueEmpty
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := PriorityHigh; p >= PriorityLow; p-- {
		if len(q.lanes[p]) == 0 {
			continue
		}
		id := q.lanes[p][0]
		q.lanes[p] = q.lanes[p][1:]
		q.processing[id] = p

		// another item may be waiting for a second claimer
		if q.pendingLocked() > 0 {
			select {
			case q.notify <- struct{}{}:
			default:
			}
		}
		return id, true
	}
	return "", false
}

func (q *MemoryQueue) pendingLocked() int {
	n := 0
	for _, l := range q.lanes {
		n += len(l)
	}
	return n
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	delete(q.processing, jobID)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) RequeueStale(ctx context.Context, maxPerLane int64) (int64, error) {
	q.mu.Lock()
	perLane := make(map[int]int64)
	var moved int64
	for id, p := range q.processing {
		if perLane[p] >= maxPerLane {
			continue
		}
		perLane[p]++
		delete(q.processing, id)
		q.lanes[p] = append(q.lanes[p], id)
		moved++
	}
	q.mu.Unlock()

	if moved > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return moved, nil
}

// Len reports queued (not claimed) ids.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}
