package pipeline

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"meeting-pipeline/internal/entity"
)

// Event is one observation of a job: a stage snapshot, overall progress and
// the log lines appended since the listener's previous event.
type Event struct {
	JobID    uuid.UUID        `json:"job_id"`
	State    entity.JobState  `json:"state"`
	Stages   []entity.Stage   `json:"stages"`
	Progress float64          `json:"progress"`
	NewLogs  []entity.LogLine `json:"new_logs,omitempty"`
	Error    *string          `json:"error,omitempty"`
	Terminal bool             `json:"terminal"`

	// Remote marks the stored final state of a job another instance ran.
	Remote bool `json:"remote,omitempty"`
}

func eventOf(job *entity.Job) Event {
	var errMsg *string
	if job.Error != nil {
		msg := *job.Error
		errMsg = &msg
	}
	return Event{
		JobID:    job.ID,
		State:    job.State,
		Stages:   job.CloneStages(),
		Progress: job.Progress,
		Error:    errMsg,
		Terminal: job.State.IsTerminal(),
	}
}

// SnapshotEvent describes job as one event carrying all of its log lines.
func SnapshotEvent(job *entity.Job) Event {
	ev := eventOf(job)
	ev.NewLogs = append([]entity.LogLine(nil), job.Logs...)
	return ev
}

type Listener interface {
	OnEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(ev Event) { f(ev) }

// subscriber delivers events to one listener on its own goroutine.
// The mailbox holds a single pending event: a newer event replaces an
// undelivered one but keeps its log lines, so a slow listener skips
// snapshots, never log lines, and always gets the terminal event.
type subscriber struct {
	listener Listener
	jobID    uuid.UUID

	mu      sync.Mutex
	pending *Event

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSubscriber(jobID uuid.UUID, l Listener) *subscriber {
	s := &subscriber{
		listener: l,
		jobID:    jobID,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

// push never blocks.
func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if s.pending != nil && len(s.pending.NewLogs) > 0 {
		logs := make([]entity.LogLine, 0, len(s.pending.NewLogs)+len(ev.NewLogs))
		logs = append(logs, s.pending.NewLogs...)
		ev.NewLogs = append(logs, ev.NewLogs...)
	}
	s.pending = &ev
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *subscriber) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		ev := s.pending
		s.pending = nil
		s.mu.Unlock()
		if ev == nil {
			continue
		}

		select {
		case <-s.stop:
			return
		default:
		}

		s.deliver(*ev)
		if ev.Terminal {
			return
		}
	}
}

func (s *subscriber) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("job_id", s.jobID.String()).Errorf("listener panic: %v", r)
		}
	}()
	s.listener.OnEvent(ev)
}
