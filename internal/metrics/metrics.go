// Package metrics exports pipeline progress to Prometheus by observing jobs.
package metrics

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/pipeline"
)

const namespace = "meeting_pipeline"

// Listener counts stage outcomes and finished jobs. One Listener may observe
// any number of jobs.
type Listener struct {
	stageOutcomes *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	jobsFinished  *prometheus.CounterVec
	jobsActive    prometheus.Gauge

	mu   sync.Mutex
	seen map[uuid.UUID]map[string]bool
}

// NewListener registers the collectors with reg.
func NewListener(reg prometheus.Registerer) *Listener {
	f := promauto.With(reg)
	l := &Listener{
		stageOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_outcomes_total",
				Help:      "Number of stages that reached a terminal status",
			},
			[]string{"stage", "status"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time from stage start to its terminal status",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage", "status"},
		),
		jobsFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Number of jobs that reached a terminal state",
			},
			[]string{"state"},
		),
		jobsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_active",
				Help:      "Jobs observed but not yet terminal",
			},
		),
		seen: make(map[uuid.UUID]map[string]bool),
	}
	// export zeroes for every terminal state from the start
	for _, st := range []entity.JobState{entity.JobCompleted, entity.JobFailed, entity.JobCancelled} {
		l.jobsFinished.WithLabelValues(string(st))
	}
	return l
}

func (l *Listener) OnEvent(ev pipeline.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counted, ok := l.seen[ev.JobID]
	if ev.Remote {
		// another instance ran and counted it
		if ok {
			l.jobsActive.Dec()
			delete(l.seen, ev.JobID)
		}
		return
	}
	if !ok {
		if ev.Terminal {
			// subscribed after the fact; nothing of it ran while observed
			return
		}
		counted = make(map[string]bool)
		l.seen[ev.JobID] = counted
		l.jobsActive.Inc()
	}

	// events may be coalesced, so every terminal stage not yet counted is
	for _, s := range ev.Stages {
		if !s.Status.IsTerminal() || counted[s.ID] {
			continue
		}
		counted[s.ID] = true
		status := string(s.Status)
		l.stageOutcomes.WithLabelValues(s.ID, status).Inc()
		l.stageDuration.WithLabelValues(s.ID, status).Observe(float64(s.DurationMs) / 1000)
	}

	if ev.Terminal {
		l.jobsFinished.WithLabelValues(string(ev.State)).Inc()
		l.jobsActive.Dec()
		delete(l.seen, ev.JobID)
	}
}

var _ pipeline.Listener = (*Listener)(nil)
