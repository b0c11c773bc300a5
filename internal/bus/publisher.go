// Package bus fans job events out over NATS.
package bus

import (
	log "github.com/sirupsen/logrus"

	"meeting-pipeline/internal/pipeline"
)

// JSONPublisher is implemented by Client.
type JSONPublisher interface {
	PublishJSON(subject string, v any) error
}

// Publisher is a pipeline.Listener that publishes every event of a job to
// "<prefix>.<job id>". Remote events are left to the instance that ran the job.
type Publisher struct {
	pub    JSONPublisher
	prefix string
}

func NewPublisher(pub JSONPublisher, prefix string) *Publisher {
	if prefix == "" {
		prefix = "pipeline.jobs"
	}
	return &Publisher{pub: pub, prefix: prefix}
}

func (p *Publisher) Subject(ev pipeline.Event) string {
	return p.prefix + "." + ev.JobID.String()
}

func (p *Publisher) OnEvent(ev pipeline.Event) {
	if ev.Remote {
		return
	}
	if err := p.pub.PublishJSON(p.Subject(ev), ev); err != nil {
		log.WithError(err).WithField("job_id", ev.JobID.String()).Warn("publish job event")
	}
}
