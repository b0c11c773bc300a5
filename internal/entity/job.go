package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// InputDescriptor is a resolved, readable input reference.
type InputDescriptor struct {
	Ref       string        `json:"ref"`
	Name      string        `json:"name"`
	SizeBytes int64         `json:"size_bytes"`
	Duration  time.Duration `json:"duration"`
	ModTime   time.Time     `json:"mod_time"`
}

type LogLine struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

func (l LogLine) String() string {
	return "[" + l.At.Local().Format("15:04:05") + "] " + l.Text
}

type Job struct {
	ID         uuid.UUID         `json:"id"`
	Inputs     []InputDescriptor `json:"inputs"`
	Config     Config            `json:"config"`
	Priority   int               `json:"priority"`
	Stages     []Stage           `json:"stages"`
	State      JobState          `json:"state"`
	Progress   float64           `json:"progress"`
	Logs       []LogLine         `json:"logs"`
	Error      *string           `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// NewJob creates a pending job with a fresh id and the stages of defs.
func NewJob(inputs []InputDescriptor, cfg Config, defs []StageDefinition, now time.Time) *Job {
	return &Job{
		ID:        uuid.New(),
		Inputs:    inputs,
		Config:    cfg,
		Priority:  1,
		Stages:    NewStages(defs),
		State:     JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (j *Job) AppendLog(at time.Time, text string) LogLine {
	line := LogLine{At: at, Text: text}
	j.Logs = append(j.Logs, line)
	j.UpdatedAt = at
	return line
}

// RecomputeProgress sets Progress to the share of terminal stages, in percent.
func (j *Job) RecomputeProgress() float64 {
	if len(j.Stages) == 0 {
		j.Progress = 0
		return 0
	}
	done := 0
	for _, s := range j.Stages {
		if s.Status.IsTerminal() {
			done++
		}
	}
	j.Progress = float64(done) / float64(len(j.Stages)) * 100
	return j.Progress
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Inputs = append([]InputDescriptor(nil), j.Inputs...)
	out.Logs = append([]LogLine(nil), j.Logs...)
	out.Config = j.Config.Clone()
	out.Stages = j.CloneStages()
	if j.Error != nil {
		msg := *j.Error
		out.Error = &msg
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

func (j *Job) CloneStages() []Stage {
	out := make([]Stage, len(j.Stages))
	for i, s := range j.Stages {
		out[i] = s.clone()
	}
	return out
}

func (s Stage) clone() Stage {
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}
	if s.Output != nil {
		s.Output = append([]byte(nil), s.Output...)
	}
	return s
}

// Statuses lists stage statuses in declared order.
func (j *Job) Statuses() []StageStatus {
	out := make([]StageStatus, len(j.Stages))
	for i, s := range j.Stages {
		out[i] = s.Status
	}
	return out
}
