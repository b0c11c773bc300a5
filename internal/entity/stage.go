package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

type StageStatus string

const (
	StagePending  StageStatus = "pending"
	StageRunning  StageStatus = "running"
	StageSuccess  StageStatus = "success"
	StageCacheHit StageStatus = "cache-hit"
	StageFailed   StageStatus = "failed"
	StageSkipped  StageStatus = "skipped"
)

// IsTerminal reports whether no further transition is possible from s.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageSuccess, StageCacheHit, StageFailed, StageSkipped:
		return true
	default:
		return false
	}
}

// StageDefinition declares one stage of a pipeline before any run exists.
type StageDefinition struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	Kind          string `json:"kind"`
	CacheEligible bool   `json:"cache_eligible"`
}

type Stage struct {
	ID            string      `json:"id"`
	Label         string      `json:"label"`
	Kind          string      `json:"kind"`
	CacheEligible bool        `json:"cache_eligible"`
	Status        StageStatus `json:"status"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	FinishedAt    *time.Time  `json:"finished_at,omitempty"`
	DurationMs    int64       `json:"duration_ms"`
	Message       string      `json:"message,omitempty"`
	Fingerprint   string      `json:"fingerprint,omitempty"`

	// Output is the executor's structured result, set on success and cache-hit.
	Output json.RawMessage `json:"output,omitempty"`
}

// NewStages builds the pending stage list for defs, preserving declared order.
func NewStages(defs []StageDefinition) []Stage {
	stages := make([]Stage, 0, len(defs))
	for _, d := range defs {
		stages = append(stages, Stage{
			ID:            d.ID,
			Label:         d.Label,
			Kind:          d.Kind,
			CacheEligible: d.CacheEligible,
			Status:        StagePending,
		})
	}
	return stages
}

// Transition moves the stage along pending -> running -> terminal.
// Anything else, including a transition to the current status, fails with ErrInvalidTransition.
func (s *Stage) Transition(to StageStatus, at time.Time) error {
	if !isValidStageTransition(s.Status, to) {
		return fmt.Errorf("%w: stage %s %s -> %s", ErrInvalidTransition, s.ID, s.Status, to)
	}

	s.Status = to
	if to == StageRunning {
		started := at
		s.StartedAt = &started
		return nil
	}

	finished := at
	s.FinishedAt = &finished
	if s.StartedAt != nil {
		s.DurationMs = finished.Sub(*s.StartedAt).Milliseconds()
	}
	return nil
}

func isValidStageTransition(from, to StageStatus) bool {
	switch from {
	case StagePending:
		return to == StageRunning
	case StageRunning:
		return to.IsTerminal()
	default:
		return false
	}
}
