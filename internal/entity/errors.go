package entity

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyRunning    = errors.New("job already running")
	ErrNotRunning        = errors.New("job not running")
	ErrNotFound          = errors.New("not found")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrEmptyInputs       = errors.New("at least one input is required")

	// ErrStageSkipped is returned by an executor that decided the stage has nothing to do.
	ErrStageSkipped = errors.New("stage skipped")
)

// StageExecutionError wraps whatever a stage executor returned.
type StageExecutionError struct {
	StageID string
	Err     error
}

func (e *StageExecutionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("stage %s: %v", e.StageID, e.Err)
}

func (e *StageExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
