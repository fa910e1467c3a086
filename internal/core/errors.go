package core

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("job not found")
	ErrInvalidState   = errors.New("action not allowed in current job state")
	ErrPrinterBusy    = errors.New("printer is busy")
	ErrStore          = errors.New("job store failure")
	ErrStatusConflict = errors.New("job status changed concurrently")
	// ErrStandby is returned by actions on a replica that does not hold the
	// scheduling lease.
	ErrStandby = errors.New("scheduler is running on another replica")
)

type InvalidStateError struct {
	JobID  string
	Status JobStatus
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s job %s in status %s", e.Action, e.JobID, e.Status)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

func invalidState(job *Job, action string) error {
	return &InvalidStateError{JobID: job.ID, Status: job.Status, Action: action}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
