package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the sender may not run host commands.
	ErrPermissionDenied = errors.New("elevated execution not permitted")
	// ErrAlreadyRunning is matched by *AlreadyRunningError.
	ErrAlreadyRunning = errors.New("a job is already running")
	// ErrSpawnFailure wraps any error from starting the process.
	ErrSpawnFailure = errors.New("failed to start job")
	// ErrNotFound is returned when no record matches the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrKillTimeout is returned by Stop when the process tree could not be
	// confirmed dead. The record is stopped regardless.
	ErrKillTimeout = errors.New("kill not confirmed within grace window")
	// ErrNotRunning is returned by Stop for a record that already finished.
	ErrNotRunning = errors.New("job is not running")
)

// AlreadyRunningError names the job holding the lock. ID is empty when the
// holder is another relay process on the same host.
type AlreadyRunningError struct {
	ID string
}

func (e *AlreadyRunningError) Error() string {
	if e.ID == "" {
		return "a job is already running in another relay process"
	}
	return fmt.Sprintf("job %s is already running", e.ID)
}

// Is makes errors.Is(err, ErrAlreadyRunning) match.
func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}
