package jobs

import (
	"sync"
	"time"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

// Record is one shell invocation. Identity fields are fixed at creation;
// the rest is changed only by the Controller.
type Record struct {
	id        string
	command   string
	startedAt time.Time
	elevated  bool

	mu            sync.Mutex
	status        Status
	exitCode      int
	hasExitCode   bool
	endedAt       time.Time
	output        string
	warning       string
	backgrounded  bool
	stopRequested bool
	proc          Process

	done chan struct{}
}

func newRecord(id, command string, elevated bool) *Record {
	return &Record{
		id:        id,
		command:   command,
		startedAt: time.Now(),
		elevated:  elevated,
		status:    StatusRunning,
		done:      make(chan struct{}),
	}
}

// ID returns the short job id shown to users.
func (r *Record) ID() string { return r.id }

// Command returns the command text exactly as received.
func (r *Record) Command() string { return r.command }

// StartedAt returns when the record was created.
func (r *Record) StartedAt() time.Time { return r.startedAt }

// Elevated reports whether the job runs on the host outside the sandbox.
func (r *Record) Elevated() bool { return r.elevated }

// Done is closed once the record reaches a terminal state and the lock
// has been released.
func (r *Record) Done() <-chan struct{} { return r.done }

// Status returns the current status.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// attach binds the spawned process. It returns false if the record went
// terminal before the process existed.
func (r *Record) attach(p Process) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return false
	}
	r.proc = p
	return true
}

func (r *Record) process() Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proc
}

// requestStop marks the record so that any later exit is recorded as
// stopped. It returns false if the record is already terminal.
func (r *Record) requestStop() (Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return nil, false
	}
	r.stopRequested = true
	return r.proc, true
}

func (r *Record) stopWasRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRequested
}

func (r *Record) markBackgrounded() {
	r.mu.Lock()
	r.backgrounded = true
	r.mu.Unlock()
}

// outcome is the terminal transition applied by settle.
type outcome struct {
	status      Status
	exitCode    int
	hasExitCode bool
	output      string
	warning     string
}

// settle applies o if the record is still running. Only the first caller
// wins; it must then call closeDone.
func (r *Record) settle(o outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return false
	}
	r.status = o.status
	r.exitCode = o.exitCode
	r.hasExitCode = o.hasExitCode
	r.output = o.output
	r.warning = o.warning
	r.endedAt = time.Now()
	return true
}

func (r *Record) closeDone() { close(r.done) }

// Snapshot is a copy of a record's observable state.
type Snapshot struct {
	ID           string
	Command      string
	StartedAt    time.Time
	EndedAt      time.Time // zero while running
	Elevated     bool
	Status       Status
	ExitCode     int
	HasExitCode  bool
	Output       string
	Warning      string
	Backgrounded bool
}

// Duration is the elapsed run time, up to now for running jobs.
func (s Snapshot) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Snapshot copies the record state. The output of a running job is read
// live from its process.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	s := Snapshot{
		ID:           r.id,
		Command:      r.command,
		StartedAt:    r.startedAt,
		EndedAt:      r.endedAt,
		Elevated:     r.elevated,
		Status:       r.status,
		ExitCode:     r.exitCode,
		HasExitCode:  r.hasExitCode,
		Output:       r.output,
		Warning:      r.warning,
		Backgrounded: r.backgrounded,
	}
	proc := r.proc
	r.mu.Unlock()

	if s.Status == StatusRunning && proc != nil {
		s.Output = proc.Output()
	}
	return s
}
