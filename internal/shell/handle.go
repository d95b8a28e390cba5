package shell

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ErrKillTimeout is returned by Kill when the process tree is still alive
// after SIGKILL and the grace window.
var ErrKillTimeout = errors.New("process did not exit after kill")

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code     int   // Exit code; 128+signal when killed by a signal, -1 if unknown
	Signaled bool  // Terminated by a signal
	Err      error // Wait error that is not a plain non-zero exit
}

// Handle tracks one spawned process tree.
type Handle struct {
	pid  int
	tail *Tail
	done chan struct{}

	mu        sync.Mutex
	exited    bool
	status    ExitStatus
	callbacks []func(ExitStatus)
}

func newHandle(pid int, tail *Tail) *Handle {
	return &Handle{
		pid:  pid,
		tail: tail,
		done: make(chan struct{}),
	}
}

// Pid returns the process id, which is also the process group id.
func (h *Handle) Pid() int { return h.pid }

// Output returns the current output tail.
func (h *Handle) Output() string { return h.tail.String() }

// Done is closed once the shell has exited, the rest of its process group
// has been killed and its output is drained.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsAlive reports whether the process is still running. It never blocks.
func (h *Handle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitStatus returns the exit status and true once the process has exited.
func (h *Handle) ExitStatus() (ExitStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.exited
}

// OnExit registers fn to be called exactly once with the exit status. If
// the process has already exited, fn runs immediately on the caller's
// goroutine.
func (h *Handle) OnExit(fn func(ExitStatus)) {
	h.mu.Lock()
	if !h.exited {
		h.callbacks = append(h.callbacks, fn)
		h.mu.Unlock()
		return
	}
	st := h.status
	h.mu.Unlock()
	fn(st)
}

// Kill terminates the process group: SIGTERM first, SIGKILL if it is
// still alive after grace. Returns ErrKillTimeout when the group survives
// SIGKILL for another grace window.
func (h *Handle) Kill(grace time.Duration) error {
	if !h.IsAlive() {
		return nil
	}
	h.signal(syscall.SIGTERM)
	if h.waitFor(grace) {
		return nil
	}
	h.signal(syscall.SIGKILL)
	if h.waitFor(grace) {
		return nil
	}
	return ErrKillTimeout
}

func (h *Handle) signal(sig syscall.Signal) {
	// Negative pid targets the process group; ESRCH means already gone.
	_ = syscall.Kill(-h.pid, sig)
}

func (h *Handle) waitFor(d time.Duration) bool {
	if d <= 0 {
		return !h.IsAlive()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.done:
		return true
	case <-t.C:
		return false
	}
}

// wait reaps the shell, kills whatever it left running in its group,
// drains the output and then fires the exit callbacks.
func (h *Handle) wait(cmd *exec.Cmd, out *os.File, copied <-chan struct{}, drain time.Duration) {
	err := cmd.Wait()
	st := exitStatusFrom(err)

	// The job ends with its shell; nothing it started in the group survives.
	h.signal(syscall.SIGKILL)

	t := time.NewTimer(drain)
	select {
	case <-copied:
	case <-t.C:
		// A descendant that left the group still holds the pipe.
	}
	t.Stop()
	out.Close()
	<-copied

	h.mu.Lock()
	h.exited = true
	h.status = st
	cbs := h.callbacks
	h.callbacks = nil
	h.mu.Unlock()

	close(h.done)
	for _, fn := range cbs {
		fn(st)
	}
}

func exitStatusFrom(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return ExitStatus{Code: 128 + int(ws.Signal()), Signaled: true}
		}
		return ExitStatus{Code: exitErr.ExitCode()}
	}
	return ExitStatus{Code: -1, Err: err}
}
