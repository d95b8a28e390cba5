package jobs

import (
	"errors"
	"sync"
	"time"

	"github.com/kehao95/relay/internal/shell"
)

// fakeProc is a Process whose lifetime the test controls.
type fakeProc struct {
	mu        sync.Mutex
	exited    bool
	status    shell.ExitStatus
	callbacks []func(shell.ExitStatus)
	output    string
	killErr   error
	kills     int
}

func (p *fakeProc) Pid() int { return 4242 }

func (p *fakeProc) OnExit(fn func(shell.ExitStatus)) {
	p.mu.Lock()
	if !p.exited {
		p.callbacks = append(p.callbacks, fn)
		p.mu.Unlock()
		return
	}
	st := p.status
	p.mu.Unlock()
	fn(st)
}

func (p *fakeProc) Kill(time.Duration) error {
	p.mu.Lock()
	p.kills++
	err := p.killErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.exit(143)
	return nil
}

func (p *fakeProc) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

func (p *fakeProc) ExitStatus() (shell.ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.exited
}

func (p *fakeProc) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output
}

func (p *fakeProc) write(s string) {
	p.mu.Lock()
	p.output += s
	p.mu.Unlock()
}

// exit marks the process exited and fires the callbacks.
func (p *fakeProc) exit(code int) {
	cbs := p.exitSilently(code)
	for _, fn := range cbs {
		fn(shell.ExitStatus{Code: code})
	}
}

// exitSilently marks the process exited without firing callbacks,
// returning them to the caller.
func (p *fakeProc) exitSilently(code int) []func(shell.ExitStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return nil
	}
	p.exited = true
	p.status = shell.ExitStatus{Code: code}
	cbs := p.callbacks
	p.callbacks = nil
	return cbs
}

func (p *fakeProc) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// fakeSpawner hands out fakeProcs and counts spawns.
type fakeSpawner struct {
	mu     sync.Mutex
	spawns int
	procs  []*fakeProc
	err    error
	// prepare, if set, runs on each new process before it is returned.
	prepare func(*fakeProc)
	// gate, if set, blocks Spawn until it is closed.
	gate chan struct{}
}

func (s *fakeSpawner) Spawn(command string, elevated bool) (Process, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawns++
	if s.err != nil {
		return nil, s.err
	}
	p := &fakeProc{}
	if s.prepare != nil {
		s.prepare(p)
	}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns
}

func (s *fakeSpawner) last() *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

var errNoBinary = errors.New("exec: \"nope\": executable file not found in $PATH")
