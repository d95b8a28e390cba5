package jobs

import (
	"time"

	"github.com/kehao95/relay/internal/shell"
)

// Process is a running shell job as seen by the controller.
type Process interface {
	Pid() int
	// OnExit registers a callback that fires exactly once, immediately if
	// the process has already exited.
	OnExit(func(shell.ExitStatus))
	Kill(grace time.Duration) error
	// IsAlive must not block.
	IsAlive() bool
	ExitStatus() (shell.ExitStatus, bool)
	Output() string
}

// Spawner starts processes.
type Spawner interface {
	Spawn(command string, elevated bool) (Process, error)
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(command string, elevated bool) (Process, error)

// Spawn calls f.
func (f SpawnFunc) Spawn(command string, elevated bool) (Process, error) {
	return f(command, elevated)
}

// ShellSpawner spawns through a shell.Runner.
func ShellSpawner(r *shell.Runner) Spawner {
	return SpawnFunc(func(command string, elevated bool) (Process, error) {
		h, err := r.Spawn(command, elevated)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}
