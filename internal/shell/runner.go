// Package shell starts host shell commands as tracked process trees.
package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kehao95/relay/internal/config"
)

// ErrNoSandbox is returned when a sandboxed spawn is requested but no
// sandbox wrapper is configured.
var ErrNoSandbox = errors.New("no sandbox wrapper configured")

// DefaultDrainDelay is how long output is still read after the shell exits
// and its process group has been killed.
const DefaultDrainDelay = 200 * time.Millisecond

// secretEnv lists environment prefixes that must never reach a job.
var secretEnv = []string{
	"RELAY_AGENT_TOKEN=",
}

// Runner spawns shell commands. Each command runs in its own process
// group so that Kill reaches every descendant.
type Runner struct {
	Shell     string
	Dir       string
	Env       []string // Full environment for jobs
	Sandbox   []string // argv prefix for non-elevated commands
	TailBytes int
	// DrainDelay bounds how long output is read after the shell exits, for
	// descendants that left the process group but still hold the pipe.
	// Zero means DefaultDrainDelay.
	DrainDelay time.Duration

	logger *zap.Logger
}

// NewRunner creates a Runner from config. The job environment is the
// process environment with secrets removed and RELAY_JOB=1 overlaid.
func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Shell:     cfg.Shell,
		Dir:       cfg.Workspace,
		Env:       MergeEnv(filterEnv(os.Environ(), secretEnv), []string{"RELAY_JOB=1"}),
		Sandbox:   cfg.Sandbox,
		TailBytes: cfg.OutputTail,
		logger:    logger,
	}
}

// MergeEnv takes a base environment and overlays overrides. Keys from
// overrides take precedence; the order of first appearance is kept.
func MergeEnv(base []string, overrides []string) []string {
	env := make(map[string]string, len(base)+len(overrides))
	order := make([]string, 0, len(base)+len(overrides))

	for _, list := range [][]string{base, overrides} {
		for _, entry := range list {
			key, _, _ := strings.Cut(entry, "=")
			if _, exists := env[key]; !exists {
				order = append(order, key)
			}
			env[key] = entry
		}
	}

	result := make([]string, 0, len(order))
	for _, key := range order {
		result = append(result, env[key])
	}
	return result
}

func filterEnv(env []string, prefixes []string) []string {
	out := make([]string, 0, len(env))
next:
	for _, entry := range env {
		for _, p := range prefixes {
			if strings.HasPrefix(entry, p) {
				continue next
			}
		}
		out = append(out, entry)
	}
	return out
}

// argv builds the command line for a job. Elevated jobs run the shell
// directly on the host; everything else goes through the sandbox wrapper.
func (r *Runner) argv(command string, elevated bool) ([]string, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	base := []string{shell, "-c", command}
	if elevated {
		return base, nil
	}
	if len(r.Sandbox) == 0 {
		return nil, ErrNoSandbox
	}
	bin, err := exec.LookPath(r.Sandbox[0])
	if err != nil {
		return nil, fmt.Errorf("sandbox binary %s: %w", r.Sandbox[0], err)
	}
	args := append([]string{bin}, r.Sandbox[1:]...)
	return append(args, base...), nil
}

// Spawn starts command and returns a Handle tracking it. The process is
// not bound to any caller context: it lives until it exits or is killed.
func (r *Runner) Spawn(command string, elevated bool) (*Handle, error) {
	argv, err := r.argv(command, elevated)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = r.Env
	}
	// Own process group so the whole tree can be signalled.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// An *os.File as stdout keeps exec from waiting on the pipe, so Wait
	// returns when the shell exits even if a background child holds it.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting shell: %w", err)
	}
	pw.Close()

	tail := NewTail(r.TailBytes)
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, _ = io.Copy(tail, pr)
	}()

	h := newHandle(cmd.Process.Pid, tail)
	r.log().Debug("process started",
		zap.Int("pid", h.Pid()),
		zap.Bool("elevated", elevated))
	go h.wait(cmd, pr, copied, r.drainDelay())
	return h, nil
}

func (r *Runner) drainDelay() time.Duration {
	if r.DrainDelay > 0 {
		return r.DrainDelay
	}
	return DefaultDrainDelay
}

func (r *Runner) log() *zap.Logger {
	if r.logger == nil {
		return zap.NewNop()
	}
	return r.logger
}
