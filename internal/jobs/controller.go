// Package jobs runs at most one shell job at a time and decides whether
// its result is delivered inline or in the background.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kehao95/relay/internal/shell"
	"github.com/kehao95/relay/internal/tape"
)

// DefaultKillGrace is used when Options.KillGrace is zero.
const DefaultKillGrace = 3 * time.Second

// EntryWriter receives journal entries.
type EntryWriter interface {
	WriteEntry(tape.Entry) error
}

// Options configure a Controller.
type Options struct {
	Spawner   Spawner
	Lock      *Lock       // NewLock() if nil
	Tape      EntryWriter // optional
	Logger    *zap.Logger
	KillGrace time.Duration
}

// Controller owns job records and the lock. It retains only the most
// recent record.
type Controller struct {
	spawner   Spawner
	lock      *Lock
	tape      EntryWriter
	logger    *zap.Logger
	killGrace time.Duration

	// after creates the foreground window timer.
	after func(time.Duration) <-chan time.Time

	mu   sync.Mutex
	last *Record
}

// Result is the outcome of the foreground wait.
type Result struct {
	Snapshot     Snapshot
	Backgrounded bool
}

// NewController creates a Controller.
func NewController(opts Options) *Controller {
	c := &Controller{
		spawner:   opts.Spawner,
		lock:      opts.Lock,
		tape:      opts.Tape,
		logger:    opts.Logger,
		killGrace: opts.KillGrace,
		after:     time.After,
	}
	if c.lock == nil {
		c.lock = NewLock()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.killGrace <= 0 {
		c.killGrace = DefaultKillGrace
	}
	return c
}

// NewID returns a short random job id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Lock exposes the controller's lock.
func (c *Controller) Lock() *Lock { return c.lock }

// Begin claims the lock and creates a running record for command. It
// returns an *AlreadyRunningError when another job holds the lock.
func (c *Controller) Begin(command string, elevated bool) (*Record, error) {
	id := NewID()
	if err := c.lock.TryAcquire(id); err != nil {
		return nil, err
	}
	rec := newRecord(id, command, elevated)

	c.mu.Lock()
	c.last = rec
	c.mu.Unlock()

	c.journal(tape.JobEntry(tape.JobStart{
		ID:        id,
		Command:   command,
		Elevated:  elevated,
		StartedAt: rec.startedAt.UnixMilli(),
	}))
	c.logger.Info("job started",
		zap.String("job_id", id),
		zap.Bool("elevated", elevated))
	return rec, nil
}

// StartAndWaitForeground spawns rec's command and waits up to maxWait for
// it to finish. If it finishes in time the result is inline; otherwise
// the job keeps running and the result is backgrounded. maxWait <= 0
// backgrounds immediately. Cancelling ctx ends the wait early but never
// the job. A spawn failure finalizes rec as failed and returns an error
// wrapping ErrSpawnFailure.
func (c *Controller) StartAndWaitForeground(ctx context.Context, rec *Record, maxWait time.Duration) (Result, error) {
	proc, err := c.spawner.Spawn(rec.command, rec.elevated)
	if err != nil {
		c.finalize(rec, outcome{
			status:      StatusFailed,
			exitCode:    -1,
			hasExitCode: true,
			output:      err.Error(),
		})
		return Result{Snapshot: rec.Snapshot()}, fmt.Errorf("%w: %w", ErrSpawnFailure, err)
	}

	if !rec.attach(proc) {
		// Stopped while spawning.
		go func() {
			if err := proc.Kill(c.killGrace); err != nil {
				c.logger.Warn("kill of late process failed",
					zap.String("job_id", rec.id), zap.Error(err))
			}
		}()
		return Result{Snapshot: rec.Snapshot()}, nil
	}
	c.logger.Debug("job process attached",
		zap.String("job_id", rec.id),
		zap.Int("pid", proc.Pid()))

	// Registered before any waiting; fires immediately if already exited.
	proc.OnExit(func(st shell.ExitStatus) {
		c.complete(rec, proc, st)
	})

	if maxWait <= 0 {
		return c.background(rec), nil
	}

	select {
	case <-rec.done:
		return Result{Snapshot: rec.Snapshot()}, nil
	case <-c.after(maxWait):
	case <-ctx.Done():
	}
	// An exit in the same tick as the window expiry wins.
	select {
	case <-rec.done:
		return Result{Snapshot: rec.Snapshot()}, nil
	default:
	}
	return c.background(rec), nil
}

func (c *Controller) background(rec *Record) Result {
	rec.markBackgrounded()
	c.journal(tape.BackgroundedEntry(rec.id))
	c.logger.Info("job backgrounded", zap.String("job_id", rec.id))
	return Result{Snapshot: rec.Snapshot(), Backgrounded: true}
}

// complete is the exit handler. An exit after a stop request is recorded
// as stopped.
func (c *Controller) complete(rec *Record, proc Process, st shell.ExitStatus) bool {
	o := outcome{
		status:      StatusCompleted,
		exitCode:    st.Code,
		hasExitCode: true,
		output:      proc.Output(),
	}
	switch {
	case rec.stopWasRequested():
		o.status = StatusStopped
		o.hasExitCode = false
	case st.Err != nil:
		o.status = StatusFailed
		o.warning = st.Err.Error()
	}
	return c.finalize(rec, o)
}

// finalize applies the terminal transition once. The lock is released
// before Done is closed so that a foreground waiter observes an empty lock.
func (c *Controller) finalize(rec *Record, o outcome) bool {
	if !rec.settle(o) {
		return false
	}
	if _, err := c.lock.Release(rec.id); err != nil {
		c.logger.Error("host job lock not released",
			zap.String("job_id", rec.id), zap.Error(err))
	}

	snap := rec.Snapshot()
	out := tape.Outcome{
		ID:         rec.id,
		Status:     string(o.status),
		DurationMs: snap.Duration().Milliseconds(),
		Tail:       o.output,
		Warning:    o.warning,
	}
	if o.hasExitCode {
		code := o.exitCode
		out.ExitCode = &code
	}
	c.journal(tape.OutcomeEntry(out))

	fields := []zap.Field{
		zap.String("job_id", rec.id),
		zap.String("status", string(o.status)),
		zap.Duration("duration", snap.Duration()),
	}
	if o.hasExitCode {
		fields = append(fields, zap.Int("exit_code", o.exitCode))
	}
	if o.warning != "" {
		fields = append(fields, zap.String("warning", o.warning))
	}
	c.logger.Info("job finished", fields...)

	rec.closeDone()
	return true
}

// FinalizeIfStale completes rec if its process has exited but the record
// still says running. It never blocks and reports whether it finalized.
func (c *Controller) FinalizeIfStale(rec *Record) bool {
	if rec == nil || rec.Status().Terminal() {
		return false
	}
	proc := rec.process()
	if proc == nil || proc.IsAlive() {
		return false
	}
	st, ok := proc.ExitStatus()
	if !ok {
		st = shell.ExitStatus{Code: -1, Err: errors.New("exit status unavailable")}
	}
	if !c.complete(rec, proc, st) {
		return false
	}
	c.logger.Debug("stale job reconciled", zap.String("job_id", rec.id))
	return true
}

// Stop kills rec's process tree and finalizes it as stopped. When the kill
// is not confirmed within the grace window the record is still stopped and
// the lock released; the returned error wraps ErrKillTimeout. Stop returns
// ErrNotRunning for a record that already finished.
func (c *Controller) Stop(rec *Record) (Snapshot, error) {
	if rec == nil {
		return Snapshot{}, ErrNotFound
	}
	proc, ok := rec.requestStop()
	if !ok {
		return rec.Snapshot(), ErrNotRunning
	}

	var killErr error
	o := outcome{status: StatusStopped}
	if proc != nil {
		killErr = proc.Kill(c.killGrace)
		o.output = proc.Output()
	}
	if killErr != nil {
		o.warning = killErr.Error()
		c.logger.Warn("kill not confirmed",
			zap.String("job_id", rec.id), zap.Error(killErr))
	}
	c.finalize(rec, o)

	snap := rec.Snapshot()
	if killErr != nil {
		return snap, fmt.Errorf("%w: %w", ErrKillTimeout, killErr)
	}
	return snap, nil
}

// Lookup returns the record with id, or the most recent record when id is
// empty. Only the most recent record is retained.
func (c *Controller) Lookup(id string) (*Record, error) {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()

	if last == nil || (id != "" && last.id != id) {
		return nil, ErrNotFound
	}
	return last, nil
}

// Current returns the running record, or nil.
func (c *Controller) Current() *Record {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()

	if last == nil || last.Status().Terminal() {
		return nil
	}
	return last
}

// Shutdown stops the running job, if any.
func (c *Controller) Shutdown() error {
	rec := c.Current()
	if rec == nil {
		return nil
	}
	c.logger.Info("stopping job for shutdown", zap.String("job_id", rec.id))
	_, err := c.Stop(rec)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

func (c *Controller) journal(e tape.Entry) {
	if c.tape == nil {
		return
	}
	if err := c.tape.WriteEntry(e); err != nil {
		c.logger.Warn("tape write failed", zap.String("type", e.Type), zap.Error(err))
	}
}
