// Package dispatch handles the shell slash command: start, poll and stop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kehao95/relay/internal/jobs"
	"github.com/kehao95/relay/internal/policy"
)

// Options configure a Dispatcher.
type Options struct {
	Controller *jobs.Controller
	Authorizer policy.Authorizer
	// Trigger is shown in reply hints.
	Trigger string
	// MaxWait is the foreground window. Zero backgrounds every job.
	MaxWait time.Duration
	// Sandboxed runs senders refused elevation inside the sandbox wrapper
	// instead of refusing them.
	Sandboxed bool
	Logger    *zap.Logger
}

// Dispatcher turns shell command text into job operations and replies.
// It never touches agent runs.
type Dispatcher struct {
	ctl       *jobs.Controller
	auth      policy.Authorizer
	trigger   string
	maxWait   time.Duration
	sandboxed bool
	logger    *zap.Logger
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		ctl:       opts.Controller,
		auth:      opts.Authorizer,
		trigger:   opts.Trigger,
		maxWait:   opts.MaxWait,
		sandboxed: opts.Sandboxed,
		logger:    opts.Logger,
	}
	if d.trigger == "" {
		d.trigger = "/bash"
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Handle processes text, the message body after the trigger token. It
// returns the reply and whether the message is fully handled, which is
// always true: shell commands are never forwarded to the agent.
func (d *Dispatcher) Handle(ctx context.Context, sender policy.Sender, text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return d.usage(), true
	}

	switch fields[0] {
	case "poll":
		if len(fields) > 2 {
			return fmt.Sprintf("Usage: %s poll [id]", d.trigger), true
		}
		return d.poll(arg(fields)), true
	case "stop":
		if len(fields) > 2 {
			return fmt.Sprintf("Usage: %s stop [id]", d.trigger), true
		}
		return d.stop(sender, arg(fields)), true
	}
	// Only the separator after the trigger is removed; the command itself
	// is passed to the shell as written.
	return d.start(ctx, sender, strings.TrimLeft(text, " \t")), true
}

func arg(fields []string) string {
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func (d *Dispatcher) start(ctx context.Context, sender policy.Sender, command string) string {
	if cur := d.ctl.Current(); cur != nil {
		return d.alreadyRunning(&jobs.AlreadyRunningError{ID: cur.ID()})
	}

	elevated := d.auth != nil && d.auth.AuthorizeElevated(sender)
	if !elevated && !d.sandboxed {
		d.logger.Info("shell command refused",
			zap.String("sender", sender.Key()),
			zap.Error(jobs.ErrPermissionDenied))
		return "You are not allowed to run host commands."
	}

	rec, err := d.ctl.Begin(command, elevated)
	if err != nil {
		var are *jobs.AlreadyRunningError
		if errors.As(err, &are) {
			return d.alreadyRunning(are)
		}
		d.logger.Error("job lock failed", zap.Error(err))
		return fmt.Sprintf("Could not start the job: %v", err)
	}

	res, err := d.ctl.StartAndWaitForeground(ctx, rec, d.maxWait)
	if err != nil {
		d.logger.Warn("job spawn failed", zap.String("job_id", rec.ID()), zap.Error(err))
		return fmt.Sprintf("Job %s failed to start: %s", rec.ID(), res.Snapshot.Output)
	}
	if res.Backgrounded {
		return fmt.Sprintf("Job %s started in the background. Use `%s poll %s` to check on it or `%s stop %s` to stop it.",
			rec.ID(), d.trigger, rec.ID(), d.trigger, rec.ID())
	}
	return renderSnapshot(res.Snapshot)
}

func (d *Dispatcher) alreadyRunning(are *jobs.AlreadyRunningError) string {
	if are.ID == "" {
		return "Another relay process is running a job. Try again when it finishes."
	}
	return fmt.Sprintf("Job %s is already running. Use `%s poll %s` or `%s stop %s`.",
		are.ID, d.trigger, are.ID, d.trigger, are.ID)
}

func (d *Dispatcher) poll(id string) string {
	rec, err := d.ctl.Lookup(id)
	if err != nil {
		return notFound(id)
	}
	d.ctl.FinalizeIfStale(rec)
	return renderSnapshot(rec.Snapshot())
}

func (d *Dispatcher) stop(sender policy.Sender, id string) string {
	var rec *jobs.Record
	if id == "" {
		rec = d.ctl.Current()
		if rec == nil {
			return "Nothing to stop: no job is running."
		}
	} else {
		var err error
		if rec, err = d.ctl.Lookup(id); err != nil {
			return notFound(id)
		}
	}

	d.logger.Info("stop requested",
		zap.String("job_id", rec.ID()),
		zap.String("sender", sender.Key()))
	snap, err := d.ctl.Stop(rec)
	switch {
	case errors.Is(err, jobs.ErrNotRunning):
		return fmt.Sprintf("Nothing to stop: job %s already %s.", snap.ID, snap.Status)
	case errors.Is(err, jobs.ErrKillTimeout):
		return fmt.Sprintf("Stopped job %s.\nWarning: %s", snap.ID, snap.Warning)
	case err != nil:
		return fmt.Sprintf("Could not stop job %s: %v", rec.ID(), err)
	}
	return fmt.Sprintf("Stopped job %s.", snap.ID)
}

func notFound(id string) string {
	if id == "" {
		return "No job has run yet."
	}
	return fmt.Sprintf("No job with id %s.", id)
}

func (d *Dispatcher) usage() string {
	return fmt.Sprintf("Usage: %[1]s <command> | %[1]s poll [id] | %[1]s stop [id]", d.trigger)
}
