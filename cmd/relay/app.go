package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kehao95/relay/internal/agent"
	"github.com/kehao95/relay/internal/config"
	"github.com/kehao95/relay/internal/dispatch"
	"github.com/kehao95/relay/internal/gateway"
	"github.com/kehao95/relay/internal/jobs"
	"github.com/kehao95/relay/internal/policy"
	"github.com/kehao95/relay/internal/shell"
	"github.com/kehao95/relay/internal/tape"
)

// app is the wired object graph shared by serve and console.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	ctl       *jobs.Controller
	allowlist *policy.Allowlist
	gateway   *gateway.Gateway
	closeLog  func()
}

func newApp(cfg *config.Config) (*app, error) {
	logger, closeLog, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}

	allowlist, err := policy.NewAllowlist(cfg.Elevation, cfg.ElevatedSenders)
	if err != nil {
		closeLog()
		return nil, err
	}

	lock := jobs.NewLock()
	if cfg.HostLock {
		if lock, err = jobs.NewHostLock(cfg.HostLockPath()); err != nil {
			closeLog()
			return nil, err
		}
	}

	tw, err := tape.NewWriter(cfg.TapePath())
	if err != nil {
		closeLog()
		return nil, err
	}

	runner := shell.NewRunner(cfg, logger.Named("shell"))
	ctl := jobs.NewController(jobs.Options{
		Spawner:   jobs.ShellSpawner(runner),
		Lock:      lock,
		Tape:      tw,
		Logger:    logger.Named("jobs"),
		KillGrace: cfg.KillGrace(),
	})
	d := dispatch.New(dispatch.Options{
		Controller: ctl,
		Authorizer: allowlist,
		Trigger:    cfg.Trigger,
		MaxWait:    cfg.ForegroundWait(),
		Sandboxed:  len(cfg.Sandbox) > 0,
		Logger:     logger.Named("dispatch"),
	})
	gw := gateway.New(gateway.Options{
		Trigger: cfg.Trigger,
		Shell:   d,
		Jobs:    ctl,
		Agent:   agent.New(cfg, logger.Named("agent")),
		Logger:  logger.Named("gateway"),
	})

	logger.Info("relay started",
		zap.String("data_dir", cfg.DataDir),
		zap.String("workspace", cfg.Workspace),
		zap.String("trigger", cfg.Trigger),
		zap.String("elevation", cfg.Elevation),
		zap.Bool("host_lock", cfg.HostLock))

	return &app{
		cfg:       cfg,
		logger:    logger,
		ctl:       ctl,
		allowlist: allowlist,
		gateway:   gw,
		closeLog:  closeLog,
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// watchConfig applies elevation policy changes from the config file until
// ctx is done.
func (a *app) watchConfig(ctx context.Context) {
	if a.cfg.Path == "" {
		return
	}
	err := config.Watch(ctx, a.cfg.Path,
		func(c *config.Config) {
			if err := a.allowlist.Update(c.Elevation, c.ElevatedSenders); err != nil {
				a.logger.Warn("elevation policy not reloaded", zap.Error(err))
				return
			}
			a.logger.Info("elevation policy reloaded",
				zap.String("elevation", c.Elevation),
				zap.Int("senders", len(c.ElevatedSenders)))
		},
		func(err error) {
			a.logger.Warn("config reload failed", zap.Error(err))
		})
	if err != nil {
		a.logger.Warn("config watch stopped", zap.Error(err))
	}
}

// close stops the running job and flushes the log.
func (a *app) close() error {
	err := a.ctl.Shutdown()
	if err != nil {
		a.logger.Warn("job shutdown", zap.Error(err))
		err = fmt.Errorf("stopping job: %w", err)
	}
	a.logger.Info("relay stopped")
	a.closeLog()
	return err
}
