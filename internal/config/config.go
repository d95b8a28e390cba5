package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Elevation policy modes.
const (
	ElevationAllowlist = "allowlist"
	ElevationAll       = "all"
	ElevationNone      = "none"
)

// ErrUnknownFormat is returned for config files that are neither YAML nor TOML.
var ErrUnknownFormat = errors.New("unknown config file format")

// Config holds all runtime configuration for relay.
// Every field is populated by Load() from an optional file and then the
// environment; environment variables win.
type Config struct {
	DataDir          string   // RELAY_DATA_DIR (default ".relay/")
	Shell            string   // RELAY_SHELL (default "/bin/sh")
	Workspace        string   // RELAY_WORKSPACE (default current directory)
	Trigger          string   // RELAY_TRIGGER (default "/bash")
	ForegroundWaitMs int      // RELAY_FOREGROUND_WAIT_MS (default 2000, 0 = always background)
	OutputTail       int      // RELAY_OUTPUT_TAIL in bytes (default 4096)
	KillGraceMs      int      // RELAY_KILL_GRACE_MS (default 3000)
	Elevation        string   // RELAY_ELEVATION: "allowlist", "all" or "none"
	ElevatedSenders  []string // RELAY_ELEVATED_SENDERS, comma separated
	Sandbox          []string // RELAY_SANDBOX, space separated wrapper argv
	HostLock         bool     // RELAY_HOST_LOCK (default false)
	Listen           string   // RELAY_LISTEN (default "127.0.0.1:8787")
	MaxConns         int      // RELAY_MAX_CONNS (default 64)
	AgentURL         string   // RELAY_AGENT_URL
	AgentToken       string   // RELAY_AGENT_TOKEN
	LogLevel         string   // RELAY_LOG_LEVEL (default "info")

	// Path is the config file the values were read from, if any.
	Path string
}

// ForegroundWait returns the foreground wait window.
func (c *Config) ForegroundWait() time.Duration {
	return time.Duration(c.ForegroundWaitMs) * time.Millisecond
}

// KillGrace returns how long a stop waits for the process tree to exit
// after each signal.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.KillGraceMs) * time.Millisecond
}

// TapePath is the job journal location.
func (c *Config) TapePath() string {
	return filepath.Join(c.DataDir, "jobs.jsonl")
}

// LogPath is the operational log location.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "relay.log")
}

// HostLockPath is the flock file shared by relay processes on one host.
func (c *Config) HostLockPath() string {
	return filepath.Join(c.DataDir, "job.lock")
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &Config{
		DataDir:          ".relay/",
		Shell:            "/bin/sh",
		Workspace:        wd,
		Trigger:          "/bash",
		ForegroundWaitMs: 2000,
		OutputTail:       4096,
		KillGraceMs:      3000,
		Elevation:        ElevationAllowlist,
		Listen:           "127.0.0.1:8787",
		MaxConns:         64,
		LogLevel:         "info",
	}
}

// Load builds the configuration. If path is empty, RELAY_CONFIG is
// consulted. A config file is applied over the defaults, then the
// environment over that, and the result is validated.
func Load(path string) (*Config, error) {
	c := Defaults()

	if path == "" {
		path = os.Getenv("RELAY_CONFIG")
	}
	if path != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
		c.Path = path
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("RELAY_DATA_DIR must not be empty")
	}
	if c.Shell == "" {
		return fmt.Errorf("RELAY_SHELL must not be empty")
	}
	if strings.TrimSpace(c.Trigger) == "" || strings.ContainsAny(c.Trigger, " \t\n") {
		return fmt.Errorf("RELAY_TRIGGER=%q must be a single non-empty token", c.Trigger)
	}
	if c.ForegroundWaitMs < 0 {
		return fmt.Errorf("RELAY_FOREGROUND_WAIT_MS must be >= 0, got %d", c.ForegroundWaitMs)
	}
	if c.OutputTail <= 0 {
		return fmt.Errorf("RELAY_OUTPUT_TAIL must be > 0, got %d", c.OutputTail)
	}
	if c.KillGraceMs <= 0 {
		return fmt.Errorf("RELAY_KILL_GRACE_MS must be > 0, got %d", c.KillGraceMs)
	}
	switch c.Elevation {
	case ElevationAllowlist, ElevationAll, ElevationNone:
	default:
		return fmt.Errorf("unsupported RELAY_ELEVATION=%q: must be %q, %q or %q",
			c.Elevation, ElevationAllowlist, ElevationAll, ElevationNone)
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("RELAY_MAX_CONNS must be > 0, got %d", c.MaxConns)
	}
	return nil
}

func (c *Config) applyEnv() error {
	envString("RELAY_DATA_DIR", &c.DataDir)
	envString("RELAY_SHELL", &c.Shell)
	envString("RELAY_WORKSPACE", &c.Workspace)
	envString("RELAY_TRIGGER", &c.Trigger)
	envString("RELAY_ELEVATION", &c.Elevation)
	envString("RELAY_LISTEN", &c.Listen)
	envString("RELAY_AGENT_URL", &c.AgentURL)
	envString("RELAY_AGENT_TOKEN", &c.AgentToken)
	envString("RELAY_LOG_LEVEL", &c.LogLevel)

	if v, ok := os.LookupEnv("RELAY_ELEVATED_SENDERS"); ok {
		c.ElevatedSenders = splitList(v)
	}
	if v, ok := os.LookupEnv("RELAY_SANDBOX"); ok {
		c.Sandbox = strings.Fields(v)
	}

	var err error
	if c.ForegroundWaitMs, err = envInt("RELAY_FOREGROUND_WAIT_MS", c.ForegroundWaitMs); err != nil {
		return err
	}
	if c.OutputTail, err = envInt("RELAY_OUTPUT_TAIL", c.OutputTail); err != nil {
		return err
	}
	if c.KillGraceMs, err = envInt("RELAY_KILL_GRACE_MS", c.KillGraceMs); err != nil {
		return err
	}
	if c.MaxConns, err = envInt("RELAY_MAX_CONNS", c.MaxConns); err != nil {
		return err
	}
	if c.HostLock, err = envBool("RELAY_HOST_LOCK", c.HostLock); err != nil {
		return err
	}
	return nil
}

// envString overwrites *dst when key is set to a non-empty value.
func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt reads an environment variable as int, returning def if unset.
func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return n, nil
}

// envBool reads an environment variable as bool, returning def if unset.
func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return b, nil
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
