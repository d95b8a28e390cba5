package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kehao95/relay/internal/config"
	"github.com/kehao95/relay/internal/dispatch"
	"github.com/kehao95/relay/internal/gateway"
	"github.com/kehao95/relay/internal/jobs"
	"github.com/kehao95/relay/internal/policy"
	"github.com/kehao95/relay/internal/shell"
	"github.com/kehao95/relay/internal/tape"
)

func intPtr(n int) *int { return &n }

func TestPrintJobs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJobs(&buf, &tape.Summary{}))
	assert.Equal(t, "No jobs recorded.\n", buf.String())

	buf.Reset()
	s := &tape.Summary{Jobs: []tape.JobSummary{
		{ID: "aaaa1111", Command: "echo hi", StartedAt: 1, Outcome: &tape.Outcome{Status: "completed", ExitCode: intPtr(0), DurationMs: 12}},
		{ID: "bbbb2222", Command: "sleep\n60", StartedAt: 2, Backgrounded: true},
	}}
	require.NoError(t, printJobs(&buf, s))
	out := buf.String()
	for _, want := range []string{"ID", "aaaa1111", "completed", "12ms", "bbbb2222", "running (bg)", "sleep 60"} {
		assert.Contains(t, out, want)
	}
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n  b\tc", 60))
	assert.Equal(t, "xxxxxxx...", oneLine(strings.Repeat("x", 100), 10))
}

func TestRunConsole(t *testing.T) {
	r := &shell.Runner{Shell: "/bin/sh", Dir: t.TempDir(), TailBytes: 4096}
	ctl := jobs.NewController(jobs.Options{Spawner: jobs.ShellSpawner(r)})
	t.Cleanup(func() { _ = ctl.Shutdown() })
	auth, err := policy.NewAllowlist(config.ElevationAllowlist, []string{"console"})
	require.NoError(t, err)
	gw := gateway.New(gateway.Options{
		Shell: dispatch.New(dispatch.Options{Controller: ctl, Authorizer: auth, MaxWait: 2 * time.Second}),
		Jobs:  ctl,
	})

	var out bytes.Buffer
	in := strings.NewReader("/bash echo from-console\n\n")
	sender := policy.Sender{ID: "console", Chat: "console", Channel: "console"}
	runConsole(context.Background(), gw, sender, in, &out)

	assert.Contains(t, out.String(), "from-console")
	assert.Equal(t, 1, strings.Count(out.String(), "Job "), "blank lines should be skipped: %q", out.String())
}

func TestJobsCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("data_dir: "+dir+"\n"), 0o644))
	w, err := tape.NewWriter(filepath.Join(dir, "jobs.jsonl"))
	require.NoError(t, err)
	require.NoError(t, w.WriteEntry(tape.JobEntry(tape.JobStart{ID: "cafe0001", Command: "uptime", StartedAt: time.Now().UnixMilli()})))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "jobs", "--json"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"id": "cafe0001"`)
}

func TestBadConfigExitCode(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "relay.ini"), "jobs"})
	root.SetOut(&bytes.Buffer{})
	err := root.Execute()

	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 2, ee.code)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")

	var stderr bytes.Buffer
	logger, closeLog, err := newLogger(cfg, &stderr)
	require.NoError(t, err)
	logger.Info("to file only")
	logger.Warn("to both")
	closeLog()

	data, err := os.ReadFile(cfg.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file only"`)
	assert.Contains(t, string(data), `"msg":"to both"`)
	assert.NotContains(t, stderr.String(), "to file only")
	assert.Contains(t, stderr.String(), "to both")

	cfg.LogLevel = "loud"
	_, _, err = newLogger(cfg, &stderr)
	assert.Error(t, err, "bad log level")
}
