package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/kehao95/relay/internal/jobs"
)

// renderSnapshot formats a job state with its output tail.
func renderSnapshot(s jobs.Snapshot) string {
	var b strings.Builder
	switch s.Status {
	case jobs.StatusRunning:
		fmt.Fprintf(&b, "Job %s is running (%s).", s.ID, roundDuration(s.Duration()))
	case jobs.StatusCompleted:
		fmt.Fprintf(&b, "Job %s completed with exit code %d (%s).", s.ID, s.ExitCode, roundDuration(s.Duration()))
	case jobs.StatusFailed:
		fmt.Fprintf(&b, "Job %s failed with exit code %d.", s.ID, s.ExitCode)
	case jobs.StatusStopped:
		fmt.Fprintf(&b, "Job %s stopped after %s.", s.ID, roundDuration(s.Duration()))
	}
	if s.Warning != "" {
		fmt.Fprintf(&b, "\nWarning: %s", s.Warning)
	}
	b.WriteString("\n")
	b.WriteString(fence(s.Output))
	return b.String()
}

func fence(output string) string {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return "(no output)"
	}
	// Keep the output from closing the fence early.
	output = strings.ReplaceAll(output, "```", "`\u200b``")
	return "```\n" + output + "\n```"
}

func roundDuration(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(100 * time.Millisecond)
}
