// Package gateway routes chat messages to slash commands or the agent.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kehao95/relay/internal/agent"
	"github.com/kehao95/relay/internal/jobs"
	"github.com/kehao95/relay/internal/policy"
)

// ShellHandler handles the text after the shell trigger.
type ShellHandler interface {
	Handle(ctx context.Context, sender policy.Sender, text string) (string, bool)
}

// JobState reports the running shell job, if any.
type JobState interface {
	Current() *jobs.Record
}

// Options configure a Gateway.
type Options struct {
	Trigger string
	Shell   ShellHandler
	Jobs    JobState // optional, used by /status
	Agent   agent.Agent
	Logger  *zap.Logger
}

// Gateway is the per-message entry point for every chat surface.
type Gateway struct {
	trigger string
	shell   ShellHandler
	jobs    JobState
	agent   agent.Agent
	logger  *zap.Logger

	mu   sync.Mutex
	runs map[string]context.CancelFunc // chat id -> agent run cancel
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	g := &Gateway{
		trigger: opts.Trigger,
		shell:   opts.Shell,
		jobs:    opts.Jobs,
		agent:   opts.Agent,
		logger:  opts.Logger,
		runs:    make(map[string]context.CancelFunc),
	}
	if g.trigger == "" {
		g.trigger = "/bash"
	}
	if g.agent == nil {
		g.agent = agent.Unavailable{}
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// Handle routes one message and returns the reply. handled is true when a
// slash command answered the message without involving the agent.
func (g *Gateway) Handle(ctx context.Context, sender policy.Sender, text string) (reply string, handled bool) {
	if rest, ok := g.afterTrigger(text); ok {
		return g.shell.Handle(ctx, sender, rest)
	}

	switch strings.TrimSpace(text) {
	case "/stop":
		return g.stopAgent(sender.Chat), true
	case "/status":
		return g.status(sender.Chat), true
	}
	return g.runAgent(ctx, sender, text), false
}

// afterTrigger reports whether text starts with the trigger token and
// returns everything after it untouched.
func (g *Gateway) afterTrigger(text string) (string, bool) {
	trimmed := strings.TrimLeft(text, " \t")
	if !strings.HasPrefix(trimmed, g.trigger) {
		return "", false
	}
	rest := trimmed[len(g.trigger):]
	if rest != "" && !strings.ContainsAny(rest[:1], " \t\n") {
		// "/bashful" is not the trigger.
		return "", false
	}
	return rest, true
}

// AgentRunning reports whether an agent run is in flight for chat.
func (g *Gateway) AgentRunning(chat string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.runs[chat]
	return ok
}

func (g *Gateway) runAgent(ctx context.Context, sender policy.Sender, text string) string {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	if _, busy := g.runs[sender.Chat]; busy {
		g.mu.Unlock()
		return "Still working on your previous message. Send /stop to cancel it."
	}
	g.runs[sender.Chat] = cancel
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.runs, sender.Chat)
		g.mu.Unlock()
	}()

	reply, err := g.agent.Reply(runCtx, agent.Message{
		ChatID: sender.Chat,
		Sender: sender.Key(),
		Text:   text,
	})
	switch {
	case err == nil:
		return reply
	case errors.Is(err, agent.ErrUnavailable):
		return "No agent is configured. Shell commands still work: " + g.trigger + " <command>"
	case runCtx.Err() != nil:
		return "Agent run cancelled."
	default:
		g.logger.Warn("agent failed", zap.String("chat", sender.Chat), zap.Error(err))
		return fmt.Sprintf("Agent error: %v", err)
	}
}

// stopAgent cancels the chat's agent run. Shell jobs are not affected.
func (g *Gateway) stopAgent(chat string) string {
	g.mu.Lock()
	cancel, ok := g.runs[chat]
	g.mu.Unlock()
	if !ok {
		return "No agent run to stop."
	}
	cancel()
	g.logger.Info("agent run cancelled", zap.String("chat", chat))
	return "Stopping the agent run."
}

func (g *Gateway) status(chat string) string {
	var b strings.Builder
	if g.AgentRunning(chat) {
		b.WriteString("Agent: running")
	} else {
		b.WriteString("Agent: idle")
	}
	b.WriteString("\nShell job: ")
	var cur *jobs.Record
	if g.jobs != nil {
		cur = g.jobs.Current()
	}
	if cur == nil {
		b.WriteString("none")
	} else {
		fmt.Fprintf(&b, "%s running `%s`", cur.ID(), cur.Command())
	}
	return b.String()
}
