package gateway

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kehao95/relay/internal/agent"
	"github.com/kehao95/relay/internal/dispatch"
	"github.com/kehao95/relay/internal/jobs"
	"github.com/kehao95/relay/internal/policy"
	"github.com/kehao95/relay/internal/shell"
)

var alice = policy.Sender{ID: "alice", Chat: "chat-1", Channel: "test"}

// blockingAgent holds each run until released or cancelled.
type blockingAgent struct {
	started chan agent.Message
	release chan struct{}
}

func newBlockingAgent() *blockingAgent {
	return &blockingAgent{started: make(chan agent.Message, 4), release: make(chan struct{})}
}

func (a *blockingAgent) Reply(ctx context.Context, msg agent.Message) (string, error) {
	a.started <- msg
	select {
	case <-a.release:
		return "agent says: " + msg.Text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type recordingShell struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingShell) Handle(_ context.Context, _ policy.Sender, text string) (string, bool) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return "shell: " + text, true
}

func startAgentRun(t *testing.T, g *Gateway, a *blockingAgent, text string) <-chan string {
	t.Helper()
	replies := make(chan string, 1)
	go func() {
		reply, handled := g.Handle(context.Background(), alice, text)
		assert.False(t, handled)
		replies <- reply
	}()
	select {
	case <-a.started:
	case <-time.After(5 * time.Second):
		t.Fatal("agent run did not start")
	}
	require.True(t, g.AgentRunning(alice.Chat))
	return replies
}

func TestTriggerRouting(t *testing.T) {
	sh := &recordingShell{}
	g := New(Options{Shell: sh})

	tests := []struct {
		text      string
		wantShell string
		routed    bool
	}{
		{"/bash ls -la", " ls -la", true},
		{"  /bash  echo  'a  b'", "  echo  'a  b'", true},
		{"/bash", "", true},
		{"/bashful day", "", false},
		{"please /bash ls", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			rest, ok := g.afterTrigger(tt.text)
			assert.Equal(t, tt.routed, ok)
			if ok {
				assert.Equal(t, tt.wantShell, rest)
			}
		})
	}

	reply, handled := g.Handle(context.Background(), alice, "/bash poll")
	assert.True(t, handled)
	assert.Equal(t, "shell:  poll", reply)
}

func TestCustomTrigger(t *testing.T) {
	sh := &recordingShell{}
	g := New(Options{Trigger: "!sh", Shell: sh})

	_, handled := g.Handle(context.Background(), alice, "!sh uptime")
	assert.True(t, handled)
	require.Len(t, sh.texts, 1)
	assert.Equal(t, " uptime", sh.texts[0])
}

func TestAgentReply(t *testing.T) {
	a := newBlockingAgent()
	g := New(Options{Shell: &recordingShell{}, Agent: a})

	replies := startAgentRun(t, g, a, "hello")
	close(a.release)
	assert.Equal(t, "agent says: hello", <-replies)
	assert.False(t, g.AgentRunning(alice.Chat))
}

func TestSecondMessageWhileBusy(t *testing.T) {
	a := newBlockingAgent()
	g := New(Options{Shell: &recordingShell{}, Agent: a})

	replies := startAgentRun(t, g, a, "first")
	reply, handled := g.Handle(context.Background(), alice, "second")
	assert.False(t, handled)
	assert.Contains(t, reply, "Still working")

	other := policy.Sender{ID: "bob", Chat: "chat-2"}
	go g.Handle(context.Background(), other, "parallel")
	select {
	case msg := <-a.started:
		assert.Equal(t, "chat-2", msg.ChatID, "other chats are not blocked")
	case <-time.After(5 * time.Second):
		t.Fatal("run for another chat did not start")
	}

	close(a.release)
	<-replies
}

func TestStopCancelsAgentRun(t *testing.T) {
	a := newBlockingAgent()
	g := New(Options{Shell: &recordingShell{}, Agent: a})

	replies := startAgentRun(t, g, a, "long task")
	reply, handled := g.Handle(context.Background(), alice, "/stop")
	assert.True(t, handled)
	assert.Equal(t, "Stopping the agent run.", reply)

	assert.Equal(t, "Agent run cancelled.", <-replies)
	assert.False(t, g.AgentRunning(alice.Chat))

	reply, _ = g.Handle(context.Background(), alice, "/stop")
	assert.Equal(t, "No agent run to stop.", reply)
}

func TestShellStopLeavesAgentRunning(t *testing.T) {
	r := &shell.Runner{Shell: "/bin/sh", Dir: t.TempDir(), TailBytes: 4096}
	ctl := jobs.NewController(jobs.Options{Spawner: jobs.ShellSpawner(r), KillGrace: 2 * time.Second})
	t.Cleanup(func() { _ = ctl.Shutdown() })
	d := dispatch.New(dispatch.Options{
		Controller: ctl,
		Authorizer: policy.AuthorizerFunc(func(policy.Sender) bool { return true }),
	})
	a := newBlockingAgent()
	g := New(Options{Shell: d, Jobs: ctl, Agent: a})

	replies := startAgentRun(t, g, a, "think hard")

	reply, handled := g.Handle(context.Background(), alice, "/bash sleep 60")
	require.True(t, handled)
	m := regexp.MustCompile(`Job ([0-9a-f]{8}) started`).FindStringSubmatch(reply)
	require.NotNil(t, m, "reply: %s", reply)

	status, _ := g.Handle(context.Background(), alice, "/status")
	assert.Contains(t, status, "Agent: running")
	assert.Contains(t, status, m[1]+" running `sleep 60`")

	reply, _ = g.Handle(context.Background(), alice, "/bash stop "+m[1])
	assert.Equal(t, "Stopped job "+m[1]+".", reply)
	assert.True(t, g.AgentRunning(alice.Chat), "stopping a shell job must not touch the agent run")

	reply, _ = g.Handle(context.Background(), alice, "/bash stop")
	assert.Contains(t, reply, "Nothing to stop")
	assert.True(t, g.AgentRunning(alice.Chat))

	reply, _ = g.Handle(context.Background(), alice, "/bash poll "+m[1])
	assert.Contains(t, reply, "stopped")

	close(a.release)
	assert.Equal(t, "agent says: think hard", <-replies)
}

func TestStatusIdle(t *testing.T) {
	g := New(Options{Shell: &recordingShell{}})
	reply, handled := g.Handle(context.Background(), alice, " /status ")
	assert.True(t, handled)
	assert.Equal(t, "Agent: idle\nShell job: none", reply)
}

type failingAgent struct{ err error }

func (f failingAgent) Reply(context.Context, agent.Message) (string, error) { return "", f.err }

func TestAgentErrors(t *testing.T) {
	g := New(Options{Shell: &recordingShell{}})
	reply, handled := g.Handle(context.Background(), alice, "hi")
	assert.False(t, handled)
	assert.Contains(t, reply, "No agent is configured")

	g = New(Options{Shell: &recordingShell{}, Agent: failingAgent{errors.New("boom")}})
	reply, _ = g.Handle(context.Background(), alice, "hi")
	assert.Equal(t, "Agent error: boom", reply)
	assert.False(t, g.AgentRunning(alice.Chat))
}
