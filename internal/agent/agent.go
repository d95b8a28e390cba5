// Package agent forwards chat messages to the AI agent and returns its reply.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kehao95/relay/internal/config"
)

// ErrUnavailable is returned when no agent endpoint is configured.
var ErrUnavailable = errors.New("no agent configured")

// Message is one inbound chat message.
type Message struct {
	ChatID string `json:"chat_id"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Agent produces a reply for a message. Reply must return promptly once
// ctx is cancelled.
type Agent interface {
	Reply(ctx context.Context, msg Message) (string, error)
}

// Unavailable is the Agent used when RELAY_AGENT_URL is unset.
type Unavailable struct{}

func (Unavailable) Reply(context.Context, Message) (string, error) {
	return "", ErrUnavailable
}

// Webhook posts messages as JSON to an HTTP endpoint and expects
// {"reply": "..."} back.
type Webhook struct {
	URL    string
	Signer Signer // optional
	Client *http.Client

	// MaxRetries bounds retries on 429.
	MaxRetries int
	// BaseDelay is the first backoff step.
	BaseDelay time.Duration

	logger *zap.Logger
}

// New returns a Webhook for cfg.AgentURL, or Unavailable if it is empty.
func New(cfg *config.Config, logger *zap.Logger) Agent {
	if cfg.AgentURL == "" {
		return Unavailable{}
	}
	w := NewWebhook(cfg.AgentURL, logger)
	if cfg.AgentToken != "" {
		w.Signer = &BearerToken{Token: cfg.AgentToken}
	}
	return w
}

// NewWebhook creates a Webhook with default retry settings.
func NewWebhook(url string, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		URL:        url,
		Client:     &http.Client{Timeout: 5 * time.Minute},
		MaxRetries: 5,
		BaseDelay:  500 * time.Millisecond,
		logger:     logger,
	}
}

type replyBody struct {
	Reply string `json:"reply"`
}

// Reply posts msg to the webhook and returns the agent's answer, retrying
// rate limits and server errors.
func (w *Webhook) Reply(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshalling agent request: %w", err)
	}

	resp, err := w.retryWithBackoff(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if w.Signer != nil {
			if err := w.Signer.Sign(req, body); err != nil {
				return nil, fmt.Errorf("signing agent request: %w", err)
			}
		}
		return w.Client.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("agent request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("reading agent response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	var rb replyBody
	if err := json.Unmarshal(data, &rb); err != nil {
		return "", fmt.Errorf("decoding agent response: %w", err)
	}
	return rb.Reply, nil
}

// StatusError is a non-200 response that was not retried away.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent returned status %d", e.Code)
	}
	return fmt.Sprintf("agent returned status %d: %s", e.Code, truncate(e.Body, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
