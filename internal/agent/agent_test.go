package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kehao95/relay/internal/config"
)

func fastWebhook(url string) *Webhook {
	w := NewWebhook(url, nil)
	w.BaseDelay = time.Millisecond
	return w
}

func TestWebhookReply(t *testing.T) {
	var got Message
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"reply":"hello back"}`))
	}))
	defer srv.Close()

	a := New(&config.Config{AgentURL: srv.URL, AgentToken: "secret"}, nil)
	reply, err := a.Reply(context.Background(), Message{ChatID: "c1", Sender: "alice", Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "hello back", reply)
	assert.Equal(t, Message{ChatID: "c1", Sender: "alice", Text: "hello"}, got)
	assert.Equal(t, "Bearer secret", auth)
}

func TestNewWithoutURLIsUnavailable(t *testing.T) {
	a := New(&config.Config{}, nil)
	_, err := a.Reply(context.Background(), Message{Text: "hi"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"reply":"ok"}`))
	}))
	defer srv.Close()

	reply, err := fastWebhook(srv.URL).Reply(context.Background(), Message{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, int32(3), calls.Load())
}

func TestServerErrorsExhaustRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := fastWebhook(srv.URL).Reply(context.Background(), Message{Text: "x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, int32(serverRetries+1), calls.Load())
}

func TestRateLimitUsesMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	wh := fastWebhook(srv.URL)
	wh.MaxRetries = 1
	_, err := wh.Reply(context.Background(), Message{Text: "x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := fastWebhook(srv.URL).Reply(context.Background(), Message{Text: "x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Contains(t, err.Error(), "bad token")
	assert.Equal(t, int32(1), calls.Load())
}

func TestMalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := fastWebhook(srv.URL).Reply(context.Background(), Message{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding agent response")
}

func TestCancelAbortsRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := fastWebhook(srv.URL).Reply(ctx, Message{Text: "x"})
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Reply did not return after cancel")
	}
}

func TestBackoffGrows(t *testing.T) {
	w := NewWebhook("http://unused", nil)
	w.BaseDelay = 100 * time.Millisecond
	for attempt := 0; attempt < 4; attempt++ {
		base := time.Duration(1<<uint(attempt)) * w.BaseDelay
		d := w.backoff(attempt)
		assert.GreaterOrEqual(t, d, base)
		assert.Less(t, d, base+base/2)
	}
}
