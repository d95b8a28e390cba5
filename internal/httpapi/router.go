// Package httpapi is the HTTP intake for chat messages.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kehao95/relay/internal/jobs"
	"github.com/kehao95/relay/internal/policy"
)

// MessageHandler handles one chat message.
type MessageHandler interface {
	Handle(ctx context.Context, sender policy.Sender, text string) (string, bool)
}

// JobLookup finds job records.
type JobLookup interface {
	Lookup(id string) (*jobs.Record, error)
	FinalizeIfStale(rec *jobs.Record) bool
}

type messageRequest struct {
	ChatID  string `json:"chat_id"`
	Sender  string `json:"sender"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type messageResponse struct {
	Reply   string `json:"reply"`
	Handled bool   `json:"handled"`
}

type jobView struct {
	ID           string `json:"id"`
	Command      string `json:"command"`
	Status       string `json:"status"`
	ExitCode     *int   `json:"exit_code,omitempty"`
	Elevated     bool   `json:"elevated"`
	Backgrounded bool   `json:"backgrounded"`
	StartedAt    string `json:"started_at"`
	DurationMs   int64  `json:"duration_ms"`
	Output       string `json:"output"`
	Warning      string `json:"warning,omitempty"`
}

func viewOf(s jobs.Snapshot) jobView {
	v := jobView{
		ID:           s.ID,
		Command:      s.Command,
		Status:       string(s.Status),
		Elevated:     s.Elevated,
		Backgrounded: s.Backgrounded,
		StartedAt:    s.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationMs:   s.Duration().Milliseconds(),
		Output:       s.Output,
		Warning:      s.Warning,
	}
	if s.HasExitCode {
		code := s.ExitCode
		v.ExitCode = &code
	}
	return v
}

// NewRouter builds the chi router.
func NewRouter(h MessageHandler, lookup JobLookup, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &api{h: h, lookup: lookup, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(api.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", api.postMessage)
		r.Get("/jobs/current", api.getJob)
		r.Get("/jobs/{id}", api.getJob)
	})
	return r
}

type api struct {
	h      MessageHandler
	lookup JobLookup
	logger *zap.Logger
}

func (a *api) postMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ChatID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "chat_id and text are required")
		return
	}
	channel := req.Channel
	if channel == "" {
		channel = "http"
	}

	reply, handled := a.h.Handle(r.Context(), policy.Sender{
		ID:      req.Sender,
		Chat:    req.ChatID,
		Channel: channel,
	}, req.Text)
	writeJSON(w, http.StatusOK, messageResponse{Reply: reply, Handled: handled})
}

func (a *api) getJob(w http.ResponseWriter, r *http.Request) {
	rec, err := a.lookup.Lookup(chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.lookup.FinalizeIfStale(rec)
	writeJSON(w, http.StatusOK, viewOf(rec.Snapshot()))
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
