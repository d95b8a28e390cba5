package agent

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// networkRetries and serverRetries bound retries for transport errors and
// 5xx responses; 429 uses MaxRetries.
const (
	networkRetries = 3
	serverRetries  = 3
)

// retryWithBackoff executes fn with retry logic. The retry behaviour depends
// on the HTTP status code returned:
//
//   - 429 → up to MaxRetries retries with exponential backoff + jitter
//   - 5xx → up to 3 retries
//   - 401/403 → no retry
//   - Network error → up to 3 retries
//   - Anything else → returned as is
//
// Cancelling ctx aborts the wait between attempts.
func (w *Webhook) retryWithBackoff(ctx context.Context, fn func() (*http.Response, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := fn()

		var limit int
		var reason string
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			limit, reason = networkRetries, err.Error()
		case resp.StatusCode == http.StatusTooManyRequests:
			limit, reason = w.MaxRetries, "rate limited (429)"
		case resp.StatusCode >= 500:
			limit, reason = serverRetries, fmt.Sprintf("server error (%d)", resp.StatusCode)
		default:
			return resp, nil
		}

		if attempt >= limit {
			// Out of retries: hand back the last response so the caller can
			// report its status.
			return resp, err
		}
		drainAndClose(resp)
		w.logger.Warn("agent retry",
			zap.Int("attempt", attempt+1),
			zap.Int("max", limit),
			zap.String("reason", reason))

		if err := sleepCtx(ctx, w.backoff(attempt)); err != nil {
			return nil, err
		}
	}
}

func (w *Webhook) backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * w.BaseDelay
	if base <= 1 {
		return base
	}
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	return base + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func drainAndClose(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
