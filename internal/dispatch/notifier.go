package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/taxi-dispatch/internal/observability"
)

// Notifier delivers a payload to a taxi's callback endpoint.
type Notifier interface {
	Send(ctx context.Context, endpoint string, payload any) error
}

// HTTPNotifier posts JSON with bounded retries and linear backoff
// (base + attempt×step). Any non-2xx response or transport error counts
// as a failed attempt; exhausting attempts returns the last error.
type HTTPNotifier struct {
	Client      *http.Client
	MaxAttempts int
	BackoffBase time.Duration
	BackoffStep time.Duration
}

func NewHTTPNotifier(timeout time.Duration, maxAttempts int, backoffBase, backoffStep time.Duration) *HTTPNotifier {
	return &HTTPNotifier{
		Client:      &http.Client{Timeout: timeout},
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
		BackoffStep: backoffStep,
	}
}

func (n *HTTPNotifier) Send(ctx context.Context, endpoint string, payload any) error {
	attempts := n.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, n.BackoffBase+time.Duration(attempt-1)*n.BackoffStep); err != nil {
				return err
			}
		}
		observability.NotifyAttempts.Inc()
		lastErr = n.post(ctx, endpoint, body)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("notify %s exhausted after %d attempts: %w", endpoint, attempts, lastErr)
}

func (n *HTTPNotifier) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
