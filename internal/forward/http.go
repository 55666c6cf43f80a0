package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/astra-live-lab/internal/logging"
)

// PostWithRetries posts JSON body to url, retrying transport errors and 5xx
// responses with a 200ms·2^i backoff. It returns the final status code.
func PostWithRetries(ctx context.Context, client *http.Client, url string, body []byte, authToken string, timeout time.Duration, attempts int, sessionID string) (int, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(200*(1<<(i-1))) * time.Millisecond):
			}
		}
		status, err := postOnce(ctx, client, url, body, authToken, timeout)
		if err == nil && status < 500 {
			return status, nil
		}
		if err == nil {
			err = fmt.Errorf("status %d", status)
		}
		lastErr = err
		logging.Debugw("forward: POST attempt failed", "attempt", i+1, "err", err, "session.id", sessionID)
	}
	return 0, lastErr
}

func postOnce(ctx context.Context, client *http.Client, url string, body []byte, authToken string, timeout time.Duration) (int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// HTTPSink POSTs each record as JSON.
type HTTPSink struct {
	URL       string
	AuthToken string
	Client    *http.Client
	Timeout   time.Duration
	Attempts  int
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Send(ctx context.Context, r Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	status, err := PostWithRetries(ctx, s.Client, s.URL, body, s.AuthToken, timeout, s.Attempts, r.SessionID)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("forward: %s returned status %d", s.URL, status)
	}
	return nil
}
