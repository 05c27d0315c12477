package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// HTTPWebhookClient delivers custom-webhook actions as JSON requests.
type HTTPWebhookClient struct {
	client    *http.Client
	userAgent string
}

// NewHTTPWebhookClient creates a webhook client. A nil client uses one with
// the given timeout.
func NewHTTPWebhookClient(client *http.Client, timeout time.Duration) *HTTPWebhookClient {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPWebhookClient{client: client, userAgent: "rulekeeper-webhook/1"}
}

// Send encodes req.Payload as JSON and sends it. 2xx responses succeed.
// 5xx, 429 and network errors are transient; other statuses are permanent.
func (c *HTTPWebhookClient) Send(ctx context.Context, req WebhookRequest) (int, error) {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var reader io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && ctx.Err() == nil {
			return 0, Transient(fmt.Errorf("%s %s: %w", method, req.URL, err))
		}
		return 0, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := fmt.Errorf("%s %s: status %d: %s", method, req.URL, resp.StatusCode, bytes.TrimSpace(snippet))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, Transient(statusErr)
	}
	return resp.StatusCode, statusErr
}
