package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Webhook POSTs the action as JSON to a downstream service. Any non-2xx
// response is a failure. The action digest is sent as the idempotency key so
// the receiver can drop a replay after a rolled back attempt.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook posts to url. A nil client gets a traced client with a 30s timeout.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Webhook{url: url, client: client}
}

func (w *Webhook) Perform(ctx context.Context, a contracts.Action) error {
	req := NewRequest(a)
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Digest)

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: %s returned %d: %s", w.url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
