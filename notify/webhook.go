package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gar"
)

var _ gar.Notifier = (*WebhookNotifier)(nil)

// WebhookNotifier posts status changes to an HTTP endpoint that owns the
// message templates and the email/SMS providers.
type WebhookNotifier struct {
	url    string
	client *http.Client
	header http.Header
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(n *WebhookNotifier) {
		n.client = c
	}
}

// WithHeader adds a header to every request, typically an auth token.
func WithHeader(key, value string) WebhookOption {
	return func(n *WebhookNotifier) {
		n.header.Add(key, value)
	}
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string, opts ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// WebhookPayload is the JSON body sent for each status change.
type WebhookPayload struct {
	Reference      string             `json:"reference"`
	PreviousStatus gar.Status         `json:"previous_status"`
	NewStatus      gar.Status         `json:"new_status"`
	Amount         int64              `json:"amount"`
	Currency       string             `json:"currency"`
	Client         gar.ClientSnapshot `json:"client"`
	Note           string             `json:"note,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// Notify posts the change. Any non-2xx answer is an error.
func (n *WebhookNotifier) Notify(ctx context.Context, change gar.StatusChange) error {
	tx := change.Transaction
	payload := WebhookPayload{
		Reference:      tx.Reference,
		PreviousStatus: change.PreviousStatus,
		NewStatus:      change.NewStatus,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Client:         tx.Client,
		OccurredAt:     tx.UpdatedAt,
	}
	for i := len(tx.Timeline) - 1; i >= 0; i-- {
		if tx.Timeline[i].Status == change.NewStatus {
			payload.Note = tx.Timeline[i].Note
			payload.OccurredAt = tx.Timeline[i].Timestamp
			break
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	for k, vs := range n.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}
