package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Notification is what a Channel delivers: the rendered text plus the
// structured event it was rendered from.
type Notification struct {
	Text  string `json:"text"`
	Event Event  `json:"event"`
}

// Channel delivers notifications to operators.
type Channel interface {
	Send(ctx context.Context, n Notification) error
}

var errEmptyWebhookURL = errors.New("diagnostics webhook: empty url")

type webhookBody struct {
	Source string `json:"source"`
	Notification
}

// WebhookChannel posts notifications as JSON to an HTTP endpoint.
type WebhookChannel struct {
	url    string
	source string
	token  string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) WebhookOption {
	return func(ch *WebhookChannel) {
		ch.token = token
	}
}

// WithSource names the sending service in the payload.
func WithSource(source string) WebhookOption {
	return func(ch *WebhookChannel) {
		if source != "" {
			ch.source = source
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errEmptyWebhookURL
	}
	ch := &WebhookChannel{url: url, source: "installops", client: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// Send posts n. Any response outside 2xx is an error.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	if w == nil || w.url == "" {
		return errEmptyWebhookURL
	}
	payload, err := json.Marshal(webhookBody{Source: w.source, Notification: n})
	if err != nil {
		return fmt.Errorf("diagnostics webhook: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("diagnostics webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("diagnostics webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("diagnostics webhook: status %d", resp.StatusCode)
	}
	return nil
}
