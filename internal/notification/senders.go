package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultResendURL is the Resend email API endpoint
const DefaultResendURL = "https://api.resend.com/emails"

// StatusError is a non-2xx response from a delivery endpoint
type StatusError struct {
	Channel    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s endpoint returned %d: %s", e.Channel, e.StatusCode, e.Body)
}

// Temporary reports whether a retry may succeed
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// Email is one outbound plain-text message
type Email struct {
	To      string
	Subject string
	Text    string
}

// EmailSender delivers emails
type EmailSender interface {
	Send(ctx context.Context, email Email) error
}

// WebhookPayload is POSTed to a tenant's callback URL
type WebhookPayload struct {
	FormID       string         `json:"formId"`
	SubmissionID string         `json:"submissionId"`
	SocialName   string         `json:"socialName"`
	BestellID    string         `json:"bestellId"`
	Email        string         `json:"email"`
	Payload      map[string]any `json:"payload"`
}

// WebhookSender delivers webhook callbacks
type WebhookSender interface {
	Send(ctx context.Context, url string, payload WebhookPayload) error
}

// ResendSender sends email through the Resend HTTP API
type ResendSender struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

// NewResendSender creates a sender. An empty endpoint uses DefaultResendURL.
func NewResendSender(apiKey, from, endpoint string, client *http.Client) *ResendSender {
	if endpoint == "" {
		endpoint = DefaultResendURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ResendSender{apiKey: apiKey, from: from, endpoint: endpoint, client: client}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// Send delivers one email
func (s *ResendSender) Send(ctx context.Context, email Email) error {
	body, err := json.Marshal(resendRequest{
		From:    s.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Text:    email.Text,
	})
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	return send(s.client, req, ChannelEmail)
}

// HTTPWebhookSender POSTs JSON callbacks
type HTTPWebhookSender struct {
	client *http.Client
}

// NewHTTPWebhookSender creates a webhook sender
func NewHTTPWebhookSender(client *http.Client) *HTTPWebhookSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPWebhookSender{client: client}
}

// Send posts payload to url
func (s *HTTPWebhookSender) Send(ctx context.Context, url string, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "form-builder-webhook/1")

	return send(s.client, req, ChannelWebhook)
}

func send(client *http.Client, req *http.Request, channel string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Channel:    channel,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
