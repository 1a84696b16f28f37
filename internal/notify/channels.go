package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// EmailSender delivers a message to a mailbox and returns the provider message id.
type EmailSender interface {
	SendEmail(ctx context.Context, address, subject, body string) (string, error)
}

// SMSSender delivers a text message and returns the gateway message id.
type SMSSender interface {
	SendSMS(ctx context.Context, address, text string) (string, error)
}

// ChatSender posts a payload to a chat webhook and returns the HTTP status code.
type ChatSender interface {
	SendChat(ctx context.Context, webhookURL string, payload ChatPayload) (int, error)
}

// Senders groups the configured channel adapters. A nil adapter means the channel is disabled.
type Senders struct {
	Email EmailSender
	SMS   SMSSender
	Chat  ChatSender
}

// ChatPayload is the JSON body posted to chat webhooks.
type ChatPayload struct {
	Text     string            `json:"text"`
	Subject  string            `json:"subject"`
	Severity string            `json:"severity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

func parseHTTPError(service string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		for _, msg := range []string{apiErr.Description, apiErr.Message, apiErr.Error} {
			if msg != "" {
				return fmt.Errorf("%s error (%d): %s", service, status, msg)
			}
		}
	}
	if body := strings.TrimSpace(string(payload)); body != "" {
		return fmt.Errorf("%s error (%d): %s", service, status, body)
	}
	return fmt.Errorf("%s error (%d)", service, status)
}

func renderText(subject, body string) string {
	if subject == "" {
		return body
	}
	return subject + "\n" + body
}
