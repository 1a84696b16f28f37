package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookChatSender posts JSON payloads to chat webhooks.
type WebhookChatSender struct {
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
}

// NewWebhookChatSender constructs the chat adapter.
func NewWebhookChatSender(userAgent string, timeout time.Duration, logger zerolog.Logger) *WebhookChatSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = "spotwatch/1.0"
	}
	return &WebhookChatSender{
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "notify_chat").Logger(),
	}
}

// SendChat posts payload to webhookURL. Any non-2xx response is an error.
func (c *WebhookChatSender) SendChat(ctx context.Context, webhookURL string, payload ChatPayload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, parseHTTPError("chat webhook", resp.StatusCode, respBody)
	}

	c.logger.Debug().Int("status", resp.StatusCode).Str("severity", payload.Severity).Msg("chat message delivered")
	return resp.StatusCode, nil
}

var _ ChatSender = (*WebhookChatSender)(nil)
