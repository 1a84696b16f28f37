package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPSMSSender talks to an SMS gateway exposing POST {base}/message with basic auth.
type HTTPSMSSender struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   zerolog.Logger
}

type smsPayload struct {
	TextMessage struct {
		Text string `json:"text"`
	} `json:"textMessage"`
	PhoneNumbers []string `json:"phoneNumbers"`
}

type smsResponse struct {
	ID string `json:"id"`
}

// NewHTTPSMSSender constructs the SMS adapter.
func NewHTTPSMSSender(baseURL, username, password string, timeout time.Duration, logger zerolog.Logger) *HTTPSMSSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSMSSender{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_sms").Logger(),
	}
}

// SendSMS submits text for delivery to address.
func (s *HTTPSMSSender) SendSMS(ctx context.Context, address, text string) (string, error) {
	payload := smsPayload{PhoneNumbers: []string{address}}
	payload.TextMessage.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/message", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create sms request: %w", err)
	}
	req.SetBasicAuth(s.username, s.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send sms request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read sms response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return "", parseHTTPError("sms gateway", resp.StatusCode, respBody)
	}

	var out smsResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			s.logger.Debug().Err(err).Msg("sms gateway returned a non-json body")
		}
	}

	s.logger.Debug().Str("message_id", out.ID).Msg("sms accepted")
	return out.ID, nil
}

var _ SMSSender = (*HTTPSMSSender)(nil)
