package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPEmailSender sends plain-text mail through an SMTP relay.
type SMTPEmailSender struct {
	from   string
	dialer mailDialer
	logger zerolog.Logger
}

// NewSMTPEmailSender constructs the email adapter.
func NewSMTPEmailSender(host string, port int, username, password, from string, logger zerolog.Logger) *SMTPEmailSender {
	if from == "" {
		from = username
	}
	return &SMTPEmailSender{
		from:   from,
		dialer: gomail.NewDialer(host, port, username, password),
		logger: logger.With().Str("component", "notify_email").Logger(),
	}
}

// SendEmail delivers body to address and returns the generated Message-ID.
func (e *SMTPEmailSender) SendEmail(ctx context.Context, address, subject, body string) (string, error) {
	id := fmt.Sprintf("<%s@spotwatch>", uuid.NewString())

	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", address)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", id)
	m.SetBody("text/plain", body)

	// gomail has no context support; the send keeps running after ctx expires but its result is dropped.
	done := make(chan error, 1)
	go func() { done <- e.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("send email: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("send email: %w", err)
		}
	}

	e.logger.Debug().Str("message_id", id).Msg("email sent")
	return id, nil
}

var _ EmailSender = (*SMTPEmailSender)(nil)
