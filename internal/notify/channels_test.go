package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

func TestWebhookChatSenderSuccess(t *testing.T) {
	var received ChatPayload
	var userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookChatSender("spotwatch-test", time.Second, zerolog.Nop())
	status, err := sender.SendChat(context.Background(), srv.URL+"/hook", ChatPayload{Text: "hi", Subject: "s", Severity: "warning"})
	if err != nil {
		t.Fatalf("send chat: %v", err)
	}
	if status != http.StatusNoContent {
		t.Fatalf("unexpected status %d", status)
	}
	if received.Text != "hi" || received.Severity != "warning" || userAgent != "spotwatch-test" {
		t.Fatalf("unexpected request %+v ua=%q", received, userAgent)
	}
}

func TestWebhookChatSenderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid_payload"})
	}))
	defer srv.Close()

	sender := NewWebhookChatSender("", time.Second, zerolog.Nop())
	status, err := sender.SendChat(context.Background(), srv.URL, ChatPayload{Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "invalid_payload") {
		t.Fatalf("expected api error, got %v", err)
	}
	if status != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", status)
	}
}

func TestHTTPSMSSender(t *testing.T) {
	var payload smsPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "gw" || pass != "secret" {
			t.Fatalf("missing basic auth")
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg-42"})
	}))
	defer srv.Close()

	sender := NewHTTPSMSSender(srv.URL+"/", "gw", "secret", time.Second, zerolog.Nop())
	id, err := sender.SendSMS(context.Background(), "+15550100", "price alert")
	if err != nil {
		t.Fatalf("send sms: %v", err)
	}
	if id != "msg-42" {
		t.Fatalf("unexpected id %q", id)
	}
	if len(payload.PhoneNumbers) != 1 || payload.PhoneNumbers[0] != "+15550100" || payload.TextMessage.Text != "price alert" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestHTTPSMSSenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sender := NewHTTPSMSSender(srv.URL, "gw", "secret", time.Second, zerolog.Nop())
	if _, err := sender.SendSMS(context.Background(), "+15550100", "x"); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
	wait chan struct{}
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if f.wait != nil {
		<-f.wait
	}
	f.sent = append(f.sent, m...)
	return f.err
}

func TestSMTPEmailSender(t *testing.T) {
	dialer := &fakeDialer{}
	sender := NewSMTPEmailSender("smtp.example.com", 587, "bot@example.com", "pw", "", zerolog.Nop())
	sender.dialer = dialer

	id, err := sender.SendEmail(context.Background(), "alice@example.com", "Subject", "Body")
	if err != nil {
		t.Fatalf("send email: %v", err)
	}
	if !strings.HasSuffix(id, "@spotwatch>") || len(dialer.sent) != 1 {
		t.Fatalf("unexpected send id=%q sent=%d", id, len(dialer.sent))
	}
	msg := dialer.sent[0]
	if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "alice@example.com" {
		t.Fatalf("unexpected To header %v", got)
	}
	if got := msg.GetHeader("From"); len(got) != 1 || got[0] != "bot@example.com" {
		t.Fatalf("expected From to default to the username, got %v", got)
	}
}

func TestSMTPEmailSenderHonoursContext(t *testing.T) {
	dialer := &fakeDialer{wait: make(chan struct{})}
	defer close(dialer.wait)
	sender := NewSMTPEmailSender("smtp.example.com", 587, "bot@example.com", "pw", "alerts@example.com", zerolog.Nop())
	sender.dialer = dialer

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sender.SendEmail(ctx, "alice@example.com", "s", "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
