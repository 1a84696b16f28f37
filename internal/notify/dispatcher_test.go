package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spotwatch/internal/domain"
	"spotwatch/internal/storage"
)

type fakeEmail struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmail) SendEmail(context.Context, string, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "<msg-1@spotwatch>", nil
}

type fakeSMS struct {
	mu    sync.Mutex
	calls int
	err   error
	text  string
}

func (f *fakeSMS) SendSMS(_ context.Context, _ string, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.text = text
	return "sms-1", f.err
}

type fakeChat struct {
	mu      sync.Mutex
	calls   int
	payload ChatPayload
}

func (f *fakeChat) SendChat(_ context.Context, _ string, payload ChatPayload) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payload = payload
	return 204, nil
}

type failingLogStore struct {
	storage.NotificationLogStore
}

func (failingLogStore) AppendNotificationLog(context.Context, domain.NotificationLogEntry) error {
	return errors.New("log table unavailable")
}

func savePref(t *testing.T, d *Dispatcher, owner string, in PreferenceInput) {
	t.Helper()
	if _, err := d.SavePreference(context.Background(), owner, in); err != nil {
		t.Fatalf("save preference: %v", err)
	}
}

func TestNotifySeverityGateSkipsChannels(t *testing.T) {
	store := storage.NewMemoryStore()
	email := &fakeEmail{}
	d := NewDispatcher(Options{}, Senders{Email: email}, store, store, zerolog.Nop())
	savePref(t, d, "alice", PreferenceInput{
		Channels:          []domain.ChannelSpec{{Kind: "email", Address: "alice@example.com"}},
		AllowedSeverities: []string{"error", "critical"},
	})

	res, err := d.Notify(context.Background(), "alice", "hello", "body", domain.SeverityInfo, nil)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if res.Accepted || res.Reason != ReasonSeverityFiltered {
		t.Fatalf("expected filtered result, got %+v", res)
	}
	if email.calls != 0 {
		t.Fatalf("expected zero channel calls, got %d", email.calls)
	}
	logs, _ := store.ListNotificationLogs(context.Background(), "alice", 10)
	if len(logs) != 0 {
		t.Fatalf("expected no log entries, got %d", len(logs))
	}
}

func TestNotifyWithoutPreferenceHasNoChannels(t *testing.T) {
	store := storage.NewMemoryStore()
	d := NewDispatcher(Options{}, Senders{}, store, store, zerolog.Nop())

	res, err := d.Notify(context.Background(), "bob", "hello", "body", domain.SeverityCritical, nil)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if res.Accepted || res.Reason != ReasonNoChannels {
		t.Fatalf("expected no-channel result, got %+v", res)
	}
}

func TestNotifyIsolatesChannelFailures(t *testing.T) {
	store := storage.NewMemoryStore()
	email := &fakeEmail{}
	sms := &fakeSMS{err: errors.New("gateway down")}
	d := NewDispatcher(Options{}, Senders{Email: email, SMS: sms}, store, store, zerolog.Nop())
	savePref(t, d, "alice", PreferenceInput{Channels: []domain.ChannelSpec{
		{Kind: "email", Address: "alice@example.com"},
		{Kind: "sms", Address: "+15550100"},
	}})

	meta := map[string]string{"resource_id": "r-1"}
	res, err := d.Notify(context.Background(), "alice", "Spot price", "m5.large spiked", domain.SeverityWarning, meta)
	if err != nil {
		t.Fatalf("notify must not fail on channel errors: %v", err)
	}
	if !res.Accepted || len(res.Results) != 2 {
		t.Fatalf("expected two channel results, got %+v", res)
	}
	if !res.Results[0].Success || res.Results[0].Kind != domain.ChannelEmail || res.Results[0].Payload == "" {
		t.Fatalf("expected email success, got %+v", res.Results[0])
	}
	if res.Results[1].Success || res.Results[1].Error != "gateway down" {
		t.Fatalf("expected sms failure, got %+v", res.Results[1])
	}
	if sms.text != "Spot price\nm5.large spiked" {
		t.Fatalf("unexpected sms text %q", sms.text)
	}

	var pf *domain.PartialFailure
	if !errors.As(res.Err(), &pf) || len(pf.Succeeded) != 1 || len(pf.Failed) != 1 {
		t.Fatalf("expected partial failure summary, got %v", res.Err())
	}

	logs, err := store.ListNotificationLogs(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(logs))
	}
	entry := logs[0]
	if entry.ID != res.LogID || entry.Severity != domain.SeverityWarning || len(entry.Results) != 2 || entry.Metadata["resource_id"] != "r-1" {
		t.Fatalf("unexpected log entry %+v", entry)
	}
}

func TestNotifyLogFailureIsSwallowed(t *testing.T) {
	store := storage.NewMemoryStore()
	chat := &fakeChat{}
	d := NewDispatcher(Options{}, Senders{Chat: chat}, store, failingLogStore{}, zerolog.Nop())
	savePref(t, d, "alice", PreferenceInput{Channels: []domain.ChannelSpec{{Kind: "chat", WebhookURL: "https://hooks.example.com/x"}}})

	res, err := d.Notify(context.Background(), "alice", "s", "m", domain.SeverityError, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("log failure must not escalate: %v", err)
	}
	if !res.Accepted || res.LogID != "" || res.Results[0].Payload != "204" {
		t.Fatalf("unexpected result %+v", res)
	}
	if chat.payload.Severity != "error" || chat.payload.Metadata["k"] != "v" {
		t.Fatalf("unexpected chat payload %+v", chat.payload)
	}
}

func TestNotifyDisabledAdapterFailsThatChannelOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	email := &fakeEmail{}
	d := NewDispatcher(Options{}, Senders{Email: email}, store, store, zerolog.Nop())
	savePref(t, d, "alice", PreferenceInput{Channels: []domain.ChannelSpec{
		{Kind: "chat", WebhookURL: "https://hooks.example.com/x"},
		{Kind: "email", Address: "alice@example.com"},
	}})

	res, err := d.Notify(context.Background(), "alice", "s", "m", domain.SeverityInfo, nil)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if res.Results[0].Success || res.Results[0].Error != errAdapterDisabled.Error() {
		t.Fatalf("expected disabled chat adapter failure, got %+v", res.Results[0])
	}
	if !res.Results[1].Success || email.calls != 1 {
		t.Fatalf("expected email delivery, got %+v", res.Results[1])
	}
}

func TestNotifyRejectsUnknownSeverity(t *testing.T) {
	store := storage.NewMemoryStore()
	d := NewDispatcher(Options{}, Senders{}, store, store, zerolog.Nop())
	_, err := d.Notify(context.Background(), "alice", "s", "m", domain.Severity("panic"), nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSavePreferenceValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	d := NewDispatcher(Options{}, Senders{}, store, store, zerolog.Nop())

	cases := []struct {
		name  string
		in    PreferenceInput
		field string
	}{
		{"unknown kind", PreferenceInput{Channels: []domain.ChannelSpec{{Kind: "pager", Address: "x"}}}, "kind"},
		{"email without address", PreferenceInput{Channels: []domain.ChannelSpec{{Kind: "email"}}}, "address"},
		{"chat without url", PreferenceInput{Channels: []domain.ChannelSpec{{Kind: "chat"}}}, "webhook_url"},
		{"bad severity", PreferenceInput{AllowedSeverities: []string{"loud"}}, "allowed_severities"},
		{"bad min severity", PreferenceInput{MinSeverity: "loud"}, "min_severity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.SavePreference(context.Background(), "alice", tc.in)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
		})
	}

	if _, err := store.GetPreference(context.Background(), "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("invalid preferences must not be stored, got %v", err)
	}
}

func TestSavePreferenceUpserts(t *testing.T) {
	store := storage.NewMemoryStore()
	d := NewDispatcher(Options{}, Senders{}, store, store, zerolog.Nop())
	savePref(t, d, "alice", PreferenceInput{Channels: []domain.ChannelSpec{{Kind: "email", Address: "a@example.com"}}})
	savePref(t, d, "alice", PreferenceInput{
		Channels:    []domain.ChannelSpec{{Kind: "sms", Address: "+15550100"}},
		MinSeverity: "warning",
	})

	pref, err := d.Preference(context.Background(), "alice")
	if err != nil {
		t.Fatalf("preference: %v", err)
	}
	if len(pref.Channels) != 1 || pref.Channels[0].Kind() != domain.ChannelSMS || pref.MinSeverity != domain.SeverityWarning {
		t.Fatalf("unexpected preference %+v", pref)
	}
	if pref.Allows(domain.SeverityInfo) || !pref.Allows(domain.SeverityError) {
		t.Fatalf("min severity gate not applied")
	}
}

func TestAlertAnomaliesRoutesToSystemOwner(t *testing.T) {
	store := storage.NewMemoryStore()
	chat := &fakeChat{}
	d := NewDispatcher(Options{SystemOwner: "ops", MinAnomalyScore: 0.7}, Senders{Chat: chat}, store, store, zerolog.Nop())
	savePref(t, d, "ops", PreferenceInput{Channels: []domain.ChannelSpec{{Kind: "chat", WebhookURL: "https://hooks.example.com/ops"}}})

	now := time.Now()
	events := []domain.AnomalyEvent{
		{InstanceFamily: "m5.large", Region: "us-east-1", Zone: "us-east-1a", CurrentPrice: decimal.RequireFromString("1.2"), PreviousPrice: decimal.RequireFromString("1"), PercentChange: decimal.RequireFromString("20"), AnomalyScore: 0.5, ObservedAt: now},
		{InstanceFamily: "c5.large", Region: "eu-west-1", Zone: "eu-west-1b", CurrentPrice: decimal.RequireFromString("1.6"), PreviousPrice: decimal.RequireFromString("1"), PercentChange: decimal.RequireFromString("60"), AnomalyScore: 0.9, ObservedAt: now},
	}
	if err := d.AlertAnomalies(context.Background(), events); err != nil {
		t.Fatalf("alert: %v", err)
	}
	if chat.calls != 1 {
		t.Fatalf("expected one chat delivery, got %d", chat.calls)
	}
	if chat.payload.Severity != string(domain.SeverityCritical) {
		t.Fatalf("expected critical severity, got %s", chat.payload.Severity)
	}

	logs, _ := store.ListNotificationLogs(context.Background(), "ops", 10)
	if len(logs) != 1 || logs[0].Metadata["anomalies"] != "1" {
		t.Fatalf("expected one logged alert covering one anomaly, got %+v", logs)
	}
}

func TestAlertAnomaliesWithoutSystemOwnerOnlyLogs(t *testing.T) {
	store := storage.NewMemoryStore()
	chat := &fakeChat{}
	d := NewDispatcher(Options{}, Senders{Chat: chat}, store, store, zerolog.Nop())
	err := d.AlertAnomalies(context.Background(), []domain.AnomalyEvent{{AnomalyScore: 0.9}})
	if err != nil || chat.calls != 0 {
		t.Fatalf("expected log-only behaviour, got err=%v calls=%d", err, chat.calls)
	}
}

func TestSeverityForScore(t *testing.T) {
	cases := map[float64]domain.Severity{
		0.9: domain.SeverityCritical,
		0.8: domain.SeverityError,
		0.7: domain.SeverityWarning,
		0.5: domain.SeverityWarning,
		0.3: domain.SeverityInfo,
		0:   domain.SeverityInfo,
	}
	for score, want := range cases {
		if got := SeverityForScore(score); got != want {
			t.Fatalf("score %v: expected %s, got %s", score, want, got)
		}
	}
}

func TestHistoryRejectsNonPositiveLimit(t *testing.T) {
	store := storage.NewMemoryStore()
	d := NewDispatcher(Options{}, Senders{}, store, store, zerolog.Nop())
	if err := store.AppendNotificationLog(context.Background(), domain.NotificationLogEntry{
		ID: "log-1", OwnerID: "alice", Severity: domain.SeverityInfo, LoggedAt: time.Now(),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	for _, limit := range []int{0, -5} {
		if _, err := d.History(context.Background(), "alice", limit); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("limit %d: expected validation error, got %v", limit, err)
		}
	}
	entries, err := d.History(context.Background(), "alice", 5)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %d (%v)", len(entries), err)
	}
}
