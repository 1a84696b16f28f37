// Package notify delivers owner notifications over email, SMS and chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"spotwatch/internal/domain"
	"spotwatch/internal/metrics"
	"spotwatch/internal/storage"
)

// Reasons reported when a notification is not accepted.
const (
	ReasonSeverityFiltered = "severity not allowed by owner preference"
	ReasonNoChannels       = "owner has no notification channels configured"
)

// Options tune dispatch.
type Options struct {
	ChannelTimeout  time.Duration
	SystemOwner     string
	MinAnomalyScore float64
}

// Result is the outcome of a Notify call.
type Result struct {
	Accepted bool
	Reason   string
	LogID    string
	Results  []domain.ChannelResult
}

// Err reports failed channels. Some failures yield a *domain.PartialFailure; all failing yields an upstream error.
func (r Result) Err() error {
	pf := &domain.PartialFailure{Op: "notify", Failed: make(map[string]error)}
	for _, cr := range r.Results {
		key := fmt.Sprintf("%s:%s", cr.Kind, cr.Target)
		if cr.Success {
			pf.Succeeded = append(pf.Succeeded, key)
			continue
		}
		pf.Failed[key] = errors.New(cr.Error)
	}
	switch {
	case len(pf.Failed) == 0:
		return nil
	case len(pf.Succeeded) == 0:
		errs := make([]error, 0, len(pf.Failed))
		for _, err := range pf.Failed {
			errs = append(errs, err)
		}
		return domain.NewUpstreamError("notify", errors.Join(errs...))
	default:
		return pf
	}
}

// Dispatcher resolves preferences and fans a notification out to every configured channel.
type Dispatcher struct {
	opts    Options
	senders Senders
	prefs   storage.PreferenceStore
	logs    storage.NotificationLogStore
	now     func() time.Time
	logger  zerolog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts Options, senders Senders, prefs storage.PreferenceStore, logs storage.NotificationLogStore, logger zerolog.Logger) *Dispatcher {
	if opts.ChannelTimeout <= 0 {
		opts.ChannelTimeout = 10 * time.Second
	}
	return &Dispatcher{
		opts:    opts,
		senders: senders,
		prefs:   prefs,
		logs:    logs,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Notify delivers a message to ownerID's channels. Channel failures are reported in the result, not as an error.
func (d *Dispatcher) Notify(ctx context.Context, ownerID, subject, message string, severity domain.Severity, metadata map[string]string) (Result, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Result{}, domain.NewValidationError("owner_id", ownerID, "is required")
	}
	if severity.Rank() < 0 {
		return Result{}, domain.NewValidationError("severity", string(severity), "unknown severity")
	}

	pref, err := d.Preference(ctx, ownerID)
	if err != nil {
		return Result{}, err
	}

	if !pref.Allows(severity) {
		d.logger.Debug().Str("owner_id", ownerID).Str("severity", string(severity)).Msg("notification filtered by severity")
		return Result{Reason: ReasonSeverityFiltered}, nil
	}
	if len(pref.Channels) == 0 {
		d.logger.Debug().Str("owner_id", ownerID).Msg("notification dropped, no channels")
		return Result{Reason: ReasonNoChannels}, nil
	}

	results := make([]domain.ChannelResult, len(pref.Channels))
	var g errgroup.Group
	for i, ch := range pref.Channels {
		i, ch := i, ch
		g.Go(func() error {
			results[i] = d.deliver(ctx, ch, subject, message, severity, metadata)
			return nil
		})
	}
	_ = g.Wait()

	entry := domain.NotificationLogEntry{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Subject:  subject,
		Message:  message,
		Severity: severity,
		Metadata: metadata,
		Results:  results,
		LoggedAt: d.now(),
	}
	if err := d.logs.AppendNotificationLog(ctx, entry); err != nil {
		d.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("failed to persist notification log")
		entry.ID = ""
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	d.logger.Info().
		Str("owner_id", ownerID).
		Str("severity", string(severity)).
		Int("channels", len(results)).
		Int("failed", failed).
		Msg("notification dispatched")

	return Result{Accepted: true, LogID: entry.ID, Results: results}, nil
}

func (d *Dispatcher) deliver(ctx context.Context, ch domain.Channel, subject, message string, severity domain.Severity, metadata map[string]string) domain.ChannelResult {
	ctx, cancel := context.WithTimeout(ctx, d.opts.ChannelTimeout)
	defer cancel()

	result := domain.ChannelResult{Kind: ch.Kind(), Target: ch.Target()}
	var (
		payload string
		err     error
	)

	switch c := ch.(type) {
	case domain.EmailChannel:
		if d.senders.Email == nil {
			err = errAdapterDisabled
			break
		}
		payload, err = d.senders.Email.SendEmail(ctx, c.Address, subject, message)
	case domain.SMSChannel:
		if d.senders.SMS == nil {
			err = errAdapterDisabled
			break
		}
		payload, err = d.senders.SMS.SendSMS(ctx, c.Address, renderText(subject, message))
	case domain.ChatChannel:
		if d.senders.Chat == nil {
			err = errAdapterDisabled
			break
		}
		var status int
		status, err = d.senders.Chat.SendChat(ctx, c.WebhookURL, ChatPayload{
			Text:     renderText(subject, message),
			Subject:  subject,
			Severity: string(severity),
			Metadata: metadata,
		})
		if status != 0 {
			payload = strconv.Itoa(status)
		}
	default:
		err = fmt.Errorf("unsupported channel %T", ch)
	}

	if err != nil {
		result.Error = err.Error()
		metrics.NotificationDeliveries.WithLabelValues(string(ch.Kind()), "failure").Inc()
		d.logger.Warn().Err(err).Str("channel", string(ch.Kind())).Msg("channel delivery failed")
		return result
	}

	result.Success = true
	result.Payload = payload
	metrics.NotificationDeliveries.WithLabelValues(string(ch.Kind()), "success").Inc()
	return result
}

var errAdapterDisabled = errors.New("channel adapter not configured")

// History returns the owner's most recent notification log entries.
func (d *Dispatcher) History(ctx context.Context, ownerID string, limit int) ([]domain.NotificationLogEntry, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.NewValidationError("owner_id", ownerID, "is required")
	}
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", strconv.Itoa(limit), "must be greater than zero")
	}
	return d.logs.ListNotificationLogs(ctx, ownerID, limit)
}
