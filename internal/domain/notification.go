package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Severity orders notifications: info < warning < error < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Severities lists every known severity in ascending order.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}

// Rank returns the position of s in the ordering, or -1 when unknown.
func (s Severity) Rank() int {
	for i, known := range Severities {
		if known == s {
			return i
		}
	}
	return -1
}

// ParseSeverity normalises and validates a severity name.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if s.Rank() < 0 {
		return "", NewValidationError("severity", raw, "unknown severity")
	}
	return s, nil
}

// ChannelKind tags a delivery channel.
type ChannelKind string

const (
	ChannelEmail ChannelKind = "email"
	ChannelSMS   ChannelKind = "sms"
	ChannelChat  ChannelKind = "chat"
)

// Channel is a configured delivery target. The variants are EmailChannel, SMSChannel and ChatChannel;
// each carries its mandatory field.
type Channel interface {
	Kind() ChannelKind
	Target() string
	isChannel()
}

// EmailChannel delivers to a mailbox.
type EmailChannel struct{ Address string }

// SMSChannel delivers to a phone number.
type SMSChannel struct{ Address string }

// ChatChannel posts to a chat webhook.
type ChatChannel struct{ WebhookURL string }

func (EmailChannel) Kind() ChannelKind { return ChannelEmail }
func (SMSChannel) Kind() ChannelKind   { return ChannelSMS }
func (ChatChannel) Kind() ChannelKind  { return ChannelChat }
func (c EmailChannel) Target() string  { return c.Address }
func (c SMSChannel) Target() string    { return c.Address }
func (c ChatChannel) Target() string   { return c.WebhookURL }
func (EmailChannel) isChannel()        {}
func (SMSChannel) isChannel()          {}
func (ChatChannel) isChannel()         {}

// ChannelSpec is the untyped form of a channel as received from callers or storage.
type ChannelSpec struct {
	Kind       string `json:"kind"`
	Address    string `json:"address,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// ParseChannel validates a spec and returns the matching variant.
func ParseChannel(spec ChannelSpec) (Channel, error) {
	kind := ChannelKind(strings.ToLower(strings.TrimSpace(spec.Kind)))
	switch kind {
	case ChannelEmail:
		addr := strings.TrimSpace(spec.Address)
		if addr == "" {
			return nil, NewValidationError("address", "", "email channel requires an address")
		}
		if !strings.Contains(addr, "@") {
			return nil, NewValidationError("address", addr, "email address is malformed")
		}
		return EmailChannel{Address: addr}, nil
	case ChannelSMS:
		addr := strings.TrimSpace(spec.Address)
		if addr == "" {
			return nil, NewValidationError("address", "", "sms channel requires an address")
		}
		return SMSChannel{Address: addr}, nil
	case ChannelChat:
		hook := strings.TrimSpace(spec.WebhookURL)
		if hook == "" {
			return nil, NewValidationError("webhook_url", "", "chat channel requires a webhook url")
		}
		u, err := url.Parse(hook)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, NewValidationError("webhook_url", hook, "webhook url must be an absolute http(s) url")
		}
		return ChatChannel{WebhookURL: hook}, nil
	default:
		return nil, NewValidationError("kind", spec.Kind, "unknown channel kind")
	}
}

// SpecOf converts a channel variant back to its untyped form.
func SpecOf(c Channel) ChannelSpec {
	switch v := c.(type) {
	case EmailChannel:
		return ChannelSpec{Kind: string(ChannelEmail), Address: v.Address}
	case SMSChannel:
		return ChannelSpec{Kind: string(ChannelSMS), Address: v.Address}
	case ChatChannel:
		return ChannelSpec{Kind: string(ChannelChat), WebhookURL: v.WebhookURL}
	}
	return ChannelSpec{}
}

// MarshalChannels serializes channels as tagged JSON records.
func MarshalChannels(channels []Channel) ([]byte, error) {
	specs := make([]ChannelSpec, 0, len(channels))
	for _, c := range channels {
		specs = append(specs, SpecOf(c))
	}
	return json.Marshal(specs)
}

// UnmarshalChannels decodes tagged JSON records into channel variants.
func UnmarshalChannels(data []byte) ([]Channel, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var specs []ChannelSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	channels := make([]Channel, 0, len(specs))
	for _, spec := range specs {
		c, err := ParseChannel(spec)
		if err != nil {
			return nil, fmt.Errorf("decode channels: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, nil
}

// NotificationPreference is the single per-owner delivery configuration.
// AllowedSeverities, when non-empty, takes precedence over MinSeverity.
type NotificationPreference struct {
	OwnerID           string
	Channels          []Channel
	AllowedSeverities []Severity
	MinSeverity       Severity
}

// DefaultPreference is used when an owner never saved one: no channels, every severity allowed.
func DefaultPreference(ownerID string) NotificationPreference {
	return NotificationPreference{OwnerID: ownerID, MinSeverity: SeverityInfo}
}

// Allows reports whether a notification of the given severity passes the gate.
func (p NotificationPreference) Allows(s Severity) bool {
	if len(p.AllowedSeverities) > 0 {
		for _, allowed := range p.AllowedSeverities {
			if allowed == s {
				return true
			}
		}
		return false
	}
	min := p.MinSeverity
	if min == "" {
		min = SeverityInfo
	}
	return s.Rank() >= 0 && s.Rank() >= min.Rank()
}
