package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"spotwatch/internal/domain"
	"spotwatch/internal/storage"
)

// PreferenceInput is the untyped form of a preference as supplied by callers.
type PreferenceInput struct {
	Channels          []domain.ChannelSpec
	AllowedSeverities []string
	MinSeverity       string
}

// Preference loads ownerID's preference, falling back to the default when none was saved.
func (d *Dispatcher) Preference(ctx context.Context, ownerID string) (domain.NotificationPreference, error) {
	pref, err := d.prefs.GetPreference(ctx, ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.DefaultPreference(ownerID), nil
	}
	if err != nil {
		return domain.NotificationPreference{}, fmt.Errorf("load preference: %w", err)
	}
	return pref, nil
}

// SavePreference validates input and creates or replaces ownerID's preference.
func (d *Dispatcher) SavePreference(ctx context.Context, ownerID string, in PreferenceInput) (domain.NotificationPreference, error) {
	pref, err := parsePreference(ownerID, in)
	if err != nil {
		return domain.NotificationPreference{}, err
	}
	if err := d.prefs.UpsertPreference(ctx, pref); err != nil {
		return domain.NotificationPreference{}, fmt.Errorf("save preference: %w", err)
	}
	d.logger.Info().
		Str("owner_id", ownerID).
		Int("channels", len(pref.Channels)).
		Msg("notification preference saved")
	return pref, nil
}

func parsePreference(ownerID string, in PreferenceInput) (domain.NotificationPreference, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.NotificationPreference{}, domain.NewValidationError("owner_id", ownerID, "is required")
	}

	pref := domain.NotificationPreference{OwnerID: ownerID, MinSeverity: domain.SeverityInfo}
	for _, spec := range in.Channels {
		ch, err := domain.ParseChannel(spec)
		if err != nil {
			return domain.NotificationPreference{}, err
		}
		pref.Channels = append(pref.Channels, ch)
	}

	seen := make(map[domain.Severity]struct{})
	for _, raw := range in.AllowedSeverities {
		sev, err := domain.ParseSeverity(raw)
		if err != nil {
			return domain.NotificationPreference{}, domain.NewValidationError("allowed_severities", raw, "unknown severity")
		}
		if _, dup := seen[sev]; dup {
			continue
		}
		seen[sev] = struct{}{}
		pref.AllowedSeverities = append(pref.AllowedSeverities, sev)
	}

	if strings.TrimSpace(in.MinSeverity) != "" {
		sev, err := domain.ParseSeverity(in.MinSeverity)
		if err != nil {
			return domain.NotificationPreference{}, domain.NewValidationError("min_severity", in.MinSeverity, "unknown severity")
		}
		pref.MinSeverity = sev
	}
	return pref, nil
}
