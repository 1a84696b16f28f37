package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"spotwatch/internal/domain"
	"spotwatch/internal/notify"
)

// SetPreference validates and stores an owner's notification preference.
func (a *App) SetPreference(ctx context.Context, ownerID string, in notify.PreferenceInput) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	pref, err := a.newDispatcher(store).SavePreference(ctx, ownerID, in)
	if err != nil {
		return err
	}
	a.printPreference(pref)
	return nil
}

// ShowPreference prints an owner's preference and recent notification history.
func (a *App) ShowPreference(ctx context.Context, ownerID string, historyLimit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher := a.newDispatcher(store)
	pref, err := dispatcher.Preference(ctx, ownerID)
	if err != nil {
		return err
	}
	a.printPreference(pref)

	if historyLimit <= 0 {
		return nil
	}
	entries, err := dispatcher.History(ctx, ownerID, historyLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	fmt.Fprintln(a.Out)
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Logged (UTC)\tSeverity\tSubject\tDelivered")
	for _, e := range entries {
		ok := 0
		for _, r := range e.Results {
			if r.Success {
				ok++
			}
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d/%d\n",
			e.LoggedAt.UTC().Format(time.RFC3339),
			e.Severity,
			sanitizeInline(e.Subject),
			ok, len(e.Results),
		)
	}
	writer.Flush()
	return nil
}

func (a *App) printPreference(pref domain.NotificationPreference) {
	fmt.Fprintf(a.Out, "owner: %s\n", pref.OwnerID)
	if len(pref.AllowedSeverities) > 0 {
		names := make([]string, 0, len(pref.AllowedSeverities))
		for _, s := range pref.AllowedSeverities {
			names = append(names, string(s))
		}
		fmt.Fprintf(a.Out, "allowed severities: %s\n", strings.Join(names, ","))
	} else {
		fmt.Fprintf(a.Out, "min severity: %s\n", pref.MinSeverity)
	}
	if len(pref.Channels) == 0 {
		fmt.Fprintln(a.Out, "channels: none")
		return
	}
	fmt.Fprintln(a.Out, "channels:")
	for _, ch := range pref.Channels {
		fmt.Fprintf(a.Out, "  - %s: %s\n", ch.Kind(), ch.Target())
	}
}
