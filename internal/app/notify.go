package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"spotwatch/internal/domain"
)

// NotifyOptions describe a manual notification.
type NotifyOptions struct {
	OwnerID  string
	Subject  string
	Message  string
	Severity string
	Metadata map[string]string
}

// Notify sends a notification through the owner's configured channels and prints per-channel results.
func (a *App) Notify(ctx context.Context, opts NotifyOptions) error {
	severity, err := domain.ParseSeverity(opts.Severity)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := a.newDispatcher(store).Notify(ctx, opts.OwnerID, opts.Subject, opts.Message, severity, opts.Metadata)
	if err != nil {
		return err
	}
	if !res.Accepted {
		fmt.Fprintf(a.Out, "not accepted: %s\n", res.Reason)
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Channel\tTarget\tResult\tDetail")
	for _, r := range res.Results {
		outcome, detail := "ok", r.Payload
		if !r.Success {
			outcome, detail = "failed", sanitizeInline(r.Error)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", r.Kind, r.Target, outcome, orDash(detail))
	}
	writer.Flush()
	return res.Err()
}
