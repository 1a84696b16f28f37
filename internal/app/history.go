package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"spotwatch/internal/catalog"
)

// History prints the most recent price points for a family.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	if err := validateSeries(opts.Family, opts.Region); err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	points, err := store.ListPricePoints(ctx, opts.Family, to.Add(-opts.Window), to, opts.Region)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Fprintln(a.Out, "no price points found")
		return nil
	}
	if opts.Limit > 0 && len(points) > opts.Limit {
		points = points[len(points)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tRegion\tZone\tPrice (USD/h)")
	for _, p := range points {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			p.ObservedAt.UTC().Format(time.RFC3339),
			p.Region,
			p.Zone,
			formatDecimal(p.Price, 4),
		)
	}
	writer.Flush()
	return nil
}

func validateSeries(family, region string) error {
	if family == "" {
		return errors.New("--family is required")
	}
	if err := catalog.ValidateFamilies([]string{family}); err != nil {
		return err
	}
	if region != "" {
		return catalog.ValidateRegions([]string{region})
	}
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
