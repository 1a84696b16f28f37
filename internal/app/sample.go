package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"
)

// Sample runs a single sample cycle and prints the retained points and anomalies.
func (a *App) Sample(ctx context.Context, opts SampleOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	regions := opts.Regions
	if len(regions) == 0 {
		regions = a.Config.Sampler.Regions
	}
	families := opts.Families
	if len(families) == 0 {
		families = a.Config.Sampler.Families
	}

	smp := a.newSampler(a.providerFactory(), store, a.newDispatcher(store))
	res, err := smp.Sample(ctx, regions, families)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tFamily\tRegion\tZone\tPrice\tChange%\tScore")
	for _, ev := range res.Events {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%.1f\n",
			ev.ObservedAt.UTC().Format(time.RFC3339),
			ev.InstanceFamily,
			ev.Region,
			ev.Zone,
			formatDecimal(ev.CurrentPrice, 4),
			formatDecimal(ev.PercentChange, 2),
			ev.AnomalyScore,
		)
	}
	writer.Flush()

	fmt.Fprintf(a.Out, "\n%d point(s), %d significant anomal(ies)\n", len(res.Points), len(res.Anomalies))
	for _, re := range res.RegionErrors {
		fmt.Fprintf(a.Out, "region %s failed at %s: %s\n", re.Region, re.Stage, sanitizeInline(re.Err.Error()))
	}
	return res.Err()
}
