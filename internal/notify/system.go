package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"spotwatch/internal/anomaly"
	"spotwatch/internal/domain"
)

// SeverityForScore maps an anomaly score onto a notification severity.
func SeverityForScore(score float64) domain.Severity {
	switch {
	case score >= 0.9:
		return domain.SeverityCritical
	case score >= 0.8:
		return domain.SeverityError
	case score >= 0.5:
		return domain.SeverityWarning
	default:
		return domain.SeverityInfo
	}
}

// AlertAnomalies notifies the system owner about events scoring above the configured minimum.
// Without a system owner the events are only logged.
func (d *Dispatcher) AlertAnomalies(ctx context.Context, events []domain.AnomalyEvent) error {
	threshold := d.opts.MinAnomalyScore
	if threshold <= 0 {
		threshold = anomaly.SignificantScore
	}

	var selected []domain.AnomalyEvent
	for _, ev := range events {
		if ev.AnomalyScore > threshold {
			selected = append(selected, ev)
		}
	}
	if len(selected) == 0 {
		return nil
	}
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].AnomalyScore > selected[j].AnomalyScore })

	for _, ev := range selected {
		d.logger.Warn().
			Str("family", ev.InstanceFamily).
			Str("region", ev.Region).
			Str("zone", ev.Zone).
			Str("previous", ev.PreviousPrice.String()).
			Str("current", ev.CurrentPrice.String()).
			Str("change_pct", ev.PercentChange.StringFixed(2)).
			Float64("score", ev.AnomalyScore).
			Msg("price anomaly detected")
	}

	if d.opts.SystemOwner == "" {
		return nil
	}

	top := selected[0]
	subject := fmt.Sprintf("[spotwatch] %d spot price anomal%s", len(selected), plural(len(selected), "y", "ies"))
	metadata := map[string]string{
		"source":    "sampler",
		"anomalies": fmt.Sprint(len(selected)),
		"top_score": fmt.Sprintf("%.1f", top.AnomalyScore),
	}

	res, err := d.Notify(ctx, d.opts.SystemOwner, subject, renderAnomalies(selected), SeverityForScore(top.AnomalyScore), metadata)
	if err != nil {
		return err
	}
	if !res.Accepted {
		d.logger.Debug().Str("reason", res.Reason).Msg("system alert not accepted")
		return nil
	}
	return res.Err()
}

func renderAnomalies(events []domain.AnomalyEvent) string {
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "%s %s/%s: %s -> %s USD/h (%s%%, score %.1f)\n",
			ev.InstanceFamily, ev.Region, ev.Zone,
			ev.PreviousPrice.String(), ev.CurrentPrice.String(),
			ev.PercentChange.StringFixed(2), ev.AnomalyScore)
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
