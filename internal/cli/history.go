package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spotwatch/internal/app"
)

var (
	historyFamily string
	historyRegion string
	historyWindow time.Duration
	historyLimit  int

	exportFamily    string
	exportRegion    string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored price history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price points for a family",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().History(cmd.Context(), app.HistoryOptions{
			Family: historyFamily,
			Region: historyRegion,
			Window: historyWindow,
			Limit:  historyLimit,
		})
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export price history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Family:    exportFamily,
			Region:    exportRegion,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	historyShowCmd.Flags().StringVar(&historyFamily, "family", "", "Instance family")
	historyShowCmd.Flags().StringVar(&historyRegion, "region", "", "Restrict to one region")
	historyShowCmd.Flags().DurationVar(&historyWindow, "window", 24*time.Hour, "How far back to look")
	historyShowCmd.Flags().IntVar(&historyLimit, "limit", 50, "Number of points to display")
	_ = historyShowCmd.MarkFlagRequired("family")

	historyExportCmd.Flags().StringVar(&exportFamily, "family", "", "Instance family")
	historyExportCmd.Flags().StringVar(&exportRegion, "region", "", "Restrict to one region")
	historyExportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	historyExportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	historyExportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	historyExportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	historyExportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points per zone (defaults to config)")
	_ = historyExportCmd.MarkFlagRequired("family")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyExportCmd)
}
