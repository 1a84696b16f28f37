package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"spotwatch/internal/app"
)

var (
	simulateFamily   string
	simulateRegion   string
	simulateZone     string
	simulatePrevious float64
	simulateCurrent  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-anomaly",
	Short: "Score a synthetic price move and route it through system alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrevious <= 0 || simulateCurrent <= 0 {
			return errors.New("--previous and --current must be greater than 0")
		}

		return getApp().SimulateAnomaly(cmd.Context(), app.SimulateOptions{
			Family:   simulateFamily,
			Region:   simulateRegion,
			Zone:     simulateZone,
			Previous: decimal.NewFromFloat(simulatePrevious),
			Current:  decimal.NewFromFloat(simulateCurrent),
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateFamily, "family", "m5.large", "Instance family")
	simulateCmd.Flags().StringVar(&simulateRegion, "region", "us-east-1", "Region")
	simulateCmd.Flags().StringVar(&simulateZone, "zone", "", "Availability zone (defaults to <region>a)")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "Reference price")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Current price")
}
