package cli

import (
	"github.com/spf13/cobra"

	"spotwatch/internal/app"
)

var (
	sampleRegions  []string
	sampleFamilies []string
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Run one sampling cycle and print the scored events",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sample(cmd.Context(), app.SampleOptions{
			Regions:  sampleRegions,
			Families: sampleFamilies,
		})
	},
}

func init() {
	sampleCmd.Flags().StringSliceVar(&sampleRegions, "region", nil, "Regions to sample (defaults to config)")
	sampleCmd.Flags().StringSliceVar(&sampleFamilies, "family", nil, "Instance families to sample (defaults to config)")
}
