package cli

import (
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List supported regions and instance families",
	Run: func(cmd *cobra.Command, args []string) {
		a := getApp()
		a.Out = cmd.OutOrStdout()
		a.Catalog()
	},
}
