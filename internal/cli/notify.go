package cli

import (
	"github.com/spf13/cobra"

	"spotwatch/internal/app"
)

var (
	notifyOwner    string
	notifySubject  string
	notifyMessage  string
	notifySeverity string
	notifyMeta     []string
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send a notification through an owner's channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := parsePairs(notifyMeta, "--meta")
		if err != nil {
			return err
		}
		return getApp().Notify(cmd.Context(), app.NotifyOptions{
			OwnerID:  notifyOwner,
			Subject:  notifySubject,
			Message:  notifyMessage,
			Severity: notifySeverity,
			Metadata: meta,
		})
	},
}

func init() {
	notifyCmd.Flags().StringVar(&notifyOwner, "owner", "", "Owner id")
	notifyCmd.Flags().StringVar(&notifySubject, "subject", "", "Subject line")
	notifyCmd.Flags().StringVar(&notifyMessage, "message", "", "Message body")
	notifyCmd.Flags().StringVar(&notifySeverity, "severity", "info", "info, warning, error or critical")
	notifyCmd.Flags().StringArrayVar(&notifyMeta, "meta", nil, "Metadata as key=value, repeatable")
	_ = notifyCmd.MarkFlagRequired("owner")
	_ = notifyCmd.MarkFlagRequired("message")
}
