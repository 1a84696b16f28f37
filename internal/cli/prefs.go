package cli

import (
	"github.com/spf13/cobra"

	"spotwatch/internal/domain"
	"spotwatch/internal/notify"
)

var (
	prefsOwner       string
	prefsEmails      []string
	prefsSMS         []string
	prefsChats       []string
	prefsSeverities  []string
	prefsMinSeverity string
	prefsHistory     int
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage notification preferences",
}

var prefsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or replace an owner's preference",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := notify.PreferenceInput{
			AllowedSeverities: prefsSeverities,
			MinSeverity:       prefsMinSeverity,
		}
		for _, addr := range prefsEmails {
			in.Channels = append(in.Channels, domain.ChannelSpec{Kind: string(domain.ChannelEmail), Address: addr})
		}
		for _, addr := range prefsSMS {
			in.Channels = append(in.Channels, domain.ChannelSpec{Kind: string(domain.ChannelSMS), Address: addr})
		}
		for _, url := range prefsChats {
			in.Channels = append(in.Channels, domain.ChannelSpec{Kind: string(domain.ChannelChat), WebhookURL: url})
		}
		return getApp().SetPreference(cmd.Context(), prefsOwner, in)
	},
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show an owner's preference and notification history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowPreference(cmd.Context(), prefsOwner, prefsHistory)
	},
}

func init() {
	prefsCmd.PersistentFlags().StringVar(&prefsOwner, "owner", "", "Owner id")
	_ = prefsCmd.MarkPersistentFlagRequired("owner")

	prefsSetCmd.Flags().StringArrayVar(&prefsEmails, "email", nil, "Email address, repeatable")
	prefsSetCmd.Flags().StringArrayVar(&prefsSMS, "sms", nil, "Phone number, repeatable")
	prefsSetCmd.Flags().StringArrayVar(&prefsChats, "chat", nil, "Chat webhook URL, repeatable")
	prefsSetCmd.Flags().StringSliceVar(&prefsSeverities, "severity", nil, "Allowed severities (overrides --min-severity)")
	prefsSetCmd.Flags().StringVar(&prefsMinSeverity, "min-severity", "", "Lowest severity to deliver")

	prefsShowCmd.Flags().IntVar(&prefsHistory, "history", 10, "Number of log entries to show (0 disables)")

	prefsCmd.AddCommand(prefsSetCmd)
	prefsCmd.AddCommand(prefsShowCmd)
}
