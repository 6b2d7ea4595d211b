package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crypto-monitor/internal/app"
)

var (
	notificationsUser  int64
	notificationsLimit int
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Display a user's recent notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		if notificationsUser <= 0 {
			return fmt.Errorf("--user must be greater than zero")
		}
		if notificationsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.NotificationsOptions{
			UserID: notificationsUser,
			Limit:  notificationsLimit,
		}

		return getApp().Notifications(cmd.Context(), opts)
	},
}

func init() {
	notificationsCmd.Flags().Int64Var(&notificationsUser, "user", 0, "User ID (Telegram chat ID)")
	notificationsCmd.Flags().IntVar(&notificationsLimit, "limit", 20, "Number of notifications to display")
}
