package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	unsubscribeUser   int64
	unsubscribeTicker string
)

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Remove a user's price watch",
	RunE: func(cmd *cobra.Command, args []string) error {
		if unsubscribeUser <= 0 {
			return errors.New("--user must be greater than zero")
		}
		if unsubscribeTicker == "" {
			return errors.New("--ticker is required")
		}

		return getApp().Unsubscribe(cmd.Context(), unsubscribeUser, unsubscribeTicker)
	},
}

func init() {
	unsubscribeCmd.Flags().Int64Var(&unsubscribeUser, "user", 0, "User ID (Telegram chat ID)")
	unsubscribeCmd.Flags().StringVar(&unsubscribeTicker, "ticker", "", "Ticker symbol, e.g. BTC")
}
