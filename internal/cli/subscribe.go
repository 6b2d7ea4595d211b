package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	subscribeUser      int64
	subscribeTicker    string
	subscribeThreshold float64
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Register a price watch for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if subscribeUser <= 0 {
			return errors.New("--user must be greater than zero")
		}
		if subscribeTicker == "" {
			return errors.New("--ticker is required")
		}
		if subscribeThreshold <= 0 {
			return errors.New("--threshold must be greater than zero")
		}

		threshold := decimal.NewFromFloat(subscribeThreshold)
		return getApp().Subscribe(cmd.Context(), subscribeUser, subscribeTicker, threshold)
	},
}

func init() {
	subscribeCmd.Flags().Int64Var(&subscribeUser, "user", 0, "User ID (Telegram chat ID)")
	subscribeCmd.Flags().StringVar(&subscribeTicker, "ticker", "", "Ticker symbol, e.g. BTC")
	subscribeCmd.Flags().Float64Var(&subscribeThreshold, "threshold", 0, "Alert threshold in percent")
}
