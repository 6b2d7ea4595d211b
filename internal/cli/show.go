package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crypto-monitor/internal/app"
)

var (
	showTicker string
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a ticker's recent price samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showTicker == "" {
			return fmt.Errorf("--ticker is required")
		}
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Ticker: showTicker,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showTicker, "ticker", "", "Ticker symbol, e.g. BTC")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of samples to display")
}
