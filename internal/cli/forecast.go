package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crypto-monitor/internal/app"
)

var (
	forecastTicker string
	forecastWindow time.Duration
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Generate and store a price forecast for a ticker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if forecastTicker == "" {
			return fmt.Errorf("--ticker is required")
		}

		opts := app.ForecastOptions{
			Ticker: forecastTicker,
			Window: forecastWindow,
		}

		return getApp().Forecast(cmd.Context(), opts)
	},
}

func init() {
	forecastCmd.Flags().StringVar(&forecastTicker, "ticker", "", "Ticker symbol, e.g. BTC")
	forecastCmd.Flags().DurationVar(&forecastWindow, "window", 24*time.Hour, "History window fed to the model")
}
