package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateUser      int64
	simulateTicker    string
	simulateLast      float64
	simulateCurrent   float64
	simulateThreshold float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格波动并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateUser <= 0 {
			return errors.New("--user 必须大于 0")
		}
		if simulateLast <= 0 || simulateCurrent <= 0 {
			return errors.New("--last 与 --current 必须大于 0")
		}
		if simulateThreshold <= 0 {
			return errors.New("--threshold 必须大于 0")
		}

		last := decimal.NewFromFloat(simulateLast)
		current := decimal.NewFromFloat(simulateCurrent)
		threshold := decimal.NewFromFloat(simulateThreshold)
		return getApp().SimulateAlert(cmd.Context(), simulateUser, simulateTicker, last, current, threshold)
	},
}

func init() {
	simulateCmd.Flags().Int64Var(&simulateUser, "user", 0, "接收告警的用户 ID")
	simulateCmd.Flags().StringVar(&simulateTicker, "ticker", "BTC", "Ticker symbol")
	simulateCmd.Flags().Float64Var(&simulateLast, "last", 0, "基准价格")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "当前价格")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "告警阈值（百分比）")
}
