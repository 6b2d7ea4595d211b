package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"crypto-monitor/internal/alerting"
	"crypto-monitor/internal/registry"
)

// SimulateAlert 通过给定的基准价/当前价模拟一次告警评估与投递。
func (a *App) SimulateAlert(ctx context.Context, userID int64, ticker string, lastPrice, currentPrice, threshold decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	normalized, err := registry.NormalizeTicker(ticker)
	if err != nil {
		return err
	}

	decision := alerting.Evaluate(&lastPrice, currentPrice, threshold)
	if !decision.Fire {
		fmt.Fprintf(os.Stdout, "change %s%% below threshold %s%%; no alert\n", decision.ChangePct.StringFixed(2), threshold.StringFixed(2))
		return nil
	}

	message := alerting.RenderAlert(normalized, decision.ChangePct, currentPrice)
	if err := notifier.Send(ctx, userID, message); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "alert delivered: %s\n", message)
	return nil
}
