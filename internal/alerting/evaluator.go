package alerting

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Decision is the outcome of evaluating one price observation against a
// watch. The caller rolls the baseline forward regardless of Fire: alerts
// always measure against the previous sample, never the subscription price,
// so consecutive sub-threshold moves do not accumulate.
type Decision struct {
	Fire      bool
	ChangePct decimal.Decimal
}

// Evaluate applies the rolling-threshold policy. A nil baseline is the first
// observation after subscribing: it seeds the comparison and never fires.
// Callers must reject non-positive prices before calling.
func Evaluate(last *decimal.Decimal, current, threshold decimal.Decimal) Decision {
	if last == nil {
		return Decision{}
	}

	change := current.Sub(*last).Div(*last).Mul(hundred).Abs()
	return Decision{
		Fire:      change.GreaterThanOrEqual(threshold),
		ChangePct: change,
	}
}

// RenderAlert formats the user-facing alert message.
func RenderAlert(ticker string, changePct, current decimal.Decimal) string {
	return fmt.Sprintf("Price alert for %s: %s%% change (Current: $%s)",
		ticker, changePct.StringFixed(2), current.StringFixed(2))
}
