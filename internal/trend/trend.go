package trend

import (
	"github.com/shopspring/decimal"
)

// Direction is a qualitative price trend.
type Direction string

const (
	Up      Direction = "up"
	Down    Direction = "down"
	Neutral Direction = "neutral"
)

// bandPct is the dead band: first-to-last moves within ±2% read as neutral.
var bandPct = decimal.NewFromInt(2)

var hundred = decimal.NewFromInt(100)

// Classify derives a trend from prices ordered oldest first. It compares the
// first and last observation only; this is deliberately cheap and tolerant
// of mid-window noise. Fewer than two observations read as neutral.
func Classify(prices []decimal.Decimal) Direction {
	if len(prices) < 2 {
		return Neutral
	}

	first := prices[0]
	last := prices[len(prices)-1]
	if !first.IsPositive() {
		return Neutral
	}

	change := last.Sub(first).Div(first).Mul(hundred)
	switch {
	case change.GreaterThan(bandPct):
		return Up
	case change.LessThan(bandPct.Neg()):
		return Down
	default:
		return Neutral
	}
}
