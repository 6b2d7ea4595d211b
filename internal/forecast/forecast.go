package forecast

import (
	"context"

	"crypto-monitor/internal/storage"
)

// Summary is a generated forecast with the model's self-reported confidence.
type Summary struct {
	Text       string
	Confidence float64
}

// Generator turns recent price history into a short textual forecast.
// Confidence is always within [0,1]. Callers must tolerate failure and
// present a degraded response instead of crashing.
type Generator interface {
	Summarize(ctx context.Context, ticker string, history []storage.PriceSample) (Summary, error)
}

// ScoreAccuracy grades a past forecast against the realized price.
// TODO: compare the forecast's direction against the realized move instead
// of returning the placeholder score.
func ScoreAccuracy(forecastText string, actual storage.PriceSample) float64 {
	return 0.0
}
