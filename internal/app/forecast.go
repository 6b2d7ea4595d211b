package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"crypto-monitor/internal/registry"
	"crypto-monitor/internal/storage"
)

// ForecastOptions configure the forecast command.
type ForecastOptions struct {
	Ticker string
	Window time.Duration
}

// Forecast generates a forecast for a ticker from its recent history,
// persists it for later accuracy scoring, and prints it.
func (a *App) Forecast(ctx context.Context, opts ForecastOptions) error {
	generator := a.newForecaster()
	if generator == nil {
		return errors.New("forecast.enabled is false; nothing to generate")
	}

	ticker, err := registry.NormalizeTicker(opts.Ticker)
	if err != nil {
		return err
	}

	window := opts.Window
	if window <= 0 {
		window = 24 * time.Hour
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	history, err := store.ListPriceSamplesSince(ctx, ticker, time.Now().UTC().Add(-window))
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("no price history for %s in the last %s", ticker, window)
	}

	summary, err := generator.Summarize(ctx, ticker, history)
	if err != nil {
		return err
	}

	record := storage.ForecastRecord{
		Ticker:     ticker,
		Forecast:   summary.Text,
		Confidence: summary.Confidence,
		CreatedAt:  time.Now().UTC(),
	}
	id, err := store.InsertForecast(ctx, record)
	if err != nil {
		return err
	}

	trend := "-"
	if snap, err := store.GetTrend(ctx, ticker); err == nil && snap != nil {
		trend = snap.Trend
	}

	fmt.Fprintf(os.Stdout, "forecast #%d for %s (trend: %s, confidence: %.2f)\n\n%s\n", id, ticker, trend, summary.Confidence, summary.Text)
	return nil
}
