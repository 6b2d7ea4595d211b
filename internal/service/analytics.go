package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"crypto-monitor/internal/forecast"
	"crypto-monitor/internal/storage"
	"crypto-monitor/internal/trend"
)

// RefreshAnalytics runs the hourly analytics job: score forecasts whose
// horizon has passed, then recompute the trend snapshot for every ticker
// with at least one active watch. Failures are isolated per forecast and
// per ticker.
func (m *Monitor) RefreshAnalytics(ctx context.Context) error {
	m.backfillForecastScores(ctx)
	return m.refreshTrends(ctx)
}

// backfillForecastScores realizes the post-horizon price for unscored
// forecasts and commits an accuracy score. Committing the score, even the
// placeholder, keeps the backfill idempotent: scored rows never reappear.
func (m *Monitor) backfillForecastScores(ctx context.Context) {
	cutoff := m.now().Add(-m.opts.ForecastHorizon)
	pending, err := m.forecasts.ListUnscoredForecasts(ctx, cutoff)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list unscored forecasts")
		return
	}

	scored := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return
		}

		actual := rec.ActualPrice
		if actual == nil {
			sample, err := m.prices.FirstPriceSampleAfter(ctx, rec.Ticker, rec.CreatedAt.Add(m.opts.ForecastHorizon))
			if err != nil {
				m.logger.Error().Err(err).Int64("forecast_id", rec.ID).Msg("failed to realize forecast price")
				continue
			}
			if sample == nil {
				// No observation past the horizon yet; retry next cycle.
				continue
			}
			actual = &sample.Price
		}

		score := forecast.ScoreAccuracy(rec.Forecast, storage.PriceSample{Ticker: rec.Ticker, Price: *actual})
		if err := m.forecasts.UpdateForecastOutcome(ctx, rec.ID, *actual, score); err != nil {
			m.logger.Error().Err(err).Int64("forecast_id", rec.ID).Msg("failed to commit forecast score")
			continue
		}
		scored++
	}

	if len(pending) > 0 {
		m.logger.Info().Int("pending", len(pending)).Int("scored", scored).Msg("forecast accuracy backfill complete")
	}
}

func (m *Monitor) refreshTrends(ctx context.Context) error {
	subs, err := m.registry.ListAllActive(ctx)
	if err != nil {
		return fmt.Errorf("list active watches: %w", err)
	}

	seen := make(map[string]bool)
	for _, sub := range subs {
		seen[sub.Ticker] = true
	}

	since := m.now().Add(-m.opts.TrendWindow)
	for ticker := range seen {
		if err := ctx.Err(); err != nil {
			return err
		}

		samples, err := m.prices.ListPriceSamplesSince(ctx, ticker, since)
		if err != nil {
			m.logger.Error().Err(err).Str("ticker", ticker).Msg("failed to load trend window")
			continue
		}

		prices := make([]decimal.Decimal, len(samples))
		for i, sample := range samples {
			prices[i] = sample.Price
		}

		snap := storage.TrendSnapshot{
			Ticker:    ticker,
			Trend:     string(trend.Classify(prices)),
			UpdatedAt: m.now(),
		}
		if err := m.trends.UpsertTrend(ctx, snap); err != nil {
			m.logger.Error().Err(err).Str("ticker", ticker).Msg("failed to upsert trend snapshot")
			continue
		}
	}

	m.logger.Info().Int("tickers", len(seen)).Msg("trend refresh complete")
	return nil
}
