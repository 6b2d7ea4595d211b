package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"crypto-monitor/internal/alerting"
	"crypto-monitor/internal/fetcher"
	"crypto-monitor/internal/registry"
	"crypto-monitor/internal/storage"
)

const notificationTypePriceAlert = "price_alert"

// Options tune the monitor's windows and horizons.
type Options struct {
	TrendWindow      time.Duration
	ForecastHorizon  time.Duration
	PriceRetention   time.Duration
	NotifyRetention  time.Duration
	IdleSubRetention time.Duration
	ExtraTickers     []string
	AlertsEnabled    bool
}

// Monitor orchestrates the price-check, analytics, and retention jobs.
type Monitor struct {
	registry  *registry.Registry
	source    fetcher.PriceSource
	prices    storage.PriceHistoryStore
	notes     storage.NotificationStore
	forecasts storage.ForecastStore
	trends    storage.TrendStore
	notifier  alerting.Notifier
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time
}

// New constructs the monitoring service.
func New(
	reg *registry.Registry,
	source fetcher.PriceSource,
	prices storage.PriceHistoryStore,
	notes storage.NotificationStore,
	forecasts storage.ForecastStore,
	trends storage.TrendStore,
	notifier alerting.Notifier,
	opts Options,
	logger zerolog.Logger,
) *Monitor {
	if opts.TrendWindow <= 0 {
		opts.TrendWindow = 24 * time.Hour
	}
	if opts.ForecastHorizon <= 0 {
		opts.ForecastHorizon = 24 * time.Hour
	}
	if opts.PriceRetention <= 0 {
		opts.PriceRetention = 30 * 24 * time.Hour
	}
	if opts.NotifyRetention <= 0 {
		opts.NotifyRetention = 90 * 24 * time.Hour
	}
	if opts.IdleSubRetention <= 0 {
		opts.IdleSubRetention = 30 * 24 * time.Hour
	}

	return &Monitor{
		registry:  reg,
		source:    source,
		prices:    prices,
		notes:     notes,
		forecasts: forecasts,
		trends:    trends,
		notifier:  notifier,
		logger:    logger.With().Str("component", "monitor").Logger(),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CheckPrices executes one polling cycle: fetch a quote per active ticker,
// append it to history, evaluate every watcher of that ticker, and deliver
// fired alerts. A failure for one ticker or one watcher is logged and
// skipped; it never aborts the rest of the cycle.
func (m *Monitor) CheckPrices(ctx context.Context) error {
	subs, err := m.registry.ListAllActive(ctx)
	if err != nil {
		return fmt.Errorf("list active watches: %w", err)
	}

	byTicker := make(map[string][]storage.Subscription)
	for _, sub := range subs {
		byTicker[sub.Ticker] = append(byTicker[sub.Ticker], sub)
	}
	for _, ticker := range m.opts.ExtraTickers {
		if _, ok := byTicker[ticker]; !ok {
			byTicker[ticker] = nil
		}
	}

	tickers := make([]string, 0, len(byTicker))
	for ticker := range byTicker {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.checkTicker(ctx, ticker, byTicker[ticker])
	}

	m.logger.Info().Int("tickers", len(tickers)).Int("watches", len(subs)).Msg("price check cycle complete")
	return nil
}

func (m *Monitor) checkTicker(ctx context.Context, ticker string, watchers []storage.Subscription) {
	logger := m.logger.With().Str("ticker", ticker).Logger()

	quote, err := m.source.GetPrice(ctx, ticker)
	if err != nil {
		logger.Error().Err(err).Msg("price fetch failed; skipping ticker")
		return
	}
	if !quote.Price.IsPositive() {
		logger.Warn().Str("price", quote.Price.String()).Msg("non-positive price rejected at ingestion")
		return
	}

	sample := storage.PriceSample{
		Ticker:     ticker,
		Price:      quote.Price,
		ObservedAt: quote.ObservedAt,
		Source:     "api",
	}
	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = m.now()
	}
	if err := m.prices.InsertPriceSample(ctx, sample); err != nil {
		// Evaluation still proceeds: a lost sample must not mute alerts.
		logger.Error().Err(err).Msg("failed to append price sample")
	}

	for _, sub := range watchers {
		m.evaluateWatch(ctx, sub, quote)
	}
}

func (m *Monitor) evaluateWatch(ctx context.Context, sub storage.Subscription, quote fetcher.Quote) {
	logger := m.logger.With().Int64("user_id", sub.UserID).Str("ticker", sub.Ticker).Logger()

	decision := alerting.Evaluate(sub.LastPrice, quote.Price, sub.Threshold)
	if decision.Fire && m.opts.AlertsEnabled {
		message := alerting.RenderAlert(sub.Ticker, decision.ChangePct, quote.Price)

		// "sent" is only recorded after a successful delivery; with no
		// channel configured the record says so.
		status := "skipped"
		if m.notifier != nil {
			status = "sent"
			if err := m.notifier.Send(ctx, sub.UserID, message); err != nil {
				// Delivery failure is not fatal to the cycle.
				logger.Error().Err(err).Msg("alert delivery failed")
				status = "failed"
			}
		}

		record := storage.NotificationRecord{
			UserID:  sub.UserID,
			Ticker:  sub.Ticker,
			Type:    notificationTypePriceAlert,
			Message: message,
			SentAt:  m.now(),
			Status:  status,
		}
		if _, err := m.notes.InsertNotification(ctx, record); err != nil {
			logger.Error().Err(err).Msg("failed to record notification")
		}

		logger.Info().Str("change_pct", decision.ChangePct.StringFixed(2)).
			Str("status", status).Msg("alert fired")
	}

	// The baseline rolls forward whether or not the alert fired.
	if err := m.registry.UpdateLastPrice(ctx, sub.UserID, sub.Ticker, quote.Price); err != nil {
		if errors.Is(err, registry.ErrWatchNotFound) {
			logger.Warn().Msg("watch disappeared mid-cycle; skipping baseline update")
			return
		}
		logger.Error().Err(err).Msg("failed to roll baseline forward")
	}
}
