package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crypto-monitor/internal/alerting"
	"crypto-monitor/internal/config"
	"crypto-monitor/internal/fetcher"
	"crypto-monitor/internal/forecast"
	"crypto-monitor/internal/registry"
	"crypto-monitor/internal/retry"
	"crypto-monitor/internal/scheduler"
	"crypto-monitor/internal/service"
	"crypto-monitor/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) retryPolicy() retry.Policy {
	r := a.Config.Retry
	return retry.NewPolicy(r.MaxAttempts, r.BaseDelay, r.MaxDelay, r.Jitter)
}

func (a *App) newSource() (fetcher.PriceSource, error) {
	switch a.Config.Market.Provider {
	case "coinmarketcap":
		return fetcher.NewCMC(fetcher.CMCOptions{
			BaseURL:   a.Config.Market.CMC.BaseURL,
			APIKey:    a.Config.Market.CMC.APIKey,
			Timeout:   a.Config.Market.CMC.RequestTimeout,
			UserAgent: a.Config.Market.CMC.UserAgent,
			Retry:     a.retryPolicy(),
		}, a.Logger), nil
	case "onchain":
		return fetcher.NewOnchain(fetcher.OnchainOptions{
			RPCURL:  a.Config.Market.Onchain.RPCURL,
			Feeds:   a.Config.Market.Onchain.Feeds,
			Timeout: a.Config.Market.Onchain.RequestTimeout,
			Retry:   a.retryPolicy(),
		}, a.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported market.provider %q", a.Config.Market.Provider)
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, cfg.Timeout, a.retryPolicy(), a.Logger)
	}
	return nil
}

func (a *App) newForecaster() forecast.Generator {
	if !a.Config.Forecast.Enabled {
		return nil
	}
	cfg := a.Config.Forecast
	return forecast.NewOpenAI(forecast.OpenAIOptions{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Timeout:   cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.retryPolicy())
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore opens the store and fails when the DSN is not configured.
func (a *App) requireStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}
	return store, closeStore, nil
}

func (a *App) newMonitor(store *storage.Store) (*service.Monitor, error) {
	source, err := a.newSource()
	if err != nil {
		return nil, err
	}

	reg := registry.New(store, a.Logger)
	opts := service.Options{
		PriceRetention:   a.Config.Retention.PriceHistory,
		NotifyRetention:  a.Config.Retention.Notifications,
		IdleSubRetention: a.Config.Retention.IdleSubscriptions,
		ExtraTickers:     normalizeTickers(a.Config.Market.Tickers),
		AlertsEnabled:    a.Config.Alerting.Enabled,
	}

	return service.New(reg, source, store, store, store, store, a.newNotifier(), opts, a.Logger), nil
}

// Run executes the long-running monitoring service: the price-check,
// analytics, and retention jobs under one scheduler, until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	monitor, err := a.newMonitor(store)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	sched.Register(scheduler.Job{
		Name:  "price-check",
		Every: a.Config.Scheduler.PriceCheckInterval,
		Run:   monitor.CheckPrices,
	})
	sched.Register(scheduler.Job{
		Name:  "analytics",
		Every: a.Config.Scheduler.AnalyticsInterval,
		Run:   monitor.RefreshAnalytics,
	})
	sched.Register(scheduler.Job{
		Name:  "retention",
		Every: a.Config.Scheduler.RetentionInterval,
		Run:   monitor.PruneHistory,
	})

	a.Logger.Info().Msg("starting monitoring service")
	sched.Start(ctx)

	<-ctx.Done()
	sched.Stop()

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// RunJob executes a single job cycle and exits. Useful for cron-driven
// deployments and for inspecting one cycle's behaviour.
func (a *App) RunJob(ctx context.Context, name string) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	monitor, err := a.newMonitor(store)
	if err != nil {
		return err
	}

	started := time.Now()
	switch name {
	case "price-check":
		err = monitor.CheckPrices(ctx)
	case "analytics":
		err = monitor.RefreshAnalytics(ctx)
	case "retention":
		err = monitor.PruneHistory(ctx)
	default:
		return fmt.Errorf("unknown job %q (expected price-check, analytics, or retention)", name)
	}
	if err != nil {
		return err
	}

	a.Logger.Info().Str("job", name).Dur("elapsed", time.Since(started)).Msg("job cycle complete")
	return nil
}

func normalizeTickers(tickers []string) []string {
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		normalized, err := registry.NormalizeTicker(t)
		if err != nil {
			continue
		}
		out = append(out, normalized)
	}
	return out
}
