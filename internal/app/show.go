package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"crypto-monitor/internal/registry"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	Ticker string
	Limit  int
}

// NotificationsOptions configure the notifications command.
type NotificationsOptions struct {
	UserID int64
	Limit  int
}

// Show prints a ticker's recent price samples, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	ticker, err := registry.NormalizeTicker(opts.Ticker)
	if err != nil {
		return err
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	samples, err := store.ListRecentPriceSamples(ctx, ticker, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	trend := "-"
	if snap, err := store.GetTrend(ctx, ticker); err == nil && snap != nil {
		trend = snap.Trend
	}

	fmt.Fprintf(os.Stdout, "%s (trend: %s)\n", ticker, trend)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice\tSource")
	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\n",
			sample.ObservedAt.UTC().Format(time.RFC3339),
			sample.Price.StringFixed(2),
			sample.Source,
		)
	}
	return writer.Flush()
}

// Notifications prints a user's recent notification history.
func (a *App) Notifications(ctx context.Context, opts NotificationsOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.ListNotificationsByUser(ctx, opts.UserID, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no notifications found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sent (UTC)\tTicker\tType\tStatus\tMessage")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			rec.SentAt.UTC().Format(time.RFC3339),
			rec.Ticker,
			rec.Type,
			rec.Status,
			sanitizeInline(rec.Message),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
