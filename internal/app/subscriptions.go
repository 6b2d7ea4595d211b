package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"crypto-monitor/internal/registry"
	"crypto-monitor/internal/storage"
)

// Subscribe registers a price watch for a user.
func (a *App) Subscribe(ctx context.Context, userID int64, ticker string, threshold decimal.Decimal) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := registry.New(store, a.Logger)
	if err := reg.Add(ctx, userID, ticker, threshold); err != nil {
		return err
	}

	normalized, _ := registry.NormalizeTicker(ticker)
	fmt.Fprintf(os.Stdout, "subscribed user %d to %s at %s%% threshold\n", userID, normalized, threshold.String())
	return nil
}

// Unsubscribe removes a user's watch for a ticker.
func (a *App) Unsubscribe(ctx context.Context, userID int64, ticker string) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := registry.New(store, a.Logger)
	if err := reg.Remove(ctx, userID, ticker); err != nil {
		return err
	}

	normalized, _ := registry.NormalizeTicker(ticker)
	fmt.Fprintf(os.Stdout, "unsubscribed user %d from %s\n", userID, normalized)
	return nil
}

// ListWatches prints active watches, either for one user or for everyone.
func (a *App) ListWatches(ctx context.Context, userID int64) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := registry.New(store, a.Logger)

	subs, err := listFor(ctx, reg, userID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		fmt.Fprintln(os.Stdout, "no active watches")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "User\tTicker\tThreshold%\tLast Price\tUpdated (UTC)")
	for _, sub := range subs {
		lastPrice := "-"
		if sub.LastPrice != nil {
			lastPrice = sub.LastPrice.StringFixed(2)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\n",
			sub.UserID,
			sub.Ticker,
			sub.Threshold.StringFixed(2),
			lastPrice,
			sub.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func listFor(ctx context.Context, reg *registry.Registry, userID int64) ([]storage.Subscription, error) {
	if userID > 0 {
		return reg.ListByUser(ctx, userID)
	}
	return reg.ListAllActive(ctx)
}
