package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-monitor/internal/storage"
)

var (
	// ErrDuplicateWatch indicates the (user, ticker) pair is already watched.
	ErrDuplicateWatch = errors.New("registry: watch already exists")
	// ErrWatchNotFound indicates no watch exists for the (user, ticker) pair.
	ErrWatchNotFound = errors.New("registry: watch not found")
	// ErrInvalidTicker indicates the ticker fails format validation.
	ErrInvalidTicker = errors.New("registry: invalid ticker format")
	// ErrInvalidThreshold indicates a non-positive threshold.
	ErrInvalidThreshold = errors.New("registry: threshold must be positive")
)

var tickerPattern = regexp.MustCompile(`^[A-Z]{2,5}$`)

// Registry is the source of truth for who watches what.
type Registry struct {
	store  storage.SubscriptionStore
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Registry over the given store.
func New(store storage.SubscriptionStore, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.With().Str("component", "registry").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeTicker uppercases and validates a ticker symbol.
func NormalizeTicker(raw string) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw))
	if !tickerPattern.MatchString(ticker) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, raw)
	}
	return ticker, nil
}

// Add creates a watch for (userID, ticker) and makes sure the user's
// preference defaults exist. Adding an existing pair fails with
// ErrDuplicateWatch and leaves the existing row untouched.
func (r *Registry) Add(ctx context.Context, userID int64, ticker string, threshold decimal.Decimal) error {
	normalized, err := NormalizeTicker(ticker)
	if err != nil {
		return err
	}
	if !threshold.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidThreshold, threshold.String())
	}

	sub := storage.Subscription{
		UserID:    userID,
		Ticker:    normalized,
		Threshold: threshold,
		CreatedAt: r.now(),
	}
	if err := r.store.InsertSubscription(ctx, sub); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return fmt.Errorf("%w: user %d already watches %s", ErrDuplicateWatch, userID, normalized)
		}
		return err
	}

	// Preference init is best-effort; a failure here must not undo the watch.
	if err := r.store.EnsureUserPreferences(ctx, userID); err != nil {
		r.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to initialise user preferences")
	}

	r.logger.Info().Int64("user_id", userID).Str("ticker", normalized).
		Str("threshold_pct", threshold.String()).Msg("watch added")
	return nil
}

// Remove deletes a watch, failing with ErrWatchNotFound when absent.
func (r *Registry) Remove(ctx context.Context, userID int64, ticker string) error {
	normalized, err := NormalizeTicker(ticker)
	if err != nil {
		return err
	}

	if err := r.store.DeleteSubscription(ctx, userID, normalized); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: user %d does not watch %s", ErrWatchNotFound, userID, normalized)
		}
		return err
	}

	r.logger.Info().Int64("user_id", userID).Str("ticker", normalized).Msg("watch removed")
	return nil
}

// ListByUser returns a user's watches in the store's natural order.
func (r *Registry) ListByUser(ctx context.Context, userID int64) ([]storage.Subscription, error) {
	return r.store.ListSubscriptionsByUser(ctx, userID)
}

// ListAllActive returns the full watch mapping for one polling cycle.
func (r *Registry) ListAllActive(ctx context.Context) ([]storage.Subscription, error) {
	return r.store.ListSubscriptions(ctx)
}

// RemoveIdle reaps watches not touched since the cutoff. Because the
// price-check cycle rolls last_price (and updated_at) for every polled
// watch, this only reaps watches whose polling has genuinely stopped.
func (r *Registry) RemoveIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := r.store.DeleteIdleSubscriptions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("idle watches reaped")
	}
	return removed, nil
}

// UpdateLastPrice rolls the comparison baseline forward for a watch. A watch
// that disappeared mid-cycle surfaces as ErrWatchNotFound so callers can
// treat it as a benign skip.
func (r *Registry) UpdateLastPrice(ctx context.Context, userID int64, ticker string, price decimal.Decimal) error {
	if err := r.store.UpdateSubscriptionPrice(ctx, userID, ticker, price, r.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: user %d / %s", ErrWatchNotFound, userID, ticker)
		}
		return err
	}
	return nil
}
