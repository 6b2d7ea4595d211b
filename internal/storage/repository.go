package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const (
	insertSubscriptionSQL = `INSERT INTO subscriptions (
        user_id,
        ticker,
        threshold,
        last_price,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,NULL,$4,$4
    );`

	deleteSubscriptionSQL = `DELETE FROM subscriptions
    WHERE user_id = $1 AND ticker = $2;`

	listSubscriptionsByUserSQL = `SELECT
        user_id, ticker, threshold, last_price, created_at, updated_at
    FROM subscriptions
    WHERE user_id = $1;`

	listSubscriptionsSQL = `SELECT
        user_id, ticker, threshold, last_price, created_at, updated_at
    FROM subscriptions;`

	updateSubscriptionPriceSQL = `UPDATE subscriptions
    SET last_price = $3, updated_at = $4
    WHERE user_id = $1 AND ticker = $2;`

	deleteIdleSubscriptionsSQL = `DELETE FROM subscriptions WHERE updated_at < $1;`

	ensureUserPreferencesSQL = `INSERT INTO user_preferences (
        user_id, default_currency, notification_enabled, notification_timezone
    ) VALUES (
        $1,'USD',TRUE,'UTC'
    )
    ON CONFLICT (user_id) DO NOTHING;`

	insertPriceSampleSQL = `INSERT INTO price_history (
        ticker, price, observed_at, source
    ) VALUES (
        $1,$2,$3,$4
    );`

	listPriceSamplesSinceSQL = `SELECT id, ticker, price, observed_at, source
    FROM price_history
    WHERE ticker = $1 AND observed_at >= $2
    ORDER BY observed_at;`

	firstPriceSampleAfterSQL = `SELECT id, ticker, price, observed_at, source
    FROM price_history
    WHERE ticker = $1 AND observed_at >= $2
    ORDER BY observed_at
    LIMIT 1;`

	listPriceSamplesBetweenSQL = `SELECT id, ticker, price, observed_at, source
    FROM price_history
    WHERE ticker = $1 AND observed_at >= $2 AND observed_at < $3
    ORDER BY observed_at;`

	listRecentPriceSamplesSQL = `SELECT id, ticker, price, observed_at, source
    FROM price_history
    WHERE ticker = $1
    ORDER BY observed_at DESC
    LIMIT $2;`

	deletePriceSamplesBeforeSQL = `DELETE FROM price_history WHERE observed_at < $1;`

	insertNotificationSQL = `INSERT INTO notification_logs (
        user_id, ticker, notification_type, message, sent_at, status
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    ) RETURNING id;`

	listNotificationsByUserSQL = `SELECT
        id, user_id, ticker, notification_type, message, sent_at, status
    FROM notification_logs
    WHERE user_id = $1
    ORDER BY sent_at DESC
    LIMIT $2;`

	deleteNotificationsBeforeSQL = `DELETE FROM notification_logs WHERE sent_at < $1;`

	insertForecastSQL = `INSERT INTO forecast_history (
        ticker, forecast, confidence_score, created_at, actual_price, accuracy_score
    ) VALUES (
        $1,$2,$3,$4,NULL,NULL
    ) RETURNING id;`

	listUnscoredForecastsSQL = `SELECT
        id, ticker, forecast, confidence_score, created_at, actual_price, accuracy_score
    FROM forecast_history
    WHERE accuracy_score IS NULL AND created_at < $1
    ORDER BY created_at;`

	updateForecastOutcomeSQL = `UPDATE forecast_history
    SET actual_price = $2, accuracy_score = $3
    WHERE id = $1;`

	upsertTrendSQL = `INSERT INTO price_trends (
        ticker, trend, updated_at
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (ticker) DO UPDATE
    SET trend = EXCLUDED.trend, updated_at = EXCLUDED.updated_at;`

	getTrendSQL = `SELECT ticker, trend, updated_at
    FROM price_trends
    WHERE ticker = $1;`
)

// SubscriptionStore defines persistence for watch records.
type SubscriptionStore interface {
	InsertSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, userID int64, ticker string) error
	ListSubscriptionsByUser(ctx context.Context, userID int64) ([]Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	UpdateSubscriptionPrice(ctx context.Context, userID int64, ticker string, price decimal.Decimal, at time.Time) error
	DeleteIdleSubscriptions(ctx context.Context, cutoff time.Time) (int64, error)
	EnsureUserPreferences(ctx context.Context, userID int64) error
}

// PriceHistoryStore defines persistence for price samples.
type PriceHistoryStore interface {
	InsertPriceSample(ctx context.Context, sample PriceSample) error
	ListPriceSamplesSince(ctx context.Context, ticker string, since time.Time) ([]PriceSample, error)
	FirstPriceSampleAfter(ctx context.Context, ticker string, after time.Time) (*PriceSample, error)
	DeletePriceSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationStore defines persistence for notification records.
type NotificationStore interface {
	InsertNotification(ctx context.Context, rec NotificationRecord) (int64, error)
	ListNotificationsByUser(ctx context.Context, userID int64, limit int) ([]NotificationRecord, error)
	DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ForecastStore defines persistence for forecast records.
type ForecastStore interface {
	InsertForecast(ctx context.Context, rec ForecastRecord) (int64, error)
	ListUnscoredForecasts(ctx context.Context, createdBefore time.Time) ([]ForecastRecord, error)
	UpdateForecastOutcome(ctx context.Context, id int64, actual decimal.Decimal, accuracy float64) error
}

// TrendStore defines persistence for the per-ticker trend snapshot.
type TrendStore interface {
	UpsertTrend(ctx context.Context, snap TrendSnapshot) error
	GetTrend(ctx context.Context, ticker string) (*TrendSnapshot, error)
}

// InsertSubscription creates a watch row; a second row for the same
// (user, ticker) pair maps to ErrDuplicate.
func (s *Store) InsertSubscription(ctx context.Context, sub Subscription) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	execErr := s.withRetry(ctx, func() error {
		_, err := pool.Exec(ctx, insertSubscriptionSQL,
			sub.UserID, sub.Ticker, sub.Threshold.String(), sub.CreatedAt)
		return err
	})
	if execErr != nil {
		if isUniqueViolation(execErr) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert subscription: %w", execErr)
	}
	return nil
}

// DeleteSubscription removes a watch row, reporting ErrNotFound when absent.
func (s *Store) DeleteSubscription(ctx context.Context, userID int64, ticker string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var tag pgconn.CommandTag
	execErr := s.withRetry(ctx, func() error {
		var err error
		tag, err = pool.Exec(ctx, deleteSubscriptionSQL, userID, ticker)
		return err
	})
	if execErr != nil {
		return fmt.Errorf("delete subscription: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSubscriptionsByUser lists a single user's watches.
func (s *Store) ListSubscriptionsByUser(ctx context.Context, userID int64) ([]Subscription, error) {
	return s.querySubscriptions(ctx, listSubscriptionsByUserSQL, userID)
}

// ListSubscriptions lists every watch; this is the full mapping the
// price-check cycle iterates.
func (s *Store) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	return s.querySubscriptions(ctx, listSubscriptionsSQL)
}

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var subs []Subscription
	queryErr := s.withRetry(ctx, func() error {
		rows, err := pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		subs = subs[:0]
		for rows.Next() {
			sub, err := scanSubscription(rows)
			if err != nil {
				return err
			}
			subs = append(subs, sub)
		}
		return rows.Err()
	})
	if queryErr != nil {
		return nil, fmt.Errorf("list subscriptions: %w", queryErr)
	}
	return subs, nil
}

// UpdateSubscriptionPrice rolls the comparison baseline forward. ErrNotFound
// signals the watch vanished mid-cycle (concurrent unsubscribe).
func (s *Store) UpdateSubscriptionPrice(ctx context.Context, userID int64, ticker string, price decimal.Decimal, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var tag pgconn.CommandTag
	execErr := s.withRetry(ctx, func() error {
		var err error
		tag, err = pool.Exec(ctx, updateSubscriptionPriceSQL, userID, ticker, price.String(), at)
		return err
	})
	if execErr != nil {
		return fmt.Errorf("update subscription price: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteIdleSubscriptions reaps watches whose updated_at is strictly older
// than the cutoff. A watch touched exactly at the cutoff survives.
func (s *Store) DeleteIdleSubscriptions(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, deleteIdleSubscriptionsSQL, cutoff, "delete idle subscriptions")
}

// EnsureUserPreferences creates the per-user defaults row if absent.
func (s *Store) EnsureUserPreferences(ctx context.Context, userID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	execErr := s.withRetry(ctx, func() error {
		_, err := pool.Exec(ctx, ensureUserPreferencesSQL, userID)
		return err
	})
	if execErr != nil {
		return fmt.Errorf("ensure user preferences: %w", execErr)
	}
	return nil
}

// InsertPriceSample appends an immutable price observation.
func (s *Store) InsertPriceSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	execErr := s.withRetry(ctx, func() error {
		_, err := pool.Exec(ctx, insertPriceSampleSQL,
			sample.Ticker, sample.Price.String(), sample.ObservedAt, sample.Source)
		return err
	})
	if execErr != nil {
		return fmt.Errorf("insert price sample: %w", execErr)
	}
	return nil
}

// ListPriceSamplesSince lists a ticker's samples in observation order.
func (s *Store) ListPriceSamplesSince(ctx context.Context, ticker string, since time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var samples []PriceSample
	queryErr := s.withRetry(ctx, func() error {
		rows, err := pool.Query(ctx, listPriceSamplesSinceSQL, ticker, since)
		if err != nil {
			return err
		}
		defer rows.Close()

		samples = samples[:0]
		for rows.Next() {
			sample, err := scanPriceSample(rows)
			if err != nil {
				return err
			}
			samples = append(samples, sample)
		}
		return rows.Err()
	})
	if queryErr != nil {
		return nil, fmt.Errorf("list price samples: %w", queryErr)
	}
	return samples, nil
}

// FirstPriceSampleAfter returns the earliest sample at or after the given
// time, or nil when none exists yet.
func (s *Store) FirstPriceSampleAfter(ctx context.Context, ticker string, after time.Time) (*PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var sample *PriceSample
	queryErr := s.withRetry(ctx, func() error {
		rows, err := pool.Query(ctx, firstPriceSampleAfterSQL, ticker, after)
		if err != nil {
			return err
		}
		defer rows.Close()

		sample = nil
		if rows.Next() {
			scanned, err := scanPriceSample(rows)
			if err != nil {
				return err
			}
			sample = &scanned
		}
		return rows.Err()
	})
	if queryErr != nil {
		return nil, fmt.Errorf("first price sample after: %w", queryErr)
	}
	return sample, nil
}

// ListPriceSamplesBetween lists a ticker's samples in [from, to), oldest
// first. Used by the export command.
func (s *Store) ListPriceSamplesBetween(ctx context.Context, ticker string, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var samples []PriceSample
	queryErr := s.withRetry(ctx, func() error {
		rows, err := pool.Query(ctx, listPriceSamplesBetweenSQL, ticker, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()

		samples = samples[:0]
		for rows.Next() {
			sample, err := scanPriceSample(rows)
			if err != nil {
				return err
			}
			samples = append(samples, sample)
		}
		return rows.Err()
	})
	if queryErr != nil {
		return nil, fmt.Errorf("list price samples between: %w", queryErr)
	}
	return samples, nil
}

// ListRecentPriceSamples returns a ticker's newest samples, newest first.
func (s *Store) ListRecentPriceSamples(ctx context.Context, ticker string, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var samples []PriceSample
	queryErr := s.withRetry(ctx, func() error {
		rows, err := pool.Query(ctx, listRecentPriceSamplesSQL, ticker, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		samples = samples[:0]
		for rows.Next() {
			sample, err := scanPriceSample(rows)
			if err != nil {
				return err
			}
			samples = append(samples, sample)
		}
		return rows.Err()
	})
	if queryErr != nil {
		return nil, fmt.Errorf("list recent price samples: %w", queryErr)
	}
	return samples, nil
}

// DeletePriceSamplesBefore prunes samples strictly older than the cutoff.
func (s *Store) DeletePriceSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, deletePriceSamplesBeforeSQL, cutoff, "delete price samples")
}

// InsertNotification appends a notification record and returns its id.
func (s *Store) InsertNotification(ctx context.Context, rec NotificationRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	execErr := s.withRetry(ctx, func() error {
		return pool.QueryRow(ctx, insertNotificationSQL,
			rec.UserID, rec.Ticker, rec.Type, rec.Message, rec.SentAt, rec.Status).Scan(&id)
	})
	if execErr != nil {
		return 0, fmt.Errorf("insert notification: %w", execErr)
	}
	return id, nil
}

// ListNotificationsByUser lists a user's most recent notifications.
func (s *Store) ListNotificationsByUser(ctx context.Context, userID int64, limit int) ([]NotificationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var records []NotificationRecord
	queryErr := s.withRetry(ctx, func() error {
		rows, err := pool.Query(ctx, listNotificationsByUserSQL, userID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			var rec NotificationRecord
			if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Ticker, &rec.Type, &rec.Message, &rec.SentAt, &rec.Status); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if queryErr != nil {
		return nil, fmt.Errorf("list notifications: %w", queryErr)
	}
	return records, nil
}

// DeleteNotificationsBefore prunes records strictly older than the cutoff.
func (s *Store) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, deleteNotificationsBeforeSQL, cutoff, "delete notifications")
}

// InsertForecast appends a forecast record and returns its id.
func (s *Store) InsertForecast(ctx context.Context, rec ForecastRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	execErr := s.withRetry(ctx, func() error {
		return pool.QueryRow(ctx, insertForecastSQL,
			rec.Ticker, rec.Forecast, rec.Confidence, rec.CreatedAt).Scan(&id)
	})
	if execErr != nil {
		return 0, fmt.Errorf("insert forecast: %w", execErr)
	}
	return id, nil
}

// ListUnscoredForecasts lists forecasts awaiting an accuracy score.
func (s *Store) ListUnscoredForecasts(ctx context.Context, createdBefore time.Time) ([]ForecastRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var records []ForecastRecord
	queryErr := s.withRetry(ctx, func() error {
		rows, err := pool.Query(ctx, listUnscoredForecastsSQL, createdBefore)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			rec, err := scanForecast(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if queryErr != nil {
		return nil, fmt.Errorf("list unscored forecasts: %w", queryErr)
	}
	return records, nil
}

// UpdateForecastOutcome commits the realized price and accuracy score; the
// row stops matching the unscored query afterwards, keeping the backfill
// idempotent.
func (s *Store) UpdateForecastOutcome(ctx context.Context, id int64, actual decimal.Decimal, accuracy float64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var tag pgconn.CommandTag
	execErr := s.withRetry(ctx, func() error {
		var err error
		tag, err = pool.Exec(ctx, updateForecastOutcomeSQL, id, actual.String(), accuracy)
		return err
	})
	if execErr != nil {
		return fmt.Errorf("update forecast outcome: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertTrend overwrites the single trend row for a ticker.
func (s *Store) UpsertTrend(ctx context.Context, snap TrendSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	execErr := s.withRetry(ctx, func() error {
		_, err := pool.Exec(ctx, upsertTrendSQL, snap.Ticker, snap.Trend, snap.UpdatedAt)
		return err
	})
	if execErr != nil {
		return fmt.Errorf("upsert trend: %w", execErr)
	}
	return nil
}

// GetTrend returns the current trend snapshot for a ticker, or nil.
func (s *Store) GetTrend(ctx context.Context, ticker string) (*TrendSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var snap *TrendSnapshot
	queryErr := s.withRetry(ctx, func() error {
		var rec TrendSnapshot
		err := pool.QueryRow(ctx, getTrendSQL, ticker).Scan(&rec.Ticker, &rec.Trend, &rec.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			snap = nil
			return nil
		}
		if err != nil {
			return err
		}
		snap = &rec
		return nil
	})
	if queryErr != nil {
		return nil, fmt.Errorf("get trend: %w", queryErr)
	}
	return snap, nil
}

func (s *Store) deleteBefore(ctx context.Context, query string, cutoff time.Time, op string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var tag pgconn.CommandTag
	execErr := s.withRetry(ctx, func() error {
		var err error
		tag, err = pool.Exec(ctx, query, cutoff)
		return err
	})
	if execErr != nil {
		return 0, fmt.Errorf("%s: %w", op, execErr)
	}
	return tag.RowsAffected(), nil
}

func scanSubscription(rows pgx.Rows) (Subscription, error) {
	var (
		sub          Subscription
		thresholdStr string
		lastPrice    sql.NullString
	)

	if err := rows.Scan(&sub.UserID, &sub.Ticker, &thresholdStr, &lastPrice, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return Subscription{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return Subscription{}, fmt.Errorf("parse threshold: %w", err)
	}
	sub.Threshold = threshold

	if lastPrice.Valid {
		price, err := decimal.NewFromString(lastPrice.String)
		if err != nil {
			return Subscription{}, fmt.Errorf("parse last price: %w", err)
		}
		sub.LastPrice = &price
	}

	return sub, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		sample   PriceSample
		priceStr string
	)

	if err := rows.Scan(&sample.ID, &sample.Ticker, &priceStr, &sample.ObservedAt, &sample.Source); err != nil {
		return PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	sample.Price = price

	return sample, nil
}

func scanForecast(rows pgx.Rows) (ForecastRecord, error) {
	var (
		rec      ForecastRecord
		actual   sql.NullString
		accuracy sql.NullFloat64
	)

	if err := rows.Scan(&rec.ID, &rec.Ticker, &rec.Forecast, &rec.Confidence, &rec.CreatedAt, &actual, &accuracy); err != nil {
		return ForecastRecord{}, err
	}

	if actual.Valid {
		price, err := decimal.NewFromString(actual.String)
		if err != nil {
			return ForecastRecord{}, fmt.Errorf("parse actual price: %w", err)
		}
		rec.ActualPrice = &price
	}
	if accuracy.Valid {
		score := accuracy.Float64
		rec.AccuracyScore = &score
	}

	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ SubscriptionStore = (*Store)(nil)
	_ PriceHistoryStore = (*Store)(nil)
	_ NotificationStore = (*Store)(nil)
	_ ForecastStore     = (*Store)(nil)
	_ TrendStore        = (*Store)(nil)
)
