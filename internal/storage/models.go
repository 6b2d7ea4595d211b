package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription is a (user, ticker) watch with its alert threshold and the
// rolling comparison baseline. LastPrice stays nil until the first
// observation after subscribing.
type Subscription struct {
	UserID    int64
	Ticker    string
	Threshold decimal.Decimal
	LastPrice *decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PriceSample is an immutable price observation for a ticker.
type PriceSample struct {
	ID         int64
	Ticker     string
	Price      decimal.Decimal
	ObservedAt time.Time
	Source     string
}

// NotificationRecord captures a delivered (or attempted) user notification.
type NotificationRecord struct {
	ID      int64
	UserID  int64
	Ticker  string
	Type    string
	Message string
	SentAt  time.Time
	Status  string
}

// ForecastRecord stores a generated forecast; ActualPrice and AccuracyScore
// are backfilled by the analytics job once the horizon has passed.
type ForecastRecord struct {
	ID            int64
	Ticker        string
	Forecast      string
	Confidence    float64
	CreatedAt     time.Time
	ActualPrice   *decimal.Decimal
	AccuracyScore *float64
}

// TrendSnapshot is the single mutable-in-place row per ticker, overwritten
// each analytics cycle.
type TrendSnapshot struct {
	Ticker    string
	Trend     string
	UpdatedAt time.Time
}
