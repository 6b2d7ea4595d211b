package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownTicker indicates the provider does not know the symbol.
	ErrUnknownTicker = errors.New("fetcher: unknown ticker")
	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("fetcher: rate limited")
	// ErrInvalidPrice indicates the provider returned a non-positive price.
	ErrInvalidPrice = errors.New("fetcher: non-positive price")
)

// Quote is a single price observation for a ticker.
type Quote struct {
	Price            decimal.Decimal
	PercentChange24h decimal.Decimal
	ObservedAt       time.Time
}

// PriceSource retrieves the current quote for a ticker from an external
// market-data provider. Implementations own provider-specific auth and retry.
type PriceSource interface {
	GetPrice(ctx context.Context, ticker string) (Quote, error)
}
