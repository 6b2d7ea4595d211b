package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-monitor/internal/retry"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func newTestCMC(baseURL string) *CMC {
	return NewCMC(CMCOptions{
		BaseURL:   baseURL,
		APIKey:    "key",
		Timeout:   time.Second,
		UserAgent: "test",
		Retry:     fastRetry(),
	}, noopLogger())
}

func quotePayload(ticker string, price, change float64) map[string]any {
	return map[string]any{
		"status": map[string]any{"error_code": 0},
		"data": map[string]any{
			ticker: map[string]any{
				"symbol": ticker,
				"quote": map[string]any{
					"USD": map[string]any{
						"price":              price,
						"percent_change_24h": change,
						"last_updated":       "2024-01-02T03:04:05Z",
					},
				},
			},
		},
	}
}

func TestCMCGetPriceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-CMC_PRO_API_KEY") != "key" {
			t.Fatalf("missing api key header")
		}
		if r.URL.Query().Get("symbol") != "BTC" {
			t.Fatalf("unexpected symbol %q", r.URL.Query().Get("symbol"))
		}
		_ = json.NewEncoder(w).Encode(quotePayload("BTC", 42000.5, -1.2))
	}))
	defer srv.Close()

	quote, err := newTestCMC(srv.URL).GetPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("expected success: %v", err)
	}
	if !quote.Price.Equal(decimal.NewFromFloat(42000.5)) {
		t.Fatalf("unexpected price %s", quote.Price.String())
	}
	if quote.ObservedAt.Year() != 2024 {
		t.Fatalf("expected provider timestamp, got %s", quote.ObservedAt)
	}
}

func TestCMCGetPriceUnknownTickerNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": map[string]any{"error_code": 400, "error_message": `Invalid value for "symbol"`},
		})
	}))
	defer srv.Close()

	_, err := newTestCMC(srv.URL).GetPrice(context.Background(), "XXQQ")
	if !errors.Is(err, ErrUnknownTicker) {
		t.Fatalf("expected ErrUnknownTicker, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("unknown ticker must not be retried, got %d calls", calls)
	}
}

func TestCMCGetPriceRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestCMC(srv.URL).GetPrice(context.Background(), "BTC")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after retries, got %v", err)
	}
}

func TestCMCGetPriceRecoversFromServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(quotePayload("BTC", 100, 0))
	}))
	defer srv.Close()

	quote, err := newTestCMC(srv.URL).GetPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
	if !quote.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected price %s", quote.Price.String())
	}
}

func TestCMCGetPriceRejectsNonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(quotePayload("BTC", 0, 0))
	}))
	defer srv.Close()

	_, err := newTestCMC(srv.URL).GetPrice(context.Background(), "BTC")
	if !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestCMCGetPriceMissingAPIKey(t *testing.T) {
	c := NewCMC(CMCOptions{BaseURL: "http://localhost", Retry: fastRetry()}, noopLogger())
	if _, err := c.GetPrice(context.Background(), "BTC"); err == nil {
		t.Fatal("missing api key should fail")
	}
}
