package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-monitor/internal/retry"
)

const cmcQuotesPath = "/cryptocurrency/quotes/latest"

// CMCOptions parameterise the CoinMarketCap fetcher.
type CMCOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	Retry     retry.Policy
}

// CMC fetches quotes from the CoinMarketCap API.
type CMC struct {
	opts    CMCOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	retry   retry.Policy
}

// NewCMC constructs a CoinMarketCap fetcher.
func NewCMC(opts CMCOptions, logger zerolog.Logger) *CMC {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://pro-api.coinmarketcap.com/v1"
	}

	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.NewPolicy(3, 2*time.Second, 30*time.Second, 0.2)
	}
	policy = policy.WithRetryable(isRetryableFetch)

	return &CMC{
		opts:    opts,
		logger:  logger.With().Str("component", "cmc_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		retry:   policy,
	}
}

// GetPrice retrieves the latest USD quote for a ticker. Transient provider
// failures are retried in here; unknown tickers surface immediately.
func (c *CMC) GetPrice(ctx context.Context, ticker string) (Quote, error) {
	if c.opts.APIKey == "" {
		return Quote{}, errors.New("cmc api key not configured")
	}

	var quote Quote
	err := c.retry.Do(ctx, func() error {
		var fetchErr error
		quote, fetchErr = c.fetchOnce(ctx, ticker)
		return fetchErr
	})
	if err != nil {
		return Quote{}, err
	}

	if !quote.Price.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %s for %s", ErrInvalidPrice, quote.Price.String(), ticker)
	}
	return quote, nil
}

func (c *CMC) fetchOnce(ctx context.Context, ticker string) (Quote, error) {
	endpoint := fmt.Sprintf("%s%s?symbol=%s", c.baseURL, cmcQuotesPath, ticker)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("X-CMC_PRO_API_KEY", c.opts.APIKey)
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Quote{}, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest:
		return Quote{}, fmt.Errorf("%w: %s (%s)", ErrUnknownTicker, ticker, errorMessage(payload))
	case resp.StatusCode != http.StatusOK:
		return Quote{}, newStatusError(resp.StatusCode, payload)
	}

	var quoteRes quotesResponse
	if err := json.Unmarshal(payload, &quoteRes); err != nil {
		return Quote{}, fmt.Errorf("decode cmc response: %w", err)
	}

	entry, ok := quoteRes.Data[ticker]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s missing from response", ErrUnknownTicker, ticker)
	}

	price := decimal.NewFromFloat(entry.Quote.USD.Price)
	change := decimal.NewFromFloat(entry.Quote.USD.PercentChange24h)

	observed := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, entry.Quote.USD.LastUpdated); err == nil {
		observed = ts.UTC()
	}

	return Quote{Price: price, PercentChange24h: change, ObservedAt: observed}, nil
}

type quotesResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data map[string]struct {
		Symbol string `json:"symbol"`
		Quote  struct {
			USD struct {
				Price            float64 `json:"price"`
				PercentChange24h float64 `json:"percent_change_24h"`
				LastUpdated      string  `json:"last_updated"`
			} `json:"USD"`
		} `json:"quote"`
	} `json:"data"`
}

// statusError marks non-2xx provider responses so the retry predicate can
// distinguish server-side faults from caller mistakes.
type statusError struct {
	status int
	detail string
}

func newStatusError(status int, payload []byte) *statusError {
	return &statusError{status: status, detail: errorMessage(payload)}
}

func (e *statusError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("cmc api error (%d): %s", e.status, e.detail)
	}
	return fmt.Sprintf("cmc api error (%d)", e.status)
}

func errorMessage(payload []byte) string {
	var res quotesResponse
	if err := json.Unmarshal(payload, &res); err == nil && res.Status.ErrorMessage != "" {
		return res.Status.ErrorMessage
	}
	return strings.TrimSpace(string(payload))
}

// isRetryableFetch retries transport faults, 5xx responses, and rate limits;
// unknown tickers and other 4xx responses surface immediately.
func isRetryableFetch(err error) bool {
	if errors.Is(err, ErrUnknownTicker) || errors.Is(err, ErrInvalidPrice) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	return retry.IsTransient(err)
}

var _ PriceSource = (*CMC)(nil)
