package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crypto-monitor/internal/storage"
)

const forecastPrompt = `You are a professional cryptocurrency analyst. Based on the recent price observations below, provide a short-term (24-hour) forecast for %s. Focus on the key factors that might influence the price movement. Keep the response concise and professional.

Recent observations (oldest first):
%s

Respond with a JSON object: {"forecast": "<2-4 sentence forecast>", "confidence": <number between 0 and 1>}.
Return ONLY the JSON object, no other text.`

// OpenAIOptions parameterise the chat-completions forecast client.
type OpenAIOptions struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// OpenAI generates forecasts through an OpenAI-compatible chat API.
type OpenAI struct {
	opts    OpenAIOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewOpenAI constructs a forecast generator.
func NewOpenAI(opts OpenAIOptions, logger zerolog.Logger) *OpenAI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	if opts.Model == "" {
		opts.Model = "gpt-3.5-turbo"
	}

	return &OpenAI{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "forecast_openai").Logger(),
	}
}

// Summarize asks the model for a forecast over the supplied history.
func (o *OpenAI) Summarize(ctx context.Context, ticker string, history []storage.PriceSample) (Summary, error) {
	if o.opts.APIKey == "" {
		return Summary{}, errors.New("forecast api key not configured")
	}

	var lines []string
	for _, sample := range history {
		lines = append(lines, fmt.Sprintf("- %s: $%s",
			sample.ObservedAt.UTC().Format(time.RFC3339), sample.Price.StringFixed(2)))
	}
	if len(lines) == 0 {
		lines = append(lines, "- (no recorded history)")
	}

	prompt := fmt.Sprintf(forecastPrompt, ticker, strings.Join(lines, "\n"))

	raw, err := o.complete(ctx, prompt)
	if err != nil {
		return Summary{}, err
	}

	summary, err := parseSummary(raw)
	if err != nil {
		return Summary{}, err
	}

	o.logger.Debug().Str("ticker", ticker).Float64("confidence", summary.Confidence).Msg("forecast generated")
	return summary, nil
}

func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": o.opts.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if o.opts.MaxTokens > 0 {
		payload["max_tokens"] = o.opts.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	endpoint := o.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.opts.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("forecast api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payloadBytes)))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payloadBytes, &completion); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}

	return completion.Choices[0].Message.Content, nil
}

func parseSummary(raw string) (Summary, error) {
	raw = strings.TrimSpace(raw)
	// Models wrap JSON in markdown fences despite instructions.
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(raw, "```")
		raw = strings.TrimSpace(raw)
	}

	var parsed struct {
		Forecast   string  `json:"forecast"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Summary{}, fmt.Errorf("parse forecast response: %w", err)
	}
	if parsed.Forecast == "" {
		return Summary{}, errors.New("forecast response missing text")
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Summary{Text: parsed.Forecast, Confidence: confidence}, nil
}

var _ Generator = (*OpenAI)(nil)
