package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crypto-monitor/internal/retry"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	Send(ctx context.Context, userID int64, text string) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	retry    retry.Policy
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, policy retry.Policy, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if policy.MaxAttempts == 0 {
		policy = retry.NewPolicy(3, 2*time.Second, 30*time.Second, 0.2)
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		retry:    policy.WithRetryable(func(error) bool { return true }),
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Send 调用 sendMessage API 推送文本；非 2xx 与传输错误均会重试。
func (n *TelegramNotifier) Send(ctx context.Context, userID int64, text string) error {
	err := n.retry.Do(ctx, func() error {
		return n.sendOnce(ctx, userID, text)
	})
	if err != nil {
		return fmt.Errorf("send telegram message to %d: %w", userID, err)
	}

	n.logger.Info().Int64("user_id", userID).Msg("告警已发送 (Telegram)")
	return nil
}

func (n *TelegramNotifier) sendOnce(ctx context.Context, userID int64, text string) error {
	payload := map[string]any{
		"chat_id":    userID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return errors.New("telegram 返回 ok=false")
	}
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
