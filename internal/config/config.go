package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"crypto-monitor/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Market    MarketConfig    `mapstructure:"market"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Forecast  ForecastConfig  `mapstructure:"forecast"`
	Retention RetentionConfig `mapstructure:"retention"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the cadence of the three background jobs.
type SchedulerConfig struct {
	PriceCheckInterval time.Duration `mapstructure:"price_check_interval"`
	AnalyticsInterval  time.Duration `mapstructure:"analytics_interval"`
	RetentionInterval  time.Duration `mapstructure:"retention_interval"`
	StartupDelay       time.Duration `mapstructure:"startup_delay"`
}

// MarketConfig selects and parameterises the price source.
type MarketConfig struct {
	Provider string        `mapstructure:"provider"`
	Tickers  []string      `mapstructure:"tickers"`
	CMC      CMCConfig     `mapstructure:"cmc"`
	Onchain  OnchainConfig `mapstructure:"onchain"`
}

// CMCConfig captures CoinMarketCap connectivity.
type CMCConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// OnchainConfig covers price feeds read over Ethereum RPC.
type OnchainConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert delivery routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ForecastConfig parameterises the LLM forecast generator.
type ForecastConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RetentionConfig sets the age horizons enforced by the retention job.
type RetentionConfig struct {
	PriceHistory      time.Duration `mapstructure:"price_history"`
	Notifications     time.Duration `mapstructure:"notifications"`
	IdleSubscriptions time.Duration `mapstructure:"idle_subscriptions"`
}

// RetryConfig tunes the shared retry policy for external calls.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRYPTOMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "cryptomon")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.price_check_interval", "5m")
	v.SetDefault("scheduler.analytics_interval", "1h")
	v.SetDefault("scheduler.retention_interval", "24h")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("market.provider", "coinmarketcap")
	v.SetDefault("market.cmc.base_url", "https://pro-api.coinmarketcap.com/v1")
	v.SetDefault("market.cmc.request_timeout", "10s")
	v.SetDefault("market.cmc.user_agent", "cryptomon/1.0")
	v.SetDefault("market.onchain.request_timeout", "10s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("forecast.enabled", false)
	v.SetDefault("forecast.base_url", "https://api.openai.com/v1")
	v.SetDefault("forecast.model", "gpt-3.5-turbo")
	v.SetDefault("forecast.max_tokens", 300)
	v.SetDefault("forecast.request_timeout", "60s")

	v.SetDefault("retention.price_history", "720h")      // 30 days
	v.SetDefault("retention.notifications", "2160h")     // 90 days
	v.SetDefault("retention.idle_subscriptions", "720h") // 30 days

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "2s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.jitter", 0.2)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.PriceCheckInterval <= 0 {
		return fmt.Errorf("scheduler.price_check_interval must be greater than zero")
	}
	if c.Scheduler.AnalyticsInterval <= 0 {
		return fmt.Errorf("scheduler.analytics_interval must be greater than zero")
	}
	if c.Scheduler.RetentionInterval <= 0 {
		return fmt.Errorf("scheduler.retention_interval must be greater than zero")
	}
	if c.Retention.PriceHistory <= 0 || c.Retention.Notifications <= 0 || c.Retention.IdleSubscriptions <= 0 {
		return fmt.Errorf("retention horizons must be greater than zero")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	switch c.Market.Provider {
	case "coinmarketcap", "onchain":
	default:
		return fmt.Errorf("market.provider must be coinmarketcap or onchain, got %q", c.Market.Provider)
	}
	if c.Market.Provider == "onchain" && c.Market.Onchain.RPCURL == "" {
		return fmt.Errorf("market.onchain.rpc_url 必须配置")
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token 必须配置")
	}
	if c.Forecast.Enabled && c.Forecast.APIKey == "" {
		return fmt.Errorf("forecast.api_key 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
