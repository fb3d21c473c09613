// Package config loads and validates the application configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	App       AppConfig       `envPrefix:"APP_"`
	Rules     RulesConfig     `envPrefix:"RULES_"`
	Window    WindowConfig    `envPrefix:"WINDOW_"`
	Fetch     FetchConfig     `envPrefix:"FETCH_"`
	Pool      PoolConfig      `envPrefix:"POOL_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Kafka     KafkaConfig     `envPrefix:"KAFKA_"`
	QuestDB   QuestDBConfig   `envPrefix:"QUESTDB_"`
	DingTalk  DingTalkConfig  `envPrefix:"DINGTALK_"`
	Calendar  CalendarConfig  `envPrefix:"CALENDAR_"`
	JoinQuant JoinQuantConfig `envPrefix:"JOINQUANT_"`
}

// AppConfig represents the application identity and runtime surface.
type AppConfig struct {
	Name        string `env:"NAME" envDefault:"limit-down-monitor"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// RulesConfig holds the trigger-rule thresholds.
type RulesConfig struct {
	AskDropThreshold float64 `env:"ASK_DROP_THRESHOLD" envDefault:"0.3"`
	MinAbsDeltaAsk   int64   `env:"MIN_ABS_DELTA_ASK" envDefault:"0"`
	ConfirmMinutes   int     `env:"CONFIRM_MINUTES" envDefault:"1"`
}

// WindowConfig holds the trading-day schedule, all values HH:MM local time.
type WindowConfig struct {
	PreopenScan     string `env:"PREOPEN_SCAN" envDefault:"09:26"`
	LiveStart       string `env:"LIVE_START" envDefault:"13:00"`
	LiveEnd         string `env:"LIVE_END" envDefault:"15:00"`
	PollIntervalSec int    `env:"POLL_INTERVAL_SEC" envDefault:"3"`
}

// FetchConfig bounds the live quote fetch layer.
type FetchConfig struct {
	BaseURL     string `env:"BASE_URL" envDefault:"https://push2.eastmoney.com"`
	Concurrency int    `env:"CONCURRENCY" envDefault:"8"`
	MaxRetries  int    `env:"MAX_RETRIES" envDefault:"3"`
	TimeoutSec  int    `env:"TIMEOUT_SEC" envDefault:"5"`
}

// PoolConfig controls the daily pool cache and its failover behaviour.
// FailoverMode "cache" serves a stale cached pool when the live build fails;
// "none" propagates the failure.
type PoolConfig struct {
	UniverseBaseURL string `env:"UNIVERSE_BASE_URL" envDefault:"https://quote.eastmoney.com/api"`
	TimeoutSec      int    `env:"TIMEOUT_SEC" envDefault:"10"`
	CacheKey        string `env:"CACHE_KEY" envDefault:"limit_down:pool"`
	CacheTTLHrs     int    `env:"CACHE_TTL_HOURS" envDefault:"18"`
	FailoverMode    string `env:"FAILOVER_MODE" envDefault:"cache"`
}

// RedisConfig represents the Redis connection used by the pool cache.
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB" envDefault:"0"`
}

// KafkaConfig represents the alert stream publisher configuration.
type KafkaConfig struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"TOPIC" envDefault:"limit-down-alerts"`
}

// QuestDBConfig represents the alert archive connection (pgwire).
type QuestDBConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"8812"`
	User     string `env:"USER" envDefault:"admin"`
	Password string `env:"PASSWORD" envDefault:"quest"`
	Database string `env:"DATABASE" envDefault:"qdb"`
}

// DingTalkConfig represents the messaging webhook sink.
type DingTalkConfig struct {
	Enabled    bool   `env:"ENABLED" envDefault:"false"`
	WebhookURL string `env:"WEBHOOK_URL" envDefault:""`
	Keyword    string `env:"KEYWORD" envDefault:"封单异动"`
	TimeoutSec int    `env:"TIMEOUT_SEC" envDefault:"5"`
}

// CalendarConfig represents the trading-calendar lookup endpoint.
type CalendarConfig struct {
	BaseURL    string `env:"BASE_URL" envDefault:"https://www.jiucaigongshe.com/api"`
	TimeoutSec int    `env:"TIMEOUT_SEC" envDefault:"5"`
}

// JoinQuantConfig represents the historical minute-bar provider credentials.
type JoinQuantConfig struct {
	BaseURL  string `env:"BASE_URL" envDefault:"https://dataapi.joinquant.com/apis"`
	Username string `env:"USERNAME" envDefault:""`
	Password string `env:"PASSWORD" envDefault:""`
}

// Load loads the configuration from the environment and validates it.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate fails fast on contradictory or out-of-range settings so no
// evaluation ever starts on a broken configuration.
func (c *Config) Validate() error {
	if c.Rules.AskDropThreshold <= 0 || c.Rules.AskDropThreshold >= 1 {
		return fmt.Errorf("rules: ask drop threshold %v must be in (0, 1)", c.Rules.AskDropThreshold)
	}
	if c.Rules.MinAbsDeltaAsk < 0 {
		return fmt.Errorf("rules: min abs delta ask %d must not be negative", c.Rules.MinAbsDeltaAsk)
	}
	if c.Rules.ConfirmMinutes < 1 || c.Rules.ConfirmMinutes > 20 {
		return fmt.Errorf("rules: confirm minutes %d must be in [1, 20]", c.Rules.ConfirmMinutes)
	}

	start, err := clockMinutes(c.Window.LiveStart)
	if err != nil {
		return fmt.Errorf("window: live start: %w", err)
	}
	end, err := clockMinutes(c.Window.LiveEnd)
	if err != nil {
		return fmt.Errorf("window: live end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("window: live end %s must be after start %s", c.Window.LiveEnd, c.Window.LiveStart)
	}
	if _, err := clockMinutes(c.Window.PreopenScan); err != nil {
		return fmt.Errorf("window: preopen scan: %w", err)
	}
	if c.Window.PollIntervalSec < 1 {
		return fmt.Errorf("window: poll interval %d must be at least 1s", c.Window.PollIntervalSec)
	}

	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch: concurrency %d must be at least 1", c.Fetch.Concurrency)
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch: max retries %d must not be negative", c.Fetch.MaxRetries)
	}

	switch c.Pool.FailoverMode {
	case "cache", "none":
	default:
		return fmt.Errorf("pool: unknown failover mode %q", c.Pool.FailoverMode)
	}

	if c.DingTalk.Enabled && c.DingTalk.WebhookURL == "" {
		return fmt.Errorf("dingtalk: webhook url is required when enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka: at least one broker is required when enabled")
	}

	return nil
}

func clockMinutes(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid HH:MM value %q", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}
