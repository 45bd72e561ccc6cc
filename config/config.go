package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full engine configuration, loaded from an optional JSON
// file and then overridden from the environment.
type Config struct {
	MarketConfig       MarketConfig       `json:"market"`
	ExchangeConfig     ExchangeConfig     `json:"exchange"`
	TradingConfig      TradingConfig      `json:"trading"`
	RiskConfig         RiskConfig         `json:"risk"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	NotificationConfig NotificationConfig `json:"notification"`
	AdvisorConfig      AdvisorConfig      `json:"advisor"`
	ServerConfig       ServerConfig       `json:"server"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// MarketConfig selects and configures the market data feed.
type MarketConfig struct {
	Symbol         string  `json:"symbol"`
	Mode           string  `json:"mode"` // "live" or "simulated"
	WebsocketURL   string  `json:"websocket_url"`
	RestURL        string  `json:"rest_url"`
	CandleInterval string  `json:"candle_interval"`
	BasePrice      float64 `json:"base_price"` // simulated mode starting price
	Seed           int64   `json:"seed"`       // simulated mode RNG seed
}

// ExchangeConfig selects and configures the order executor.
type ExchangeConfig struct {
	Paper       bool   `json:"paper"` // paper executor instead of the live venue
	APIKey      string `json:"api_key"`
	SecretKey   string `json:"secret_key"`
	BaseURL     string `json:"base_url"`
	SlippageBps int64  `json:"slippage_bps"` // paper fill slippage
}

// TradingConfig holds engine and scaling parameters.
type TradingConfig struct {
	MinCandles       int     `json:"min_candles"`
	WindowSize       int     `json:"window_size"`
	OrderTimeoutSec  int     `json:"order_timeout_sec"`
	InitialPortfolio float64 `json:"initial_portfolio"`
	InitialSizeUSD   float64 `json:"initial_size_usd"`
	MinSizeUSD       float64 `json:"min_size_usd"`
	MaxSizeUSD       float64 `json:"max_size_usd"`
}

// RiskConfig holds the guardrail limits.
type RiskConfig struct {
	MaxDailyLoss           float64 `json:"max_daily_loss"`
	MaxDrawdownPct         float64 `json:"max_drawdown_pct"`
	MaxPositionPct         float64 `json:"max_position_pct"`
	VolatilityThresholdPct float64 `json:"volatility_threshold_pct"`
}

// DatabaseConfig holds PostgreSQL connection settings. The ledger falls
// back to in-memory storage when disabled.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds the settings-cache connection.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// NotificationConfig holds alert delivery settings.
type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// AdvisorConfig holds the optional LLM commentary settings.
type AdvisorConfig struct {
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	TimeoutSec int    `json:"timeout_sec"`
}

// ServerConfig holds the control API settings.
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	AllowedOrigins string `json:"allowed_origins"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// Load reads CONFIG_FILE (default config.json) when present, applies
// environment overrides and validates the result.
func Load() (*Config, error) {
	cfg := defaults()

	filename := getEnvOrDefault("CONFIG_FILE", "config.json")
	if _, err := os.Stat(filename); err == nil {
		loaded, err := loadFromFile(filename)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		MarketConfig: MarketConfig{
			Symbol:         "BTCUSDT",
			Mode:           "simulated",
			WebsocketURL:   "wss://stream.binance.com:9443/ws",
			RestURL:        "https://api.binance.com",
			CandleInterval: "1m",
			BasePrice:      50000,
		},
		ExchangeConfig: ExchangeConfig{
			Paper:       true,
			BaseURL:     "https://api.binance.com",
			SlippageBps: 5,
		},
		TradingConfig: TradingConfig{
			MinCandles:       50,
			WindowSize:       200,
			OrderTimeoutSec:  10,
			InitialPortfolio: 10000,
			InitialSizeUSD:   10,
			MinSizeUSD:       1,
			MaxSizeUSD:       1000,
		},
		RiskConfig: RiskConfig{
			MaxDailyLoss:           100,
			MaxDrawdownPct:         0.20,
			MaxPositionPct:         0.25,
			VolatilityThresholdPct: 0.05,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "trading_engine",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Addr: "localhost:6379",
		},
		ServerConfig: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: "*",
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.MarketConfig.Symbol = getEnvOrDefault("MARKET_SYMBOL", cfg.MarketConfig.Symbol)
	cfg.MarketConfig.Mode = getEnvOrDefault("MARKET_MODE", cfg.MarketConfig.Mode)
	cfg.MarketConfig.WebsocketURL = getEnvOrDefault("MARKET_WS_URL", cfg.MarketConfig.WebsocketURL)
	cfg.MarketConfig.RestURL = getEnvOrDefault("MARKET_REST_URL", cfg.MarketConfig.RestURL)

	cfg.ExchangeConfig.APIKey = getEnvOrDefault("EXCHANGE_API_KEY", cfg.ExchangeConfig.APIKey)
	cfg.ExchangeConfig.SecretKey = getEnvOrDefault("EXCHANGE_SECRET_KEY", cfg.ExchangeConfig.SecretKey)
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.ExchangeConfig.BaseURL)
	if v := os.Getenv("EXCHANGE_PAPER"); v != "" {
		cfg.ExchangeConfig.Paper = v == "true"
	}

	cfg.TradingConfig.InitialPortfolio = getEnvFloatOrDefault("INITIAL_PORTFOLIO", cfg.TradingConfig.InitialPortfolio)
	cfg.TradingConfig.MaxSizeUSD = getEnvFloatOrDefault("MAX_POSITION_SIZE", cfg.TradingConfig.MaxSizeUSD)

	cfg.RiskConfig.MaxDailyLoss = getEnvFloatOrDefault("RISK_MAX_DAILY_LOSS", cfg.RiskConfig.MaxDailyLoss)
	cfg.RiskConfig.MaxDrawdownPct = getEnvFloatOrDefault("RISK_MAX_DRAWDOWN_PCT", cfg.RiskConfig.MaxDrawdownPct)

	if v := os.Getenv("DATABASE_ENABLED"); v != "" {
		cfg.DatabaseConfig.Enabled = v == "true"
	}
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DATABASE_NAME", cfg.DatabaseConfig.Database)

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true"
	}
	cfg.RedisConfig.Addr = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Addr)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	if v := os.Getenv("NOTIFICATIONS_ENABLED"); v != "" {
		cfg.NotificationConfig.Enabled = v == "true"
	}
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	if v := os.Getenv("ADVISOR_ENABLED"); v != "" {
		cfg.AdvisorConfig.Enabled = v == "true"
	}
	cfg.AdvisorConfig.APIKey = getEnvOrDefault("ADVISOR_API_KEY", cfg.AdvisorConfig.APIKey)
	cfg.AdvisorConfig.Model = getEnvOrDefault("ADVISOR_MODEL", cfg.AdvisorConfig.Model)

	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.LoggingConfig.JSONFormat = v == "true"
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.MarketConfig.Symbol == "" {
		return fmt.Errorf("market symbol is required")
	}
	if c.MarketConfig.Mode != "live" && c.MarketConfig.Mode != "simulated" {
		return fmt.Errorf("market mode must be live or simulated, got %q", c.MarketConfig.Mode)
	}
	if c.MarketConfig.Mode == "live" && !c.ExchangeConfig.Paper {
		if c.ExchangeConfig.APIKey == "" || c.ExchangeConfig.SecretKey == "" {
			return fmt.Errorf("live trading requires exchange API credentials")
		}
	}
	if c.TradingConfig.MinSizeUSD <= 0 || c.TradingConfig.MaxSizeUSD < c.TradingConfig.MinSizeUSD {
		return fmt.Errorf("invalid position size bounds [%v, %v]",
			c.TradingConfig.MinSizeUSD, c.TradingConfig.MaxSizeUSD)
	}
	return nil
}

// OrderTimeout returns the order timeout as a duration.
func (c *Config) OrderTimeout() time.Duration {
	if c.TradingConfig.OrderTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TradingConfig.OrderTimeoutSec) * time.Second
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := defaults()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
