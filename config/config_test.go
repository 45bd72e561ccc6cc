package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MarketConfig.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", cfg.MarketConfig.Symbol)
	}
	if cfg.MarketConfig.Mode != "simulated" {
		t.Errorf("mode = %q, want simulated by default", cfg.MarketConfig.Mode)
	}
	if !cfg.ExchangeConfig.Paper {
		t.Error("paper execution should be the default")
	}
	if cfg.TradingConfig.MinCandles != 50 {
		t.Errorf("min candles = %d", cfg.TradingConfig.MinCandles)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	contents := `{
		"market": {"symbol": "ETHUSDT", "mode": "simulated", "base_price": 2000},
		"trading": {"min_candles": 60, "initial_size_usd": 25, "min_size_usd": 5, "max_size_usd": 500}
	}`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MarketConfig.Symbol != "ETHUSDT" {
		t.Errorf("symbol = %q", cfg.MarketConfig.Symbol)
	}
	if cfg.TradingConfig.MinCandles != 60 {
		t.Errorf("min candles = %d", cfg.TradingConfig.MinCandles)
	}
	// Sections absent from the file keep their defaults.
	if cfg.ServerConfig.Port != 8080 {
		t.Errorf("server port = %d", cfg.ServerConfig.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("MARKET_SYMBOL", "SOLUSDT")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("RISK_MAX_DAILY_LOSS", "250")
	t.Setenv("EXCHANGE_PAPER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MarketConfig.Symbol != "SOLUSDT" {
		t.Errorf("symbol = %q", cfg.MarketConfig.Symbol)
	}
	if cfg.ServerConfig.Port != 9000 {
		t.Errorf("port = %d", cfg.ServerConfig.Port)
	}
	if cfg.RiskConfig.MaxDailyLoss != 250 {
		t.Errorf("max daily loss = %v", cfg.RiskConfig.MaxDailyLoss)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := defaults()
	cfg.MarketConfig.Mode = "replay"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown mode should be rejected")
	}
}

func TestValidateLiveRequiresCredentials(t *testing.T) {
	cfg := defaults()
	cfg.MarketConfig.Mode = "live"
	cfg.ExchangeConfig.Paper = false
	if err := cfg.Validate(); err == nil {
		t.Error("live non-paper trading without credentials should be rejected")
	}

	cfg.ExchangeConfig.APIKey = "key"
	cfg.ExchangeConfig.SecretKey = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsBadSizeBounds(t *testing.T) {
	cfg := defaults()
	cfg.TradingConfig.MinSizeUSD = 100
	cfg.TradingConfig.MaxSizeUSD = 10
	if err := cfg.Validate(); err == nil {
		t.Error("max below min should be rejected")
	}
}
