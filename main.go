package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"trading-engine/config"
	"trading-engine/internal/advisor"
	"trading-engine/internal/api"
	"trading-engine/internal/engine"
	"trading-engine/internal/events"
	"trading-engine/internal/exchange"
	"trading-engine/internal/ledger"
	"trading-engine/internal/logging"
	"trading-engine/internal/market"
	"trading-engine/internal/notification"
	"trading-engine/internal/risk"
	"trading-engine/internal/scaling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		Component:  "trading-engine",
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	}))
	log := logging.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	feed := buildFeed(cfg, log)
	ldg, history, dbClose, err := buildLedger(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize ledger", "error", err)
	}
	if dbClose != nil {
		defer dbClose()
	}
	exec := buildExecutor(ctx, cfg, feed)

	eng := engine.New(engine.Config{
		Symbol:           cfg.MarketConfig.Symbol,
		MinCandles:       cfg.TradingConfig.MinCandles,
		WindowSize:       cfg.TradingConfig.WindowSize,
		OrderTimeout:     cfg.OrderTimeout(),
		InitialPortfolio: decimal.NewFromFloat(cfg.TradingConfig.InitialPortfolio),
		Limits:           buildLimits(cfg),
		Scaling:          buildScaling(cfg),
	}, feed, exec, ldg, bus)

	if cfg.NotificationConfig.Enabled {
		manager := notification.NewManager(bus)
		manager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: cfg.NotificationConfig.Telegram.BotToken,
			ChatID:   cfg.NotificationConfig.Telegram.ChatID,
			Enabled:  cfg.NotificationConfig.Telegram.Enabled,
		}))
		manager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
			WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
			Enabled:    cfg.NotificationConfig.Discord.Enabled,
		}))
		go manager.Run(ctx)
	}

	if cfg.AdvisorConfig.Enabled {
		adv := advisor.NewClient(buildAdvisorConfig(cfg))
		if adv.Enabled() {
			go runAdvisor(ctx, adv, bus, log)
		}
	}

	if err := eng.Start(ctx); err != nil {
		log.Fatal("failed to start engine", "error", err)
	}
	log.Info("engine started",
		"symbol", cfg.MarketConfig.Symbol,
		"mode", cfg.MarketConfig.Mode,
		"paper", cfg.ExchangeConfig.Paper)

	server := api.NewServer(api.Config{
		Addr:         fmt.Sprintf("%s:%d", cfg.ServerConfig.Host, cfg.ServerConfig.Port),
		AllowOrigins: splitOrigins(cfg.ServerConfig.AllowedOrigins),
	}, eng, history, bus)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	if err := eng.Stop(); err != nil {
		log.Warn("engine stop", "error", err)
	}
	cancel()
	log.Info("shutdown complete")
}

// buildFeed selects the market data source. Simulated mode is an explicit
// configuration choice, never a fallback from the live path.
func buildFeed(cfg *config.Config, log *logging.Logger) market.Feed {
	if market.Mode(cfg.MarketConfig.Mode) == market.ModeSimulated {
		return market.NewSimulatedFeed(market.SimulatedConfig{
			Symbol:    cfg.MarketConfig.Symbol,
			BasePrice: cfg.MarketConfig.BasePrice,
			Seed:      cfg.MarketConfig.Seed,
		})
	}
	return market.NewLiveFeed(market.LiveConfig{
		Symbol:         cfg.MarketConfig.Symbol,
		WebsocketURL:   cfg.MarketConfig.WebsocketURL,
		RestURL:        cfg.MarketConfig.RestURL,
		CandleInterval: cfg.MarketConfig.CandleInterval,
	}, log)
}

// buildExecutor selects paper or live order execution.
func buildExecutor(ctx context.Context, cfg *config.Config, feed market.Feed) exchange.OrderExecutor {
	if cfg.ExchangeConfig.Paper {
		quote := func() (decimal.Decimal, error) {
			tick, err := feed.GetTicker(ctx)
			if err != nil {
				return decimal.Zero, err
			}
			return decimal.NewFromFloat(tick.Price), nil
		}
		return exchange.NewPaperExecutor(quote, cfg.ExchangeConfig.SlippageBps)
	}
	return exchange.NewRESTExecutor(exchange.RESTConfig{
		APIKey:    cfg.ExchangeConfig.APIKey,
		SecretKey: cfg.ExchangeConfig.SecretKey,
		BaseURL:   cfg.ExchangeConfig.BaseURL,
		Symbol:    cfg.MarketConfig.Symbol,
		Timeout:   cfg.OrderTimeout(),
	})
}

// buildLedger wires PostgreSQL with an optional Redis settings cache, or
// falls back to in-memory storage when the database is disabled.
func buildLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, api.TradeHistory, func(), error) {
	if !cfg.DatabaseConfig.Enabled {
		mem := ledger.NewMemoryLedger(ledger.Settings{})
		return mem, mem, nil, nil
	}

	db, err := ledger.NewDB(ledger.DBConfig{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	repo := ledger.NewRepository(db, cfg.MarketConfig.Symbol)

	var ldg ledger.Ledger = repo
	closeFn := db.Close
	if cfg.RedisConfig.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		ldg = ledger.NewCachedLedger(repo, client, cfg.MarketConfig.Symbol)
		closeFn = func() {
			client.Close()
			db.Close()
		}
	}

	return ldg, repo, closeFn, nil
}

func buildLimits(cfg *config.Config) risk.Limits {
	return risk.Limits{
		MaxDailyLoss:           decimal.NewFromFloat(cfg.RiskConfig.MaxDailyLoss),
		MaxDrawdownPct:         cfg.RiskConfig.MaxDrawdownPct,
		MaxPositionPct:         cfg.RiskConfig.MaxPositionPct,
		VolatilityThresholdPct: cfg.RiskConfig.VolatilityThresholdPct,
	}
}

func buildScaling(cfg *config.Config) scaling.Config {
	return scaling.Config{
		InitialSize: decimal.NewFromFloat(cfg.TradingConfig.InitialSizeUSD),
		MinSize:     decimal.NewFromFloat(cfg.TradingConfig.MinSizeUSD),
		MaxSize:     decimal.NewFromFloat(cfg.TradingConfig.MaxSizeUSD),
	}
}

func buildAdvisorConfig(cfg *config.Config) advisor.Config {
	ac := advisor.DefaultConfig()
	ac.Enabled = cfg.AdvisorConfig.Enabled
	ac.APIKey = cfg.AdvisorConfig.APIKey
	if cfg.AdvisorConfig.BaseURL != "" {
		ac.BaseURL = cfg.AdvisorConfig.BaseURL
	}
	if cfg.AdvisorConfig.Model != "" {
		ac.Model = cfg.AdvisorConfig.Model
	}
	if cfg.AdvisorConfig.TimeoutSec > 0 {
		ac.Timeout = time.Duration(cfg.AdvisorConfig.TimeoutSec) * time.Second
	}
	return ac
}

// runAdvisor asks the model for commentary after each closed trade. The
// result is log-only; trading decisions never depend on it.
func runAdvisor(ctx context.Context, adv *advisor.Client, bus *events.Bus, log *logging.Logger) {
	closed := bus.Subscribe(events.EventTradeClosed, 16)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-closed:
			payload, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			advice, err := adv.Analyze(ctx, fmt.Sprintf("Trade closed: %s", payload))
			if err != nil {
				log.Warn("advisor analysis failed", "error", err)
				continue
			}
			log.Info("advisor commentary",
				"sentiment", advice.Sentiment,
				"commentary", advice.Commentary)
		}
	}
}

func splitOrigins(origins string) []string {
	if origins == "" || origins == "*" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
