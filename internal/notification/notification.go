package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trading-engine/internal/events"
	"trading-engine/internal/logging"
)

// Notifier delivers one alert to an external channel.
type Notifier interface {
	Send(title, message string) error
	Name() string
	IsEnabled() bool
}

// Manager consumes engine events and forwards the ones an operator
// should see: trade opens/closes, emergency stops and critical errors.
type Manager struct {
	notifiers []Notifier
	bus       *events.Bus
	log       *logging.Logger
}

func NewManager(bus *events.Bus) *Manager {
	return &Manager{
		bus: bus,
		log: logging.Default().WithComponent("notification"),
	}
}

// AddNotifier registers a delivery channel.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Run subscribes to the event topics worth alerting on and forwards
// them until ctx is cancelled. Delivery failures are logged, never
// propagated back toward the engine.
func (m *Manager) Run(ctx context.Context) {
	executed := m.bus.Subscribe(events.EventTradeExecuted, 32)
	closed := m.bus.Subscribe(events.EventTradeClosed, 32)
	emergency := m.bus.Subscribe(events.EventEmergencyStop, 8)
	errs := m.bus.Subscribe(events.EventError, 32)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-executed:
			m.send("Trade Opened", m.describe(ev))
		case ev := <-closed:
			m.send("Trade Closed", m.describe(ev))
		case ev := <-emergency:
			m.send("EMERGENCY STOP", m.describe(ev))
		case ev := <-errs:
			// Only critical errors reach the operator channels.
			if ev.Severity == events.SeverityCritical {
				m.send("Critical Error", m.describe(ev))
			}
		}
	}
}

func (m *Manager) describe(ev events.Event) string {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return string(ev.Type)
	}
	return fmt.Sprintf("%s at %s\n%s", ev.Type, ev.Timestamp.Format(time.RFC3339), payload)
}

func (m *Manager) send(title, message string) {
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(title, message); err != nil {
			m.log.Warn("notification delivery failed", "provider", n.Name(), "error", err.Error())
		}
	}
}

// TelegramNotifier sends alerts through the Telegram bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram delivery settings.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	Enabled  bool   `json:"enabled"`
}

func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(title, message string) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", title, message),
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// DiscordNotifier sends alerts through a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord delivery settings.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
	Enabled    bool   `json:"enabled"`
}

func NewDiscordNotifier(cfg DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) IsEnabled() bool { return d.enabled }

func (d *DiscordNotifier) Send(title, message string) error {
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"timestamp":   time.Now().Format(time.RFC3339),
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
