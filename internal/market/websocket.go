package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"trading-engine/internal/logging"
)

// LiveFeed streams ticks from an exchange trade websocket and backfills
// candles over REST.
type LiveFeed struct {
	symbol     string
	wsURL      string
	restURL    string
	interval   string
	httpClient *http.Client
	log        *logging.Logger
}

// LiveConfig configures the live market data feed.
type LiveConfig struct {
	Symbol         string `json:"symbol"`
	WebsocketURL   string `json:"websocket_url"`
	RestURL        string `json:"rest_url"`
	CandleInterval string `json:"candle_interval"` // e.g. "1m"
}

// NewLiveFeed creates a websocket-backed feed for one symbol.
func NewLiveFeed(cfg LiveConfig, log *logging.Logger) *LiveFeed {
	interval := cfg.CandleInterval
	if interval == "" {
		interval = "1m"
	}
	return &LiveFeed{
		symbol:     cfg.Symbol,
		wsURL:      cfg.WebsocketURL,
		restURL:    cfg.RestURL,
		interval:   interval,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.WithComponent("market"),
	}
}

// Symbol returns the symbol this feed serves.
func (f *LiveFeed) Symbol() string {
	return f.symbol
}

// tradeMessage is the exchange trade stream payload.
type tradeMessage struct {
	EventType string `json:"e"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// GetTicker fetches the latest price over REST.
func (f *LiveFeed) GetTicker(ctx context.Context) (Tick, error) {
	endpoint := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", f.restURL, f.symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Tick{}, err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Tick{}, fmt.Errorf("error fetching ticker: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Tick{}, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Tick{}, fmt.Errorf("ticker API error: %s", string(body))
	}

	var payload struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Tick{}, fmt.Errorf("error parsing ticker: %w", err)
	}

	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return Tick{}, fmt.Errorf("error parsing ticker price: %w", err)
	}

	return Tick{Price: price, Time: time.Now()}, nil
}

// StreamTicks connects to the trade stream and forwards ticks in arrival
// order. Dropped connections are redialed with capped backoff.
func (f *LiveFeed) StreamTicks(ctx context.Context) (<-chan Tick, error) {
	out := make(chan Tick, 256)

	go func() {
		defer close(out)

		backoff := time.Second
		for {
			if ctx.Err() != nil {
				return
			}

			if err := f.streamOnce(ctx, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				f.log.Warn("trade stream dropped, reconnecting", "error", err, "backoff", backoff.String())
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}()

	return out, nil
}

// streamOnce runs a single websocket session until it fails or ctx ends.
func (f *LiveFeed) streamOnce(ctx context.Context, out chan<- Tick) error {
	streamURL := fmt.Sprintf("%s/ws/%s@trade", f.wsURL, strings.ToLower(f.symbol))
	if _, err := url.Parse(streamURL); err != nil {
		return fmt.Errorf("invalid stream url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context is cancelled.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	f.log.Info("trade stream connected", "symbol", f.symbol)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}

		var msg tradeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.log.Debug("skipping unparseable stream message", "error", err)
			continue
		}
		if msg.EventType != "trade" {
			continue
		}

		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil {
			continue
		}
		volume, _ := strconv.ParseFloat(msg.Quantity, 64)

		tick := Tick{
			Price:  price,
			Volume: volume,
			Time:   time.UnixMilli(msg.TradeTime),
		}

		select {
		case out <- tick:
		case <-ctx.Done():
			return nil
		}
	}
}

// GetCandles fetches up to limit candles over REST, oldest first.
func (f *LiveFeed) GetCandles(ctx context.Context, limit int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", f.symbol)
	params.Set("interval", f.interval)
	params.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", f.restURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching candles: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candles API error: %s", string(body))
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing candles: %w", err)
	}

	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openTime, _ := row[0].(float64)
		candles = append(candles, Candle{
			OpenTime: time.UnixMilli(int64(openTime)),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
		})
	}

	return candles, nil
}

func parseFloat(v interface{}) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case float64:
		return val
	default:
		return 0
	}
}
