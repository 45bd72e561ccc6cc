package market

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulatedFeed generates a seeded random-walk price stream. It is selected
// by configuration for dry runs and tests; the live feed never falls back
// to it silently.
type SimulatedFeed struct {
	symbol    string
	interval  time.Duration
	rng       *rand.Rand
	mu        sync.Mutex
	lastPrice float64
}

// SimulatedConfig configures the random walk.
type SimulatedConfig struct {
	Symbol       string  `json:"symbol"`
	BasePrice    float64 `json:"base_price"`
	TickInterval string  `json:"tick_interval"` // e.g. "1s"
	Seed         int64   `json:"seed"`          // 0 means time-based
}

// NewSimulatedFeed creates a simulated feed for one symbol.
func NewSimulatedFeed(cfg SimulatedConfig) *SimulatedFeed {
	base := cfg.BasePrice
	if base <= 0 {
		base = 100.0
	}
	interval, err := time.ParseDuration(cfg.TickInterval)
	if err != nil || interval <= 0 {
		interval = time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedFeed{
		symbol:    cfg.Symbol,
		interval:  interval,
		rng:       rand.New(rand.NewSource(seed)),
		lastPrice: base,
	}
}

// Symbol returns the simulated symbol.
func (f *SimulatedFeed) Symbol() string {
	return f.symbol
}

// nextTick advances the random walk by one step.
func (f *SimulatedFeed) nextTick() Tick {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Random walk: -0.5% to +0.5% change per tick.
	change := (f.rng.Float64() - 0.5) * 0.01
	f.lastPrice *= 1 + change
	volume := 500 + f.rng.Float64()*2000

	return Tick{
		Price:  f.lastPrice,
		Volume: volume,
		Time:   time.Now(),
	}
}

// GetTicker returns the latest simulated tick.
func (f *SimulatedFeed) GetTicker(ctx context.Context) (Tick, error) {
	if err := ctx.Err(); err != nil {
		return Tick{}, err
	}
	return f.nextTick(), nil
}

// StreamTicks emits a tick every interval until ctx is cancelled.
func (f *SimulatedFeed) StreamTicks(ctx context.Context) (<-chan Tick, error) {
	out := make(chan Tick)

	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				select {
				case out <- f.nextTick():
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// GetCandles generates limit historical candles ending at the current price.
func (f *SimulatedFeed) GetCandles(ctx context.Context, limit int) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	candles := make([]Candle, limit)
	now := time.Now()
	price := f.lastPrice
	volatility := 0.02

	// Generate backwards from the current price so the newest candle
	// closes where the tick stream begins.
	for i := limit - 1; i >= 0; i-- {
		change := (f.rng.Float64() - 0.5) * volatility
		open := price / (1 + change)
		high := math.Max(open, price) * (1 + f.rng.Float64()*volatility*0.25)
		low := math.Min(open, price) * (1 - f.rng.Float64()*volatility*0.25)
		volume := 500 + f.rng.Float64()*2000

		candles[i] = Candle{
			Open:     open,
			High:     high,
			Low:      low,
			Close:    price,
			Volume:   volume,
			OpenTime: now.Add(-time.Duration(limit-i) * time.Minute),
		}
		price = open
	}

	return candles, nil
}
