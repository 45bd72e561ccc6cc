package market

import "context"

// Feed supplies price ticks and candles for a single symbol.
type Feed interface {
	// GetTicker returns the latest tick.
	GetTicker(ctx context.Context) (Tick, error)

	// StreamTicks delivers ticks in arrival order until ctx is cancelled.
	// The returned channel is closed when the stream ends.
	StreamTicks(ctx context.Context) (<-chan Tick, error)

	// GetCandles returns up to limit most recent candles, oldest first.
	GetCandles(ctx context.Context, limit int) ([]Candle, error)

	// Symbol returns the market symbol this feed serves.
	Symbol() string
}

// Mode selects which feed implementation the engine runs against.
// The simulated feed is an explicit configuration choice, never a
// fallback inside the live path.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)
