package market

import "time"

// Tick is one price/volume observation.
type Tick struct {
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	Time   time.Time `json:"time"`
}

// Candle is an OHLCV aggregate over a fixed interval.
type Candle struct {
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	OpenTime time.Time `json:"open_time"`
}

// TickWindow is a bounded append-only rolling window of ticks.
// Oldest entries are evicted once capacity is reached.
type TickWindow struct {
	ticks []Tick
	cap   int
}

// NewTickWindow creates a window holding at most capacity ticks.
func NewTickWindow(capacity int) *TickWindow {
	if capacity <= 0 {
		capacity = 200
	}
	return &TickWindow{
		ticks: make([]Tick, 0, capacity),
		cap:   capacity,
	}
}

// Append adds a tick, evicting the oldest when full.
func (w *TickWindow) Append(t Tick) {
	if len(w.ticks) == w.cap {
		copy(w.ticks, w.ticks[1:])
		w.ticks[len(w.ticks)-1] = t
		return
	}
	w.ticks = append(w.ticks, t)
}

// Len returns the number of ticks currently held.
func (w *TickWindow) Len() int {
	return len(w.ticks)
}

// Prices returns the closing prices oldest-first.
func (w *TickWindow) Prices() []float64 {
	out := make([]float64, len(w.ticks))
	for i, t := range w.ticks {
		out[i] = t.Price
	}
	return out
}

// Volumes returns the volumes oldest-first.
func (w *TickWindow) Volumes() []float64 {
	out := make([]float64, len(w.ticks))
	for i, t := range w.ticks {
		out[i] = t.Volume
	}
	return out
}

// Last returns the most recent tick, or false when empty.
func (w *TickWindow) Last() (Tick, bool) {
	if len(w.ticks) == 0 {
		return Tick{}, false
	}
	return w.ticks[len(w.ticks)-1], true
}

// CandleWindow is a bounded rolling window of candles.
type CandleWindow struct {
	candles []Candle
	cap     int
}

// NewCandleWindow creates a window holding at most capacity candles.
func NewCandleWindow(capacity int) *CandleWindow {
	if capacity <= 0 {
		capacity = 200
	}
	return &CandleWindow{
		candles: make([]Candle, 0, capacity),
		cap:     capacity,
	}
}

// Append adds a candle, evicting the oldest when full.
func (w *CandleWindow) Append(c Candle) {
	if len(w.candles) == w.cap {
		copy(w.candles, w.candles[1:])
		w.candles[len(w.candles)-1] = c
		return
	}
	w.candles = append(w.candles, c)
}

// Len returns the number of candles currently held.
func (w *CandleWindow) Len() int {
	return len(w.candles)
}

// Candles returns the held candles oldest-first.
func (w *CandleWindow) Candles() []Candle {
	out := make([]Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Closes returns the close prices oldest-first.
func (w *CandleWindow) Closes() []float64 {
	out := make([]float64, len(w.candles))
	for i, c := range w.candles {
		out[i] = c.Close
	}
	return out
}
