package indicators

import (
	"math"

	"trading-engine/internal/market"
)

// Pure transforms over an ordered price window. Every function is
// deterministic for identical input and degrades to a neutral default on
// under-length input instead of returning an error.

// MACDResult holds MACD indicator values
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// BollingerResult holds Bollinger Band values
type BollingerResult struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Snapshot is the full indicator state derived from one price window.
// It is recomputed per tick and never mutated.
type Snapshot struct {
	RSI       float64         `json:"rsi"`
	MACD      MACDResult      `json:"macd"`
	SMA20     float64         `json:"sma20"`
	SMA50     float64         `json:"sma50"`
	EMA12     float64         `json:"ema12"`
	EMA26     float64         `json:"ema26"`
	Bollinger BollingerResult `json:"bollinger"`
}

// Compute derives the full snapshot from a price window (oldest first).
func Compute(prices []float64) Snapshot {
	return Snapshot{
		RSI:       RSI(prices, 14),
		MACD:      MACD(prices, 12, 26, 9),
		SMA20:     SMA(prices, 20),
		SMA50:     SMA(prices, 50),
		EMA12:     EMA(prices, 12),
		EMA26:     EMA(prices, 26),
		Bollinger: Bollinger(prices, 20, 2.0),
	}
}

// SMA calculates the Simple Moving Average over the trailing period.
// Falls back to the last price when history is short.
func SMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return prices[len(prices)-1]
	}

	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period)
}

// EMA calculates the Exponential Moving Average with multiplier 2/(period+1).
func EMA(prices []float64, period int) float64 {
	series := emaSeries(prices, period)
	if len(series) == 0 {
		if len(prices) == 0 {
			return 0
		}
		return prices[len(prices)-1]
	}
	return series[len(series)-1]
}

// emaSeries returns the EMA value at each index from period-1 onward.
func emaSeries(prices []float64, period int) []float64 {
	if len(prices) < period {
		return nil
	}

	multiplier := 2.0 / float64(period+1)

	// Seed with the SMA of the first period.
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += prices[i]
	}
	seed /= float64(period)

	series := make([]float64, 0, len(prices)-period+1)
	series = append(series, seed)

	ema := seed
	for i := period; i < len(prices); i++ {
		ema = prices[i]*multiplier + ema*(1-multiplier)
		series = append(series, ema)
	}
	return series
}

// RSI calculates the Relative Strength Index over the trailing period.
// Returns the neutral 50 when there is not enough history.
func RSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACD calculates the MACD line (fast EMA minus slow EMA), the signal line
// as an EMA of the MACD series, and the histogram. The signal line is the
// textbook EMA-of-MACD over the in-window MACD history; when the window is
// too short for a full signal EMA it falls back to the latest MACD value.
func MACD(prices []float64, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	if len(prices) < slowPeriod {
		return MACDResult{}
	}

	fastSeries := emaSeries(prices, fastPeriod)
	slowSeries := emaSeries(prices, slowPeriod)

	// Align both series on the slow seed index.
	offset := len(fastSeries) - len(slowSeries)
	macdSeries := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}

	macdLine := macdSeries[len(macdSeries)-1]
	signalLine := macdLine
	if sig := emaSeries(macdSeries, signalPeriod); len(sig) > 0 {
		signalLine = sig[len(sig)-1]
	}

	return MACDResult{
		MACD:      macdLine,
		Signal:    signalLine,
		Histogram: macdLine - signalLine,
	}
}

// Bollinger calculates Bollinger Bands as SMA(period) +/- mult*stddev.
func Bollinger(prices []float64, period int, stdDevMultiplier float64) BollingerResult {
	if len(prices) < period {
		last := 0.0
		if len(prices) > 0 {
			last = prices[len(prices)-1]
		}
		return BollingerResult{Upper: last, Middle: last, Lower: last}
	}

	middle := SMA(prices, period)

	variance := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		diff := prices[i] - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return BollingerResult{
		Upper:  middle + stdDev*stdDevMultiplier,
		Middle: middle,
		Lower:  middle - stdDev*stdDevMultiplier,
	}
}

// Momentum returns the percentage price change over the trailing period.
func Momentum(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 0
	}
	current := prices[len(prices)-1]
	past := prices[len(prices)-period-1]
	if past == 0 {
		return 0
	}
	return (current - past) / past * 100
}

// Volatility returns the mean absolute tick-to-tick return over the
// trailing period, as a fraction (0.01 = 1%).
func Volatility(prices []float64, period int) float64 {
	if len(prices) < 2 {
		return 0
	}
	start := len(prices) - period
	if start < 1 {
		start = 1
	}

	sum := 0.0
	n := 0
	for i := start; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		sum += math.Abs(prices[i]/prices[i-1] - 1)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ATR calculates the Average True Range over candles.
func ATR(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	trSum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trSum += tr
	}
	return trSum / float64(period)
}
