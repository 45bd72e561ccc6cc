package analysis

import "math"

// Regime classifies current price behavior.
type Regime string

const (
	RegimeTrending Regime = "TRENDING"
	RegimeRanging  Regime = "RANGING"
	RegimeVolatile Regime = "VOLATILE"
)

// RegimeResult carries the classification and the risk adjustments that
// follow from it.
type RegimeResult struct {
	Regime          Regime  `json:"regime"`
	Slope           float64 `json:"slope"`             // normalized per-tick drift
	MeanAbsReturn   float64 `json:"mean_abs_return"`   // fraction, 0.01 = 1%
	StopWidthFactor float64 `json:"stop_width_factor"` // consumed by risk guardrails
	Strategy        string  `json:"strategy"`
}

// trendSlopeThreshold is the normalized per-tick regression slope above
// which the market counts as trending (0.1% drift per tick).
const trendSlopeThreshold = 0.001

// ClassifyRegime labels the market TRENDING, VOLATILE or RANGING from the
// trailing price window.
func ClassifyRegime(prices []float64) RegimeResult {
	result := RegimeResult{
		Regime:          RegimeRanging,
		StopWidthFactor: 1.0,
		Strategy:        "range-bound: fade extremes, tight stops",
	}
	if len(prices) < 10 {
		return result
	}

	result.Slope = normalizedSlope(prices)
	result.MeanAbsReturn = meanAbsReturn(prices)

	switch {
	case math.Abs(result.Slope) > trendSlopeThreshold:
		result.Regime = RegimeTrending
		result.StopWidthFactor = 1.5
		result.Strategy = "trending: follow momentum, widen stops"
	case result.MeanAbsReturn > 0.03:
		result.Regime = RegimeVolatile
		result.StopWidthFactor = 2.0
		result.Strategy = "volatile: reduce size, widest stops"
	}

	return result
}

// normalizedSlope fits a least-squares line through the window and
// normalizes the per-tick slope by the mean price.
func normalizedSlope(prices []float64) float64 {
	n := float64(len(prices))

	var sumX, sumY, sumXY, sumXX float64
	for i, p := range prices {
		x := float64(i)
		sumX += x
		sumY += p
		sumXY += x * p
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom

	meanPrice := sumY / n
	if meanPrice == 0 {
		return 0
	}
	return slope / meanPrice
}

func meanAbsReturn(prices []float64) float64 {
	sum := 0.0
	n := 0
	for i := 1; i < len(prices); i++ {
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
