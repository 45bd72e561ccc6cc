package analysis

import (
	"trading-engine/internal/indicators"
)

// SentimentResult holds the aggregate market sentiment score.
type SentimentResult struct {
	Score     float64  `json:"score"`     // -100..100
	Direction string   `json:"direction"` // "bullish", "bearish", "neutral"
	Strength  string   `json:"strength"`  // "weak", "moderate", "strong"
	Factors   []string `json:"factors"`
}

// Sentiment scores the market from -100 (max bearish) to +100 (max
// bullish) as a weighted sum of RSI extremity, MACD cross, MA cross,
// 10-tick momentum and volume confirmation.
func Sentiment(snap indicators.Snapshot, prices, volumes []float64) SentimentResult {
	score := 0.0
	var factors []string

	// RSI extremity: oversold reads bullish, overbought bearish.
	rsiScore := (50 - snap.RSI) * 0.5
	rsiScore = clamp(rsiScore, -25, 25)
	score += rsiScore
	if snap.RSI <= 30 {
		factors = append(factors, "RSI oversold")
	} else if snap.RSI >= 70 {
		factors = append(factors, "RSI overbought")
	}

	// MACD cross direction.
	if snap.MACD.Histogram > 0 {
		score += 20
		factors = append(factors, "MACD above signal")
	} else if snap.MACD.Histogram < 0 {
		score -= 20
		factors = append(factors, "MACD below signal")
	}

	// Moving-average cross (golden/death).
	if snap.SMA20 > snap.SMA50 {
		score += 15
		factors = append(factors, "golden cross regime")
	} else if snap.SMA20 < snap.SMA50 {
		score -= 15
		factors = append(factors, "death cross regime")
	}

	// 10-tick momentum.
	momentum := indicators.Momentum(prices, 10)
	score += clamp(momentum*5, -25, 25)

	// Volume confirmation: a 1.5x spike amplifies the momentum direction.
	if len(volumes) >= 11 {
		current := volumes[len(volumes)-1]
		avg := mean(volumes[len(volumes)-11 : len(volumes)-1])
		if avg > 0 && current >= avg*1.5 {
			if momentum > 0 {
				score += 15
				factors = append(factors, "volume-confirmed advance")
			} else if momentum < 0 {
				score -= 15
				factors = append(factors, "volume-confirmed decline")
			}
		}
	}

	score = clamp(score, -100, 100)

	direction := "neutral"
	if score > 20 {
		direction = "bullish"
	} else if score < -20 {
		direction = "bearish"
	}

	abs := score
	if abs < 0 {
		abs = -abs
	}
	strength := "weak"
	if abs >= 50 {
		strength = "strong"
	} else if abs >= 25 {
		strength = "moderate"
	}

	return SentimentResult{
		Score:     score,
		Direction: direction,
		Strength:  strength,
		Factors:   factors,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
