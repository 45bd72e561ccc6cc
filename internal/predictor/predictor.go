package predictor

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-engine/internal/analysis"
	"trading-engine/internal/indicators"
)

// Direction is the predicted price direction.
type Direction string

const (
	DirectionUp       Direction = "UP"
	DirectionDown     Direction = "DOWN"
	DirectionSideways Direction = "SIDEWAYS"
)

// Bias classifies a pattern as bullish or bearish.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
)

// Pattern is a named market condition with learned statistics. Success
// rate and average profit are mutated only through ResolveOutcome.
type Pattern struct {
	Name        string    `json:"name"`
	Bias        Bias      `json:"bias"`
	SuccessRate float64   `json:"success_rate"` // [0.10, 0.95]
	AvgProfit   float64   `json:"avg_profit"`   // fraction, >= 0
	Frequency   float64   `json:"frequency"`    // [0, 1]
	LastSeen    time.Time `json:"last_seen"`
}

// Prediction is one directional forecast with confidence.
type Prediction struct {
	ID               string    `json:"id"`
	Direction        Direction `json:"direction"`
	Confidence       float64   `json:"confidence"`  // [0, 100]
	Probability      float64   `json:"probability"` // [0, 1]
	TargetPrice      float64   `json:"target_price"`
	TimeframeMinutes int       `json:"timeframe_minutes"`
	Reasoning        []string  `json:"reasoning"`
	Patterns         []string  `json:"patterns"`
	CreatedAt        time.Time `json:"created_at"`
}

// Outcome is a realized result for a past prediction.
type Outcome string

const (
	OutcomeCorrect   Outcome = "CORRECT"
	OutcomeIncorrect Outcome = "INCORRECT"
)

const (
	minSuccessRate = 0.10
	maxSuccessRate = 0.95
	maxConfidence  = 95.0
	historySize    = 1000
)

// historyEntry pairs a prediction with its resolution state.
type historyEntry struct {
	prediction Prediction
	resolved   bool
}

// Predictor maintains the pattern catalog and the bounded learning
// history. Safe for concurrent use.
type Predictor struct {
	mu       sync.Mutex
	patterns map[string]*Pattern
	history  map[string]*historyEntry
	order    []string // insertion order for ring eviction
}

// New creates a predictor with the default pattern catalog.
func New() *Predictor {
	p := &Predictor{
		patterns: make(map[string]*Pattern),
		history:  make(map[string]*historyEntry),
	}
	for _, pat := range defaultCatalog() {
		cp := pat
		p.patterns[pat.Name] = &cp
	}
	return p
}

func defaultCatalog() []Pattern {
	return []Pattern{
		{Name: "RSI Oversold Bounce", Bias: BiasBullish, SuccessRate: 0.62, AvgProfit: 0.018, Frequency: 0.30},
		{Name: "RSI Overbought Reversal", Bias: BiasBearish, SuccessRate: 0.60, AvgProfit: 0.016, Frequency: 0.30},
		{Name: "MACD Bullish Cross", Bias: BiasBullish, SuccessRate: 0.58, AvgProfit: 0.022, Frequency: 0.25},
		{Name: "MACD Bearish Cross", Bias: BiasBearish, SuccessRate: 0.57, AvgProfit: 0.020, Frequency: 0.25},
		{Name: "Golden Cross", Bias: BiasBullish, SuccessRate: 0.65, AvgProfit: 0.030, Frequency: 0.15},
		{Name: "Death Cross", Bias: BiasBearish, SuccessRate: 0.63, AvgProfit: 0.028, Frequency: 0.15},
		{Name: "Bollinger Lower Bounce", Bias: BiasBullish, SuccessRate: 0.55, AvgProfit: 0.014, Frequency: 0.35},
		{Name: "Bollinger Upper Rejection", Bias: BiasBearish, SuccessRate: 0.54, AvgProfit: 0.013, Frequency: 0.35},
		{Name: "Volume Breakout", Bias: BiasBullish, SuccessRate: 0.59, AvgProfit: 0.025, Frequency: 0.20},
		{Name: "Volume Reversal", Bias: BiasBearish, SuccessRate: 0.56, AvgProfit: 0.021, Frequency: 0.20},
	}
}

// Patterns returns a copy of the current catalog.
func (p *Predictor) Patterns() []Pattern {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Pattern, 0, len(p.patterns))
	for _, pat := range p.patterns {
		out = append(out, *pat)
	}
	return out
}

// detect returns the names of catalog patterns matching the current
// snapshot and price/volume state.
func (p *Predictor) detect(snap indicators.Snapshot, prices []float64, volume analysis.VolumeProfile) []string {
	var matched []string

	if snap.RSI < 30 {
		matched = append(matched, "RSI Oversold Bounce")
	}
	if snap.RSI > 70 {
		matched = append(matched, "RSI Overbought Reversal")
	}

	if snap.MACD.Histogram > 0 && snap.MACD.MACD > 0 {
		matched = append(matched, "MACD Bullish Cross")
	}
	if snap.MACD.Histogram < 0 && snap.MACD.MACD < 0 {
		matched = append(matched, "MACD Bearish Cross")
	}

	if snap.SMA20 > snap.SMA50 && snap.SMA50 > 0 {
		matched = append(matched, "Golden Cross")
	}
	if snap.SMA20 < snap.SMA50 {
		matched = append(matched, "Death Cross")
	}

	if len(prices) > 0 {
		price := prices[len(prices)-1]
		if snap.Bollinger.Lower > 0 && price <= snap.Bollinger.Lower {
			matched = append(matched, "Bollinger Lower Bounce")
		}
		if price >= snap.Bollinger.Upper && snap.Bollinger.Upper > snap.Bollinger.Lower {
			matched = append(matched, "Bollinger Upper Rejection")
		}
	}

	momentum := indicators.Momentum(prices, 10)
	if volume.Spike && momentum > 0 {
		matched = append(matched, "Volume Breakout")
	}
	if volume.Spike && momentum < 0 {
		matched = append(matched, "Volume Reversal")
	}

	return matched
}

// Predict evaluates the catalog against the current market state and
// produces a directional prediction. The no-match case is a defined
// neutral default, not an error.
func (p *Predictor) Predict(snap indicators.Snapshot, prices []float64, volume analysis.VolumeProfile, currentPrice float64) Prediction {
	p.mu.Lock()
	defer p.mu.Unlock()

	matched := p.detect(snap, prices, volume)
	now := time.Now()

	pred := Prediction{
		ID:               uuid.NewString(),
		Direction:        DirectionSideways,
		Confidence:       40,
		Probability:      0.5,
		TargetPrice:      currentPrice,
		TimeframeMinutes: 15,
		CreatedAt:        now,
	}

	if len(matched) == 0 {
		pred.Reasoning = []string{"no catalog pattern matched current conditions"}
		p.remember(pred)
		return pred
	}

	var bullishWeight, bearishWeight, totalWeight, weightedProfit float64
	for _, name := range matched {
		pat := p.patterns[name]
		if pat == nil {
			continue
		}
		pat.LastSeen = now

		weight := pat.SuccessRate * pat.Frequency
		totalWeight += weight
		weightedProfit += weight * pat.AvgProfit
		if pat.Bias == BiasBullish {
			bullishWeight += weight
		} else {
			bearishWeight += weight
		}
		pred.Reasoning = append(pred.Reasoning, pat.Name)
	}
	pred.Patterns = matched

	if totalWeight == 0 {
		p.remember(pred)
		return pred
	}

	netScore := bullishWeight - bearishWeight
	avgProfit := weightedProfit / totalWeight

	pred.Confidence = math.Min(math.Abs(netScore)*100/totalWeight, maxConfidence)
	pred.Probability = clamp01(0.5 + netScore/(2*totalWeight))

	if math.Abs(netScore) < 0.2*totalWeight {
		pred.Direction = DirectionSideways
		pred.Confidence = math.Min(pred.Confidence, 40)
	} else if netScore > 0 {
		pred.Direction = DirectionUp
		pred.TargetPrice = currentPrice * (1 + avgProfit)
	} else {
		pred.Direction = DirectionDown
		pred.TargetPrice = currentPrice * (1 - avgProfit)
	}

	p.remember(pred)
	return pred
}

// remember stores a prediction in the bounded history ring.
// Caller must hold p.mu.
func (p *Predictor) remember(pred Prediction) {
	if len(p.order) >= historySize {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.history, oldest)
	}
	p.order = append(p.order, pred.ID)
	p.history[pred.ID] = &historyEntry{prediction: pred}
}

// ResolveOutcome applies a realized outcome to the patterns that
// contributed to the prediction. A prediction can be resolved at most
// once; later calls for the same ID are no-ops.
func (p *Predictor) ResolveOutcome(predictionID string, outcome Outcome, realizedMove float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.history[predictionID]
	if !ok || entry.resolved {
		return false
	}
	entry.resolved = true

	delta := 0.01
	if outcome == OutcomeIncorrect {
		delta = -0.01
	}

	for _, name := range entry.prediction.Patterns {
		pat := p.patterns[name]
		if pat == nil {
			continue
		}
		pat.SuccessRate = clampRange(pat.SuccessRate+delta, minSuccessRate, maxSuccessRate)
		if outcome == OutcomeCorrect {
			// Exponential 90/10 blend toward the realized magnitude.
			pat.AvgProfit = pat.AvgProfit*0.9 + math.Abs(realizedMove)*0.1
		}
	}
	return true
}

// HistoryLen reports how many predictions the learning ring holds.
func (p *Predictor) HistoryLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

func clamp01(v float64) float64 {
	return clampRange(v, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
