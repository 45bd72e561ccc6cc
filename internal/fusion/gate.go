package fusion

import (
	"sync"
	"time"

	"trading-engine/internal/analysis"
	"trading-engine/internal/predictor"
)

// SignalType is the trade recommendation direction.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// Signal is one directional trade recommendation.
type Signal struct {
	Type     SignalType `json:"type"`
	Strength float64    `json:"strength"` // [0, 100]
	Reason   string     `json:"reason"`
}

// Decision is the gate output for one evaluation. The signal is always
// populated for observability; Authorized gates execution only.
type Decision struct {
	Signal         Signal `json:"signal"`
	Authorized     bool   `json:"authorized"`
	SuppressReason string `json:"suppress_reason,omitempty"`
}

const (
	technicalWeight     = 0.4
	predictionWeight    = 0.6
	predictionMinConf   = 70.0
	agreementBonus      = 15.0
	highConfidenceBonus = 10.0
	highConfidenceBar   = 80.0
	tradeGate           = 70.0

	minEvalInterval = 30 * time.Second
	tradeWindow     = time.Hour
	maxTradesPerWin = 10
)

// FromSentiment converts a sentiment read into the technical signal.
func FromSentiment(s analysis.SentimentResult) Signal {
	sig := Signal{Type: SignalHold, Reason: "neutral sentiment"}
	switch s.Direction {
	case "bullish":
		sig.Type = SignalBuy
	case "bearish":
		sig.Type = SignalSell
	default:
		return sig
	}

	strength := s.Score
	if strength < 0 {
		strength = -strength
	}
	sig.Strength = clampStrength(strength)
	sig.Reason = "technical sentiment " + s.Direction
	return sig
}

// Gate fuses the technical signal with the pattern prediction and
// enforces the trade-rate limits.
type Gate struct {
	mu         sync.Mutex
	lastEval   time.Time
	authorized []time.Time
	now        func() time.Time
}

func NewGate() *Gate {
	return &Gate{now: time.Now}
}

// Evaluate fuses the two inputs into one decision. A fused signal is
// produced on every call; rate limits suppress authorization only.
func (g *Gate) Evaluate(tech Signal, pred predictor.Prediction) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	decision := Decision{Signal: g.fuse(tech, pred)}
	if decision.Signal.Type == SignalHold || decision.Signal.Strength < tradeGate {
		return decision
	}

	now := g.now()
	if !g.lastEval.IsZero() && now.Sub(g.lastEval) < minEvalInterval {
		decision.SuppressReason = "minimum evaluation interval not elapsed"
		return decision
	}

	g.pruneWindow(now)
	if len(g.authorized) >= maxTradesPerWin {
		decision.SuppressReason = "hourly trade cap reached"
		return decision
	}

	// The interval clock only advances on authorization, so a
	// cap-suppressed attempt cannot push the next one out.
	g.lastEval = now
	g.authorized = append(g.authorized, now)
	decision.Authorized = true
	return decision
}

// fuse combines the weighted inputs. The prediction only counts above
// its confidence floor; agreement earns a bonus, and a high-confidence
// prediction aligned with the result earns another.
func (g *Gate) fuse(tech Signal, pred predictor.Prediction) Signal {
	techStrength := clampStrength(tech.Strength)
	predConf := clampStrength(pred.Confidence)
	predType := directionToSignal(pred.Direction)
	predActive := predConf >= predictionMinConf && predType != SignalHold
	techActive := tech.Type != SignalHold && techStrength > 0

	var fused Signal
	switch {
	case techActive && predActive && tech.Type == predType:
		fused = Signal{
			Type:     tech.Type,
			Strength: technicalWeight*techStrength + predictionWeight*predConf + agreementBonus,
			Reason:   tech.Reason + "; prediction agrees",
		}
	case techActive && predActive:
		// Disagreement: the stronger input wins outright.
		if predConf > techStrength {
			fused = Signal{Type: predType, Strength: predConf, Reason: "prediction overrides technicals"}
		} else {
			fused = Signal{Type: tech.Type, Strength: techStrength, Reason: tech.Reason + "; prediction disagrees"}
		}
	case predActive:
		fused = Signal{Type: predType, Strength: predConf, Reason: "pattern prediction"}
	case techActive:
		fused = tech
		fused.Strength = techStrength
	default:
		return Signal{Type: SignalHold, Reason: "no actionable input"}
	}

	if predConf >= highConfidenceBar && predType == fused.Type {
		fused.Strength += highConfidenceBonus
	}
	fused.Strength = clampStrength(fused.Strength)
	return fused
}

// pruneWindow drops authorizations older than the rolling window.
// Caller must hold g.mu.
func (g *Gate) pruneWindow(now time.Time) {
	cutoff := now.Add(-tradeWindow)
	i := 0
	for i < len(g.authorized) && g.authorized[i].Before(cutoff) {
		i++
	}
	g.authorized = g.authorized[i:]
}

func directionToSignal(d predictor.Direction) SignalType {
	switch d {
	case predictor.DirectionUp:
		return SignalBuy
	case predictor.DirectionDown:
		return SignalSell
	default:
		return SignalHold
	}
}

func clampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
