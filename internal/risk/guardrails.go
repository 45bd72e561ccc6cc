package risk

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Limits are the immutable portfolio guardrail settings.
type Limits struct {
	MaxDailyLoss           decimal.Decimal // USD, positive number
	MaxDrawdownPct         float64         // fraction, 0.20 = 20%
	MaxPositionPct         float64         // fraction of portfolio per trade
	VolatilityThresholdPct float64         // fraction above which size is throttled
}

// Approval is the guardrail verdict for a proposed trade.
type Approval struct {
	Approved        bool    `json:"approved"`
	Reason          string  `json:"reason"`
	SizeFactor      float64 `json:"size_factor"`       // 1.0 normal, <1 throttled
	StopWidthFactor float64 `json:"stop_width_factor"` // 1.0 normal, >1 widened
}

// StopLevels bracket an entry price per side.
type StopLevels struct {
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
}

const (
	baseStopPct       = 0.02
	baseTakeProfitPct = 0.04
	kellyCap          = 0.25
	maxRiskPercent    = 0.05
	minRiskPercent    = 0.005
)

type pnlEntry struct {
	at     time.Time
	profit decimal.Decimal
}

// Guardrails tracks realized P&L to enforce daily-loss and drawdown
// limits, and computes risk-adjusted entry sizes and stop levels.
type Guardrails struct {
	mu      sync.Mutex
	limits  Limits
	history []pnlEntry
	cum     decimal.Decimal
	peak    decimal.Decimal
	now     func() time.Time
}

// New creates guardrails with the given limits.
func New(limits Limits) *Guardrails {
	if limits.MaxDrawdownPct <= 0 {
		limits.MaxDrawdownPct = 0.20
	}
	if limits.VolatilityThresholdPct <= 0 {
		limits.VolatilityThresholdPct = 0.05
	}
	return &Guardrails{limits: limits, now: time.Now}
}

// RecordProfit registers a realized trade result.
func (g *Guardrails) RecordProfit(profit decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.history = append(g.history, pnlEntry{at: g.now(), profit: profit})
	g.cum = g.cum.Add(profit)
	if g.cum.GreaterThan(g.peak) {
		g.peak = g.cum
	}
	g.prune()
}

// prune drops entries older than the trailing window. Cumulative and
// peak totals are lifetime values and are not pruned.
// Caller must hold g.mu.
func (g *Guardrails) prune() {
	cutoff := g.now().Add(-24 * time.Hour)
	i := 0
	for i < len(g.history) && g.history[i].at.Before(cutoff) {
		i++
	}
	g.history = g.history[i:]
}

// TrailingPnL sums realized profit over the trailing 24 hours.
func (g *Guardrails) TrailingPnL() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prune()
	total := decimal.Zero
	for _, e := range g.history {
		total = total.Add(e.profit)
	}
	return total
}

// Drawdown reports the peak-to-current decline in cumulative realized
// profit as a fraction of the peak. Zero before any profit peak exists.
func (g *Guardrails) Drawdown() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.peak.IsPositive() {
		return 0
	}
	dd, _ := g.peak.Sub(g.cum).Div(g.peak).Float64()
	return dd
}

// ApproveTrade checks the portfolio guardrails. Daily-loss and drawdown
// breaches veto; high volatility throttles size and widens stops instead.
func (g *Guardrails) ApproveTrade(volatility float64) Approval {
	dailyPnL := g.TrailingPnL()
	if g.limits.MaxDailyLoss.IsPositive() && dailyPnL.LessThan(g.limits.MaxDailyLoss.Neg()) {
		return Approval{
			Approved:        false,
			Reason:          "daily loss limit reached",
			SizeFactor:      0,
			StopWidthFactor: 1,
		}
	}

	if dd := g.Drawdown(); dd > g.limits.MaxDrawdownPct {
		return Approval{
			Approved:        false,
			Reason:          "drawdown limit exceeded",
			SizeFactor:      0,
			StopWidthFactor: 1,
		}
	}

	if volatility > g.limits.VolatilityThresholdPct {
		return Approval{
			Approved:        true,
			Reason:          "high volatility: reduced size, widened stops",
			SizeFactor:      0.5,
			StopWidthFactor: 1.5,
		}
	}

	return Approval{Approved: true, Reason: "within limits", SizeFactor: 1, StopWidthFactor: 1}
}

// EntrySize computes the risk-adjusted notional for a new position.
// The result is bounded by the Kelly cap, dampened by volatility, and
// never exceeds the scaling tier size.
func (g *Guardrails) EntrySize(confidence float64, entryPrice, stopLoss, portfolioValue, tierSize decimal.Decimal, volatility float64) decimal.Decimal {
	riskPercent := 0.02 + (confidence-70)*0.0005
	if riskPercent > maxRiskPercent {
		riskPercent = maxRiskPercent
	}
	if riskPercent < minRiskPercent {
		riskPercent = minRiskPercent
	}

	stopDistance := entryPrice.Sub(stopLoss).Abs()
	if stopDistance.IsZero() || entryPrice.IsZero() {
		return decimal.Zero
	}

	dollarsAtRisk := portfolioValue.Mul(decimal.NewFromFloat(riskPercent))
	shares := dollarsAtRisk.Div(stopDistance)
	notional := shares.Mul(entryPrice)

	kellyLimit := portfolioValue.Mul(decimal.NewFromFloat(kellyCap))
	if notional.GreaterThan(kellyLimit) {
		notional = kellyLimit
	}

	dampener := math.Max(0.3, 1-volatility*10)
	notional = notional.Mul(decimal.NewFromFloat(dampener))

	if notional.GreaterThan(tierSize) {
		notional = tierSize
	}
	return notional
}

// ComputeStops derives stop-loss/take-profit around an entry price.
// Base widths are 2%/4%, scaled by a volatility multiplier and the
// regime stop-width factor. LONG stops sit below entry, SHORT above.
func ComputeStops(side string, entryPrice decimal.Decimal, volatility, regimeFactor float64) StopLevels {
	if regimeFactor <= 0 {
		regimeFactor = 1
	}
	volMult := clampFloat(1+volatility*10, 0.5, 2)

	stopPct := decimal.NewFromFloat(baseStopPct * volMult * regimeFactor)
	takePct := decimal.NewFromFloat(baseTakeProfitPct * volMult * regimeFactor)
	one := decimal.NewFromInt(1)

	if side == "SHORT" {
		return StopLevels{
			StopLoss:   entryPrice.Mul(one.Add(stopPct)),
			TakeProfit: entryPrice.Mul(one.Sub(takePct)),
		}
	}
	return StopLevels{
		StopLoss:   entryPrice.Mul(one.Sub(stopPct)),
		TakeProfit: entryPrice.Mul(one.Add(takePct)),
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
