package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testLimits() Limits {
	return Limits{
		MaxDailyLoss:           decimal.NewFromInt(100),
		MaxDrawdownPct:         0.20,
		MaxPositionPct:         0.25,
		VolatilityThresholdPct: 0.05,
	}
}

func TestApproveWithinLimits(t *testing.T) {
	g := New(testLimits())
	approval := g.ApproveTrade(0.01)

	if !approval.Approved {
		t.Fatalf("expected approval, got veto: %s", approval.Reason)
	}
	if approval.SizeFactor != 1 || approval.StopWidthFactor != 1 {
		t.Errorf("factors = %v/%v, want 1/1", approval.SizeFactor, approval.StopWidthFactor)
	}
}

func TestDailyLossVeto(t *testing.T) {
	g := New(testLimits())
	g.RecordProfit(decimal.NewFromInt(-60))
	g.RecordProfit(decimal.NewFromInt(-50))

	approval := g.ApproveTrade(0.01)
	if approval.Approved {
		t.Fatal("expected veto after -110 trailing loss against limit 100")
	}
	if approval.SizeFactor != 0 {
		t.Errorf("size factor = %v, want 0 on veto", approval.SizeFactor)
	}
}

func TestDailyLossWindowExpires(t *testing.T) {
	g := New(testLimits())
	clock := time.Now().Add(-30 * time.Hour)
	g.now = func() time.Time { return clock }

	g.RecordProfit(decimal.NewFromInt(-150))

	clock = time.Now()
	if approval := g.ApproveTrade(0.01); !approval.Approved {
		t.Errorf("loss outside the 24h window should not veto: %s", approval.Reason)
	}
}

func TestDrawdownVeto(t *testing.T) {
	g := New(testLimits())
	clock := time.Now().Add(-48 * time.Hour)
	g.now = func() time.Time { return clock }

	// Build a 1000 peak, then give 300 back outside the daily window.
	g.RecordProfit(decimal.NewFromInt(1000))
	g.RecordProfit(decimal.NewFromInt(-300))

	clock = time.Now()
	approval := g.ApproveTrade(0.01)
	if approval.Approved {
		t.Fatalf("expected drawdown veto at 30%% vs limit 20%%, got: %s", approval.Reason)
	}
}

func TestVolatilityThrottlesNotVetoes(t *testing.T) {
	g := New(testLimits())
	approval := g.ApproveTrade(0.08)

	if !approval.Approved {
		t.Fatal("high volatility must throttle, not veto")
	}
	if approval.SizeFactor >= 1 {
		t.Errorf("size factor = %v, want < 1", approval.SizeFactor)
	}
	if approval.StopWidthFactor <= 1 {
		t.Errorf("stop width factor = %v, want > 1", approval.StopWidthFactor)
	}
}

func TestEntrySizeRiskPercent(t *testing.T) {
	g := New(testLimits())
	portfolio := decimal.NewFromInt(10000)
	entry := decimal.NewFromInt(100)
	stop := decimal.NewFromInt(98)
	tier := decimal.NewFromInt(100000) // unbounded for this test

	// confidence 70 -> risk 2% -> 200 at risk / 2 stop distance = 100
	// shares -> 10000 notional, capped by Kelly at 2500.
	size := g.EntrySize(70, entry, stop, portfolio, tier, 0)
	if !size.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("size = %s, want Kelly-capped 2500", size)
	}
}

func TestEntrySizeVolatilityDampener(t *testing.T) {
	g := New(testLimits())
	portfolio := decimal.NewFromInt(10000)
	entry := decimal.NewFromInt(100)
	stop := decimal.NewFromInt(98)
	tier := decimal.NewFromInt(100000)

	calm := g.EntrySize(70, entry, stop, portfolio, tier, 0)
	rough := g.EntrySize(70, entry, stop, portfolio, tier, 0.04)

	// Dampener at vol 0.04 is max(0.3, 1-0.4) = 0.6.
	want := calm.Mul(decimal.NewFromFloat(0.6))
	if !rough.Equal(want) {
		t.Errorf("dampened size = %s, want %s", rough, want)
	}

	// Dampener floors at 0.3 for extreme volatility.
	extreme := g.EntrySize(70, entry, stop, portfolio, tier, 0.5)
	wantFloor := calm.Mul(decimal.NewFromFloat(0.3))
	if !extreme.Equal(wantFloor) {
		t.Errorf("floored size = %s, want %s", extreme, wantFloor)
	}
}

func TestEntrySizeBoundedByTier(t *testing.T) {
	g := New(testLimits())
	size := g.EntrySize(90,
		decimal.NewFromInt(100), decimal.NewFromInt(98),
		decimal.NewFromInt(10000), decimal.NewFromInt(50), 0)

	if !size.Equal(decimal.NewFromInt(50)) {
		t.Errorf("size = %s, want tier bound 50", size)
	}
}

func TestEntrySizeDegenerateInputs(t *testing.T) {
	g := New(testLimits())
	entry := decimal.NewFromInt(100)

	if size := g.EntrySize(80, entry, entry, decimal.NewFromInt(10000), decimal.NewFromInt(100), 0); !size.IsZero() {
		t.Errorf("zero stop distance must yield zero size, got %s", size)
	}
}

func TestComputeStopsLong(t *testing.T) {
	entry := decimal.NewFromInt(100)
	levels := ComputeStops("LONG", entry, 0, 1.0)

	// Volatility 0 leaves the multiplier at 1: base 2%/4% widths.
	if !levels.StopLoss.Equal(decimal.NewFromInt(98)) {
		t.Errorf("stop = %s, want 98", levels.StopLoss)
	}
	if !levels.TakeProfit.Equal(decimal.NewFromInt(104)) {
		t.Errorf("take profit = %s, want 104", levels.TakeProfit)
	}
	if !levels.StopLoss.LessThan(entry) || !levels.TakeProfit.GreaterThan(entry) {
		t.Error("LONG levels must straddle entry")
	}
}

func TestComputeStopsShort(t *testing.T) {
	entry := decimal.NewFromInt(100)
	levels := ComputeStops("SHORT", entry, 0.01, 1.0)

	if !levels.StopLoss.GreaterThan(entry) {
		t.Errorf("SHORT stop = %s, want above entry", levels.StopLoss)
	}
	if !levels.TakeProfit.LessThan(entry) {
		t.Errorf("SHORT take profit = %s, want below entry", levels.TakeProfit)
	}
}

func TestComputeStopsRegimeWidening(t *testing.T) {
	entry := decimal.NewFromInt(100)
	ranging := ComputeStops("LONG", entry, 0.01, 1.0)
	volatile := ComputeStops("LONG", entry, 0.01, 2.0)

	rangingWidth := entry.Sub(ranging.StopLoss)
	volatileWidth := entry.Sub(volatile.StopLoss)
	diff := volatileWidth.Sub(rangingWidth.Mul(decimal.NewFromInt(2))).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(1e-9)) {
		t.Errorf("volatile stop width %s, want double ranging %s", volatileWidth, rangingWidth)
	}
}
