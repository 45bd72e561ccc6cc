package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-engine/internal/events"
	"trading-engine/internal/exchange"
	"trading-engine/internal/fusion"
	"trading-engine/internal/ledger"
	"trading-engine/internal/market"
	"trading-engine/internal/position"
)

// fakeFeed serves a fixed backfill and a test-driven tick stream.
type fakeFeed struct {
	symbol  string
	candles []market.Candle
	ticks   chan market.Tick
}

func newFakeFeed(candles []market.Candle) *fakeFeed {
	return &fakeFeed{symbol: "BTCUSDT", candles: candles, ticks: make(chan market.Tick, 256)}
}

func (f *fakeFeed) GetTicker(ctx context.Context) (market.Tick, error) {
	last := f.candles[len(f.candles)-1]
	return market.Tick{Price: last.Close, Volume: last.Volume, Time: last.OpenTime}, nil
}

func (f *fakeFeed) StreamTicks(ctx context.Context) (<-chan market.Tick, error) {
	return f.ticks, nil
}

func (f *fakeFeed) GetCandles(ctx context.Context, limit int) ([]market.Candle, error) {
	return f.candles, nil
}

func (f *fakeFeed) Symbol() string { return f.symbol }

// quoteSource is a settable price for the paper executor.
type quoteSource struct {
	mu    sync.Mutex
	price decimal.Decimal
}

func (q *quoteSource) set(p float64) {
	q.mu.Lock()
	q.price = decimal.NewFromFloat(p)
	q.mu.Unlock()
}

func (q *quoteSource) quote() (decimal.Decimal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.price, nil
}

// failingExecutor rejects every order.
type failingExecutor struct{}

func (failingExecutor) PlaceOrder(ctx context.Context, side exchange.Side, usdSize decimal.Decimal, limitPrice *decimal.Decimal) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, errors.New("venue unavailable")
}

// flakyExecutor fills the first n orders, then rejects.
type flakyExecutor struct {
	inner     exchange.OrderExecutor
	mu        sync.Mutex
	fillsLeft int
}

func (f *flakyExecutor) PlaceOrder(ctx context.Context, side exchange.Side, usdSize decimal.Decimal, limitPrice *decimal.Decimal) (exchange.OrderResult, error) {
	f.mu.Lock()
	ok := f.fillsLeft > 0
	if ok {
		f.fillsLeft--
	}
	f.mu.Unlock()
	if !ok {
		return exchange.OrderResult{}, errors.New("venue unavailable")
	}
	return f.inner.PlaceOrder(ctx, side, usdSize, limitPrice)
}

// candleRun builds n candles alternating +-0.3 around base.
func candleRun(start time.Time, base float64, n int) []market.Candle {
	candles := make([]market.Candle, n)
	for i := range candles {
		price := base + 0.3
		if i%2 == 1 {
			price = base - 0.3
		}
		candles[i] = market.Candle{
			Open: price, High: price + 0.1, Low: price - 0.1, Close: price,
			Volume:   1000,
			OpenTime: start.Add(time.Duration(i) * time.Minute),
		}
	}
	return candles
}

// steppedCandles: 35 candles near 100, then 30 near 110. The step puts
// the short moving average above the long one without pinning RSI.
func steppedCandles() []market.Candle {
	start := time.Now().Add(-2 * time.Hour)
	candles := candleRun(start, 100, 35)
	candles = append(candles, candleRun(start.Add(35*time.Minute), 110, 30)...)
	return candles
}

func testConfig() Config {
	return Config{
		Symbol:           "BTCUSDT",
		MinCandles:       50,
		OrderTimeout:     time.Second,
		InitialPortfolio: decimal.NewFromInt(10000),
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartRequiresBackfill(t *testing.T) {
	feed := newFakeFeed(candleRun(time.Now(), 100, 10))
	e := New(testConfig(), feed, failingExecutor{}, ledger.NewMemoryLedger(ledger.Settings{}), events.NewBus())

	err := e.Start(context.Background())
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("err = %v, want ErrInsufficientHistory", err)
	}
}

func TestUptrendOpensPosition(t *testing.T) {
	feed := newFakeFeed(steppedCandles())
	quotes := &quoteSource{}
	quotes.set(110)
	exec := exchange.NewPaperExecutor(quotes.quote, 0)
	mem := ledger.NewMemoryLedger(ledger.Settings{})
	bus := events.NewBus()
	executed := bus.Subscribe(events.EventTradeExecuted, 16)

	e := New(testConfig(), feed, exec, mem, bus)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	// A few calm ticks around 110: the step-up backfill should fuse
	// into an authorized BUY on the first evaluation.
	for i := 0; i < 4; i++ {
		price := 110.3
		if i%2 == 1 {
			price = 109.7
		}
		quotes.set(price)
		feed.ticks <- market.Tick{Price: price, Volume: 1000, Time: time.Now()}
	}

	waitFor(t, func() bool { return e.Status().Position != nil }, "no position opened on uptrend")

	pos := e.Status().Position
	if pos.Side != position.SideLong {
		t.Fatalf("side = %s, want LONG", pos.Side)
	}
	if !pos.StopLoss.LessThan(pos.EntryPrice) || !pos.TakeProfit.GreaterThan(pos.EntryPrice) {
		t.Errorf("stops %s/%s do not straddle entry %s", pos.StopLoss, pos.TakeProfit, pos.EntryPrice)
	}

	select {
	case ev := <-executed:
		if ev.Type != events.EventTradeExecuted {
			t.Errorf("event type = %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Error("trade:executed event not emitted")
	}

	trades := mem.Trades()
	if len(trades) != 1 || trades[0].Status != ledger.StatusOpen {
		t.Fatalf("ledger trades = %+v, want one OPEN record", trades)
	}
}

func TestTakeProfitClosesPosition(t *testing.T) {
	feed := newFakeFeed(steppedCandles())
	quotes := &quoteSource{}
	quotes.set(110)
	exec := exchange.NewPaperExecutor(quotes.quote, 0)
	mem := ledger.NewMemoryLedger(ledger.Settings{})
	bus := events.NewBus()
	closed := bus.Subscribe(events.EventTradeClosed, 16)

	e := New(testConfig(), feed, exec, mem, bus)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	e.auto.Store(false)
	if err := e.ForceSignal(fusion.SignalBuy); err != nil {
		t.Fatalf("force signal: %v", err)
	}
	pos := e.Status().Position
	if pos == nil {
		t.Fatal("forced signal did not open a position")
	}

	target, _ := pos.TakeProfit.Float64()
	quotes.set(target + 1)
	feed.ticks <- market.Tick{Price: target + 1, Volume: 1000, Time: time.Now()}

	waitFor(t, func() bool { return e.Status().Position == nil }, "position did not close at take profit")

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Error("trade:closed event not emitted")
	}

	trades := mem.Trades()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	record := trades[0]
	if record.Status != ledger.StatusClosed {
		t.Errorf("status = %s, want CLOSED", record.Status)
	}
	if record.ExitReason != position.ReasonTakeProfit {
		t.Errorf("exit reason = %q, want %q", record.ExitReason, position.ReasonTakeProfit)
	}
	if record.SignalReason != "manual override" {
		t.Errorf("signal reason = %q, closing must not overwrite the entry reason", record.SignalReason)
	}
	if !record.Profit.IsPositive() {
		t.Errorf("profit = %s, want positive", record.Profit)
	}

	status := e.Status()
	if status.Settings.TotalTrades != 1 || status.Settings.WinningTrades != 1 {
		t.Errorf("settings counters = %d/%d, want 1/1", status.Settings.TotalTrades, status.Settings.WinningTrades)
	}
}

func TestEvaluationPublishesAnalysis(t *testing.T) {
	feed := newFakeFeed(steppedCandles())
	quotes := &quoteSource{}
	quotes.set(110)
	exec := exchange.NewPaperExecutor(quotes.quote, 0)

	e := New(testConfig(), feed, exec, ledger.NewMemoryLedger(ledger.Settings{}), events.NewBus())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	if e.Analysis() != nil {
		t.Fatal("analysis must be nil before the first evaluation")
	}

	feed.ticks <- market.Tick{Price: 110.3, Volume: 1000, Time: time.Now()}
	waitFor(t, func() bool { return e.Analysis() != nil }, "no analysis after an evaluation")

	snap := e.Analysis()
	if len(snap.Levels) == 0 {
		t.Error("alternating backfill must yield support/resistance levels")
	}
	if len(snap.Fibonacci) != 7 {
		t.Errorf("fibonacci levels = %d, want the 7 standard ratios", len(snap.Fibonacci))
	}
	if snap.Volatility <= 0 {
		t.Errorf("volatility = %v, want positive", snap.Volatility)
	}
}

func TestTickAggregationBuildsCandles(t *testing.T) {
	feed := newFakeFeed(candleRun(time.Now().Add(-time.Hour), 100, 60))
	e := New(testConfig(), feed, failingExecutor{}, ledger.NewMemoryLedger(ledger.Settings{}), events.NewBus())

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	e.aggregate(market.Tick{Price: 100, Volume: 10, Time: base})
	e.aggregate(market.Tick{Price: 102, Volume: 5, Time: base.Add(20 * time.Second)})
	e.aggregate(market.Tick{Price: 99, Volume: 5, Time: base.Add(40 * time.Second)})
	if e.candles.Len() != 0 {
		t.Fatalf("candles = %d, the first minute is still building", e.candles.Len())
	}

	// Crossing the minute boundary seals the candle.
	e.aggregate(market.Tick{Price: 101, Volume: 8, Time: base.Add(70 * time.Second)})
	if e.candles.Len() != 1 {
		t.Fatalf("candles = %d, want 1 sealed candle", e.candles.Len())
	}

	c := e.candles.Candles()[0]
	if c.Open != 100 || c.High != 102 || c.Low != 99 || c.Close != 99 {
		t.Errorf("candle OHLC = %v/%v/%v/%v, want 100/102/99/99", c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume != 20 {
		t.Errorf("candle volume = %v, want 20", c.Volume)
	}
}

func TestVolatilityBlendsCandleRange(t *testing.T) {
	feed := newFakeFeed(candleRun(time.Now().Add(-time.Hour), 100, 60))
	e := New(testConfig(), feed, failingExecutor{}, ledger.NewMemoryLedger(ledger.Settings{}), events.NewBus())

	// Flat closes: tick-to-tick volatility is zero.
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 100
	}

	// Wide-range candles: the true range sees what the closes hide.
	// TR = max(104-96, |104-100|, |96-100|) = 8, so ATR/price = 0.08.
	e.candles = market.NewCandleWindow(64)
	start := time.Now()
	for i := 0; i < 20; i++ {
		e.candles.Append(market.Candle{
			Open: 100, High: 104, Low: 96, Close: 100,
			Volume:   1000,
			OpenTime: start.Add(time.Duration(i) * time.Minute),
		})
	}

	got := e.volatilityEstimate(prices)
	if got < 0.079 || got > 0.081 {
		t.Errorf("volatility = %v, want 0.08 from the candle range", got)
	}
}

func TestPersistReportsRootCause(t *testing.T) {
	feed := newFakeFeed(candleRun(time.Now().Add(-time.Hour), 100, 60))
	mem := ledger.NewMemoryLedger(ledger.Settings{})
	mem.FailCreates = 3
	bus := events.NewBus()
	alerts := bus.Subscribe(events.EventError, 4)

	e := New(testConfig(), feed, failingExecutor{}, mem, bus)

	// A cancelled ctx stops the retries; the alert must still carry the
	// ledger failure, not the cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.persist(ctx, "create trade", func() error {
		return mem.CreateTrade(ctx, &ledger.TradeRecord{ID: "t1"})
	})

	select {
	case ev := <-alerts:
		if ev.Severity != events.SeverityCritical {
			t.Errorf("severity = %s, want critical", ev.Severity)
		}
		msg, _ := ev.Data["error"].(string)
		if !strings.Contains(msg, "injected create failure") {
			t.Errorf("alert error = %q, want the ledger failure", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("exhausted persistence must raise a critical alert")
	}
}

func TestForceSignalRespectsSinglePosition(t *testing.T) {
	feed := newFakeFeed(candleRun(time.Now().Add(-time.Hour), 100, 60))
	quotes := &quoteSource{}
	quotes.set(100)
	exec := exchange.NewPaperExecutor(quotes.quote, 0)

	e := New(testConfig(), feed, exec, ledger.NewMemoryLedger(ledger.Settings{}), events.NewBus())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()
	e.auto.Store(false)

	if err := e.ForceSignal(fusion.SignalBuy); err != nil {
		t.Fatalf("first force: %v", err)
	}
	if err := e.ForceSignal(fusion.SignalBuy); !errors.Is(err, position.ErrPositionOpen) {
		t.Fatalf("second force err = %v, want ErrPositionOpen", err)
	}
}

func TestOpenFailureFailsClosed(t *testing.T) {
	feed := newFakeFeed(candleRun(time.Now().Add(-time.Hour), 100, 60))
	mem := ledger.NewMemoryLedger(ledger.Settings{})

	e := New(testConfig(), feed, failingExecutor{}, mem, events.NewBus())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()
	e.auto.Store(false)

	if err := e.ForceSignal(fusion.SignalBuy); err == nil {
		t.Fatal("expected execution failure")
	}
	if e.Status().Position != nil {
		t.Error("failed open must leave the engine flat")
	}
	if len(mem.Trades()) != 0 {
		t.Error("failed open must not write a ledger record")
	}
}

func TestCloseFailureKeepsPositionOpen(t *testing.T) {
	feed := newFakeFeed(candleRun(time.Now().Add(-time.Hour), 100, 60))
	quotes := &quoteSource{}
	quotes.set(100)
	exec := &flakyExecutor{inner: exchange.NewPaperExecutor(quotes.quote, 0), fillsLeft: 1}
	bus := events.NewBus()
	critical := bus.Subscribe(events.EventError, 16)

	e := New(testConfig(), feed, exec, ledger.NewMemoryLedger(ledger.Settings{}), bus)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.auto.Store(false)

	if err := e.ForceSignal(fusion.SignalBuy); err != nil {
		t.Fatalf("force: %v", err)
	}

	if err := e.EmergencyStop("test"); err == nil {
		t.Fatal("close should fail while the venue is down")
	}
	if e.Status().Position == nil {
		t.Fatal("failed close must leave the position open")
	}

	select {
	case ev := <-critical:
		if ev.Severity != events.SeverityCritical {
			t.Errorf("severity = %s, want critical", ev.Severity)
		}
	case <-time.After(time.Second):
		t.Error("failed close must raise a critical alert")
	}
}

func TestEmergencyStopClosesAndDisables(t *testing.T) {
	feed := newFakeFeed(candleRun(time.Now().Add(-time.Hour), 100, 60))
	quotes := &quoteSource{}
	quotes.set(100)
	exec := exchange.NewPaperExecutor(quotes.quote, 0)
	bus := events.NewBus()
	stops := bus.Subscribe(events.EventEmergencyStop, 4)

	e := New(testConfig(), feed, exec, ledger.NewMemoryLedger(ledger.Settings{}), bus)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()
	e.auto.Store(false)

	if err := e.ForceSignal(fusion.SignalBuy); err != nil {
		t.Fatalf("force: %v", err)
	}
	if err := e.EmergencyStop("manual halt"); err != nil {
		t.Fatalf("emergency stop: %v", err)
	}

	status := e.Status()
	if status.Position != nil {
		t.Error("emergency stop must close the position")
	}
	if status.AutoTrading {
		t.Error("emergency stop must disable auto-trading")
	}
	if status.Scaling.SizeUSD.GreaterThan(decimal.NewFromInt(1)) {
		t.Errorf("scaling size = %s, want floor after emergency", status.Scaling.SizeUSD)
	}

	select {
	case <-stops:
	case <-time.After(time.Second):
		t.Error("bot:emergency_stop event not emitted")
	}

	e.ResumeTrading()
	if !e.Status().AutoTrading {
		t.Error("resume must re-enable auto-trading")
	}
}
