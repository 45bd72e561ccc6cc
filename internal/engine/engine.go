package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trading-engine/internal/analysis"
	"trading-engine/internal/events"
	"trading-engine/internal/exchange"
	"trading-engine/internal/fusion"
	"trading-engine/internal/indicators"
	"trading-engine/internal/ledger"
	"trading-engine/internal/logging"
	"trading-engine/internal/market"
	"trading-engine/internal/position"
	"trading-engine/internal/predictor"
	"trading-engine/internal/risk"
	"trading-engine/internal/scaling"
)

// Config holds engine construction parameters.
type Config struct {
	Symbol           string
	MinCandles       int // required backfill before any evaluation
	WindowSize       int // rolling tick window
	OrderTimeout     time.Duration
	InitialPortfolio decimal.Decimal
	Limits           risk.Limits
	Scaling          scaling.Config
}

const (
	atrPeriod        = 14
	volatilityPeriod = 20
)

// AnalysisSnapshot is the analytics read from the latest evaluation,
// exposed on the control surface.
type AnalysisSnapshot struct {
	Sentiment  analysis.SentimentResult `json:"sentiment"`
	Volume     analysis.VolumeProfile   `json:"volume"`
	Regime     analysis.RegimeResult    `json:"regime"`
	Levels     []analysis.Level         `json:"levels"`
	Fibonacci  []analysis.FibLevel      `json:"fibonacci"`
	Volatility float64                  `json:"volatility"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// Status is a read-only snapshot for the control surface.
type Status struct {
	Symbol      string             `json:"symbol"`
	Running     bool               `json:"running"`
	AutoTrading bool               `json:"auto_trading"`
	Position    *position.Position `json:"position,omitempty"`
	Scaling     scaling.State      `json:"scaling"`
	Settings    ledger.Settings    `json:"settings"`
	LastSignal  *fusion.Decision   `json:"last_signal,omitempty"`
}

var (
	// ErrNotRunning is returned for commands against a stopped engine.
	ErrNotRunning = errors.New("engine is not running")
	// ErrInsufficientHistory is returned when backfill is too short.
	ErrInsufficientHistory = errors.New("insufficient candle history")
)

type cmdKind int

const (
	cmdForceSignal cmdKind = iota
	cmdClosePosition
	cmdEmergencyStop
)

type command struct {
	kind   cmdKind
	side   fusion.SignalType
	reason string
	reply  chan error
}

// Engine is the per-symbol decision loop. All mutable trading state is
// owned by the single run goroutine; ticks and commands are serialized
// through its channels so decisions never interleave.
type Engine struct {
	cfg  Config
	feed market.Feed
	exec exchange.OrderExecutor
	ldg  ledger.Ledger
	bus  *events.Bus
	log  *logging.Logger

	pred    *predictor.Predictor
	gate    *fusion.Gate
	tracker *position.Tracker
	scaler  *scaling.Scaler
	guard   *risk.Guardrails

	ticks    *market.TickWindow
	settings ledger.Settings

	// candles holds the backfill plus minute aggregates of the live tick
	// stream, feeding the ATR side of the volatility estimate.
	candles     *market.CandleWindow
	building    market.Candle
	hasBuilding bool

	// openPredictionID ties the live position to the prediction that
	// opened it, for outcome resolution at close.
	openPredictionID string
	lastDecision     *fusion.Decision
	lastAnalysis     *AnalysisSnapshot

	commands chan command
	running  atomic.Bool
	auto     atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	statusMu sync.Mutex
}

// New wires an engine from its collaborators.
func New(cfg Config, feed market.Feed, exec exchange.OrderExecutor, ldg ledger.Ledger, bus *events.Bus) *Engine {
	if cfg.MinCandles <= 0 {
		cfg.MinCandles = 50
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 200
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 10 * time.Second
	}
	if cfg.InitialPortfolio.IsZero() {
		cfg.InitialPortfolio = decimal.NewFromInt(10000)
	}

	return &Engine{
		cfg:      cfg,
		feed:     feed,
		exec:     exec,
		ldg:      ldg,
		bus:      bus,
		log:      logging.Default().WithComponent("engine").WithField("symbol", cfg.Symbol),
		pred:     predictor.New(),
		gate:     fusion.NewGate(),
		tracker:  position.NewTracker(),
		scaler:   scaling.New(cfg.Scaling),
		guard:    risk.New(cfg.Limits),
		ticks:    market.NewTickWindow(cfg.WindowSize),
		candles:  market.NewCandleWindow(cfg.WindowSize),
		commands: make(chan command),
	}
}

// Start backfills history, opens the tick stream and launches the
// decision loop. Evaluation is refused without enough backfill.
func (e *Engine) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}

	candles, err := e.feed.GetCandles(ctx, e.cfg.MinCandles*2)
	if err != nil {
		e.running.Store(false)
		return fmt.Errorf("backfill failed: %w", err)
	}
	if len(candles) < e.cfg.MinCandles {
		e.running.Store(false)
		return fmt.Errorf("%w: got %d candles, need %d", ErrInsufficientHistory, len(candles), e.cfg.MinCandles)
	}
	for _, c := range candles {
		e.ticks.Append(market.Tick{Price: c.Close, Volume: c.Volume, Time: c.OpenTime})
		e.candles.Append(c)
	}

	settings, err := e.ldg.GetSettings(ctx)
	if err != nil {
		e.log.Warn("could not load settings, starting fresh", "error", err.Error())
	}
	if settings.PortfolioValue.IsZero() {
		settings.PortfolioValue = e.cfg.InitialPortfolio
	}
	if settings.MaxPositionSize.IsZero() {
		settings.MaxPositionSize = e.cfg.Scaling.MaxSize
	}
	e.settings = settings

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	stream, err := e.feed.StreamTicks(runCtx)
	if err != nil {
		cancel()
		e.running.Store(false)
		return fmt.Errorf("tick stream failed: %w", err)
	}

	e.auto.Store(true)
	e.wg.Add(1)
	go e.run(runCtx, stream)

	e.log.Info("engine started", "backfill_candles", len(candles))
	return nil
}

// Stop closes any open position gracefully and halts the loop.
func (e *Engine) Stop() error {
	if !e.running.Load() {
		return ErrNotRunning
	}

	err := e.send(command{kind: cmdClosePosition, reason: position.ReasonManual})
	if err != nil && !errors.Is(err, position.ErrNoPosition) {
		e.log.Error("close on stop failed", "error", err.Error())
	}

	e.cancel()
	e.wg.Wait()
	e.running.Store(false)
	e.log.Info("engine stopped")

	if err != nil && !errors.Is(err, position.ErrNoPosition) {
		return err
	}
	return nil
}

// EmergencyStop disables auto-trading, forces an immediate close of any
// open position and scales sizing back to the floor. The loop keeps
// running so the operator can inspect state and restart trading.
func (e *Engine) EmergencyStop(reason string) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	return e.send(command{kind: cmdEmergencyStop, reason: reason})
}

// ForceSignal opens a position manually, bypassing the fusion gate but
// not the single-position invariant or the risk guardrails.
func (e *Engine) ForceSignal(side fusion.SignalType) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	if side != fusion.SignalBuy && side != fusion.SignalSell {
		return fmt.Errorf("invalid forced side %q", side)
	}
	return e.send(command{kind: cmdForceSignal, side: side})
}

// ResumeTrading re-enables auto-trading after an emergency stop.
func (e *Engine) ResumeTrading() {
	e.auto.Store(true)
	e.log.Info("auto-trading resumed")
}

func (e *Engine) send(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case e.commands <- cmd:
		return <-cmd.reply
	case <-time.After(30 * time.Second):
		return errors.New("engine command timed out")
	}
}

// Patterns exposes the predictor catalog for the control surface.
func (e *Engine) Patterns() []predictor.Pattern {
	return e.pred.Patterns()
}

// Analysis returns the analytics from the latest evaluation, or nil
// before the first one.
func (e *Engine) Analysis() *AnalysisSnapshot {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.lastAnalysis
}

// Status returns a snapshot of the live engine state.
func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	return Status{
		Symbol:      e.cfg.Symbol,
		Running:     e.running.Load(),
		AutoTrading: e.auto.Load(),
		Position:    e.tracker.Position(),
		Scaling:     e.scaler.State(),
		Settings:    e.settings,
		LastSignal:  e.lastDecision,
	}
}

// run is the single-consumer decision loop. Tick order is preserved by
// consuming one channel; commands interleave between ticks, never
// inside one.
func (e *Engine) run(ctx context.Context, stream <-chan market.Tick) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.commands:
			cmd.reply <- e.handleCommand(ctx, cmd)
		case tick, ok := <-stream:
			if !ok {
				e.log.Error("tick stream closed")
				e.bus.PublishError("engine", "tick stream closed", events.SeverityCritical, nil)
				return
			}
			e.handleTick(ctx, tick)
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdForceSignal:
		return e.openForced(ctx, cmd.side)
	case cmdClosePosition:
		return e.closePosition(ctx, cmd.reason)
	case cmdEmergencyStop:
		e.auto.Store(false)
		e.bus.PublishEmergencyStop(cmd.reason)
		state := e.scaler.EmergencyScaleDown()
		e.bus.PublishScalingUpdated(state.Tier, state.SizeUSD.String(), state.ConsecutiveWins, state.ConsecutiveLosses)

		err := e.closePosition(ctx, position.ReasonEmergency)
		if errors.Is(err, position.ErrNoPosition) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unknown command %d", cmd.kind)
}

func (e *Engine) handleTick(ctx context.Context, tick market.Tick) {
	e.ticks.Append(tick)
	e.aggregate(tick)
	e.bus.PublishPriceUpdate(e.cfg.Symbol, tick.Price, tick.Volume)

	price := decimal.NewFromFloat(tick.Price)

	if e.tracker.IsOpen() {
		if _, err := e.tracker.MarkPrice(price); err == nil {
			if reason, hit := e.tracker.CheckExit(price); hit {
				if err := e.closePosition(ctx, reason); err != nil {
					e.log.Error("exit close failed, position stays open", "reason", reason, "error", err.Error())
				}
			}
		}
		return
	}

	if !e.auto.Load() || e.ticks.Len() < e.cfg.MinCandles {
		return
	}
	e.evaluate(ctx, tick)
}

// aggregate folds stream ticks into minute candles so the candle-based
// analytics stay current past the backfill.
func (e *Engine) aggregate(tick market.Tick) {
	bucket := tick.Time.Truncate(time.Minute)
	if !e.hasBuilding || bucket.After(e.building.OpenTime) {
		if e.hasBuilding {
			e.candles.Append(e.building)
		}
		e.building = market.Candle{
			Open: tick.Price, High: tick.Price, Low: tick.Price, Close: tick.Price,
			Volume:   tick.Volume,
			OpenTime: bucket,
		}
		e.hasBuilding = true
		return
	}

	if tick.Price > e.building.High {
		e.building.High = tick.Price
	}
	if tick.Price < e.building.Low {
		e.building.Low = tick.Price
	}
	e.building.Close = tick.Price
	e.building.Volume += tick.Volume
}

// volatilityEstimate blends tick-to-tick volatility with the candle ATR
// as a fraction of price. The wider estimate wins, so a calm tick stream
// cannot mask candle-range volatility.
func (e *Engine) volatilityEstimate(prices []float64) float64 {
	vol := indicators.Volatility(prices, volatilityPeriod)

	candles := e.candles.Candles()
	if len(candles) == 0 {
		return vol
	}
	last := candles[len(candles)-1].Close
	if last <= 0 {
		return vol
	}
	if atr := indicators.ATR(candles, atrPeriod) / last; atr > vol {
		return atr
	}
	return vol
}

// evaluate runs one full decision pass: indicators, analytics,
// prediction, fusion, then entry if authorized.
func (e *Engine) evaluate(ctx context.Context, tick market.Tick) {
	prices := e.ticks.Prices()
	volumes := e.ticks.Volumes()

	snap := indicators.Compute(prices)
	sentiment := analysis.Sentiment(snap, prices, volumes)
	volume := analysis.AnalyzeVolume(volumes)
	regime := analysis.ClassifyRegime(prices)
	volatility := e.volatilityEstimate(prices)

	prediction := e.pred.Predict(snap, prices, volume, tick.Price)
	decision := e.gate.Evaluate(fusion.FromSentiment(sentiment), prediction)

	e.statusMu.Lock()
	e.lastDecision = &decision
	e.lastAnalysis = &AnalysisSnapshot{
		Sentiment:  sentiment,
		Volume:     volume,
		Regime:     regime,
		Levels:     analysis.FindLevels(prices, 5),
		Fibonacci:  analysis.Fibonacci(prices),
		Volatility: volatility,
		UpdatedAt:  tick.Time,
	}
	e.statusMu.Unlock()

	e.bus.PublishSignal(e.cfg.Symbol, string(decision.Signal.Type), decision.Signal.Reason, decision.Signal.Strength, decision.Authorized)

	if !decision.Authorized {
		if decision.SuppressReason != "" {
			e.log.Debug("trade suppressed", "reason", decision.SuppressReason)
		}
		return
	}

	if err := e.openPosition(ctx, decision.Signal, prediction.ID, regime, volatility); err != nil {
		e.log.Error("entry failed", "error", err.Error())
	}
}

func (e *Engine) openForced(ctx context.Context, side fusion.SignalType) error {
	if e.tracker.IsOpen() {
		return position.ErrPositionOpen
	}

	if _, ok := e.ticks.Last(); !ok {
		return ErrInsufficientHistory
	}

	prices := e.ticks.Prices()
	regime := analysis.ClassifyRegime(prices)
	volatility := e.volatilityEstimate(prices)

	sig := fusion.Signal{Type: side, Strength: 70, Reason: "manual override"}
	return e.openPosition(ctx, sig, "", regime, volatility)
}

// openPosition runs sizing, risk approval and execution, then applies
// the state transition only if still flat. Any failure before the state
// transition leaves the engine flat (fail-closed).
func (e *Engine) openPosition(ctx context.Context, sig fusion.Signal, predictionID string, regime analysis.RegimeResult, volatility float64) error {
	approval := e.guard.ApproveTrade(volatility)
	if !approval.Approved {
		e.log.Info("risk veto", "reason", approval.Reason)
		e.bus.PublishError("risk", approval.Reason, events.SeverityInfo, nil)
		return nil
	}

	side := position.SideLong
	orderSide := exchange.SideBuy
	if sig.Type == fusion.SignalSell {
		side = position.SideShort
		orderSide = exchange.SideSell
	}

	tick, ok := e.ticks.Last()
	if !ok {
		return ErrInsufficientHistory
	}
	estimate := decimal.NewFromFloat(tick.Price)

	stopFactor := regime.StopWidthFactor * approval.StopWidthFactor
	levels := risk.ComputeStops(string(side), estimate, volatility, stopFactor)

	tierSize := e.scaler.State().SizeUSD.Mul(decimal.NewFromFloat(approval.SizeFactor))
	size := e.guard.EntrySize(sig.Strength, estimate, levels.StopLoss, e.settings.PortfolioValue, tierSize, volatility)
	if !size.IsPositive() {
		e.log.Warn("sizing produced no notional, skipping entry")
		return nil
	}

	orderCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	result, err := e.exec.PlaceOrder(orderCtx, orderSide, size, nil)
	cancel()
	if err != nil {
		e.bus.PublishError("executor", "open order failed", events.SeverityInfo, err)
		return fmt.Errorf("open order failed: %w", err)
	}

	// Stops are recomputed from the actual fill price.
	levels = risk.ComputeStops(string(side), result.FilledPrice, volatility, stopFactor)

	pos := position.Position{
		ID:         uuid.NewString(),
		Symbol:     e.cfg.Symbol,
		Side:       side,
		SizeUSD:    result.FilledSize,
		EntryPrice: result.FilledPrice,
		StopLoss:   levels.StopLoss,
		TakeProfit: levels.TakeProfit,
		OrderID:    result.OrderID,
		OpenedAt:   time.Now(),
	}

	opened, err := e.tracker.Open(pos)
	if err != nil {
		// Filled but no longer flat: surface loudly, this requires
		// operator attention.
		e.bus.PublishError("engine", "fill arrived while position open", events.SeverityCritical, err)
		return err
	}
	e.openPredictionID = predictionID

	record := &ledger.TradeRecord{
		ID:           opened.ID,
		Symbol:       opened.Symbol,
		Side:         string(opened.Side),
		SizeUSD:      opened.SizeUSD,
		EntryPrice:   opened.EntryPrice,
		StopLoss:     opened.StopLoss,
		TakeProfit:   opened.TakeProfit,
		SignalReason: sig.Reason,
		Status:       ledger.StatusOpen,
		OpenedAt:     opened.OpenedAt,
	}
	e.persist(ctx, "create trade", func() error {
		return e.ldg.CreateTrade(ctx, record)
	})

	e.bus.PublishTradeExecuted(e.cfg.Symbol, string(opened.Side), tick.Price, opened.SizeUSD.String(), opened.StopLoss.String(), opened.TakeProfit.String())
	e.log.Info("position opened",
		"side", string(opened.Side),
		"size_usd", opened.SizeUSD.String(),
		"entry", opened.EntryPrice.String(),
		"stop", opened.StopLoss.String(),
		"take_profit", opened.TakeProfit.String())
	return nil
}

// closePosition executes the closing order and applies the close
// transition. An execution failure leaves the position OPEN and raises
// a critical alert; the next tick retries via the exit check.
func (e *Engine) closePosition(ctx context.Context, reason string) error {
	pos := e.tracker.Position()
	if pos == nil {
		return position.ErrNoPosition
	}

	orderSide := exchange.SideSell
	if pos.Side == position.SideShort {
		orderSide = exchange.SideBuy
	}

	orderCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	result, err := e.exec.PlaceOrder(orderCtx, orderSide, pos.SizeUSD, nil)
	cancel()
	if err != nil {
		e.bus.PublishError("executor", "close order failed, position remains open", events.SeverityCritical, err)
		return fmt.Errorf("close order failed: %w", err)
	}

	closed, profit, err := e.tracker.Close(result.FilledPrice)
	if err != nil {
		return err
	}

	now := time.Now()
	patch := ledger.TradeUpdate{
		ExitPrice: result.FilledPrice,
		Profit:    profit,
		Reason:    reason,
		ClosedAt:  now,
	}
	e.persist(ctx, "close trade", func() error {
		return e.ldg.UpdateTrade(ctx, closed.ID, patch)
	})

	e.guard.RecordProfit(profit)
	e.resolvePrediction(profit, closed)
	state := e.applyScaling(profit)
	e.updateSettings(ctx, profit, state)

	exitPrice, _ := result.FilledPrice.Float64()
	e.bus.PublishTradeClosed(e.cfg.Symbol, string(closed.Side), exitPrice, profit.String(), reason)
	e.bus.PublishScalingUpdated(state.Tier, state.SizeUSD.String(), state.ConsecutiveWins, state.ConsecutiveLosses)
	e.log.Info("position closed",
		"reason", reason,
		"profit", profit.String(),
		"exit", result.FilledPrice.String())
	return nil
}

func (e *Engine) resolvePrediction(profit decimal.Decimal, closed position.Position) {
	if e.openPredictionID == "" {
		return
	}

	outcome := predictor.OutcomeIncorrect
	if profit.IsPositive() {
		outcome = predictor.OutcomeCorrect
	}

	move := 0.0
	if closed.SizeUSD.IsPositive() {
		move, _ = profit.Div(closed.SizeUSD).Abs().Float64()
	}
	e.pred.ResolveOutcome(e.openPredictionID, outcome, move)
	e.openPredictionID = ""
}

func (e *Engine) applyScaling(profit decimal.Decimal) scaling.State {
	if profit.IsPositive() {
		return e.scaler.RecordWin()
	}
	return e.scaler.RecordLoss()
}

func (e *Engine) updateSettings(ctx context.Context, profit decimal.Decimal, state scaling.State) {
	e.statusMu.Lock()
	e.settings.TotalTrades++
	if profit.IsPositive() {
		e.settings.WinningTrades++
	}
	e.settings.PortfolioValue = e.settings.PortfolioValue.Add(profit)
	e.settings.CurrentPositionSize = state.SizeUSD
	e.settings.ConsecutiveWins = state.ConsecutiveWins
	e.settings.ConsecutiveLosses = state.ConsecutiveLosses
	settings := e.settings
	e.statusMu.Unlock()

	e.persist(ctx, "update settings", func() error {
		return e.ldg.UpdateSettings(ctx, settings)
	})
}

// persist retries a ledger write with backoff. Exhausted retries raise
// a critical alert: engine state and ledger have diverged.
func (e *Engine) persist(ctx context.Context, op string, fn func() error) {
	// The last ledger error is what the alert reports; a cancelled ctx
	// only stops the retries, it is not the root cause.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); err == nil {
			return
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
			continue
		}
		break
	}
	e.log.Error("ledger write failed after retries", "op", op, "error", err.Error())
	e.bus.PublishError("ledger", op+" failed after retries", events.SeverityCritical, err)
}
