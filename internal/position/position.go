package position

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the position direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Exit reasons recorded on closed trades.
const (
	ReasonTakeProfit = "Take Profit Hit"
	ReasonStopLoss   = "Stop Loss Triggered"
	ReasonManual     = "Manual Close"
	ReasonEmergency  = "Emergency Stop"
)

var (
	// ErrPositionOpen rejects a second open while one position exists.
	ErrPositionOpen = errors.New("a position is already open")
	// ErrNoPosition rejects operations that need an open position.
	ErrNoPosition = errors.New("no open position")
	// ErrInvalidStops rejects stops that do not straddle the entry.
	ErrInvalidStops = errors.New("stop levels must straddle the entry price")
)

// Position is the single live position.
type Position struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	SizeUSD      decimal.Decimal `json:"size_usd"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	OrderID      string          `json:"order_id"`
	OpenedAt     time.Time       `json:"opened_at"`
}

// UnrealizedPnL is the mark-to-market profit in USD at the current price.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return pnl(p.Side, p.EntryPrice, p.CurrentPrice, p.SizeUSD)
}

func pnl(side Side, entry, price, sizeUSD decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	move := price.Sub(entry).Div(entry)
	if side == SideShort {
		move = move.Neg()
	}
	return sizeUSD.Mul(move)
}

// Tracker holds at most one position and drives its lifecycle.
type Tracker struct {
	mu  sync.Mutex
	pos *Position
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Open transitions FLAT to OPEN. The stop levels must bracket the entry
// on the correct sides for the position direction.
func (t *Tracker) Open(p Position) (*Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pos != nil {
		return nil, fmt.Errorf("%w: %s opened at %s", ErrPositionOpen, t.pos.Side, t.pos.EntryPrice)
	}
	if err := validateStops(p); err != nil {
		return nil, err
	}

	p.CurrentPrice = p.EntryPrice
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}
	t.pos = &p

	cp := p
	return &cp, nil
}

func validateStops(p Position) error {
	switch p.Side {
	case SideLong:
		if !p.StopLoss.LessThan(p.EntryPrice) || !p.TakeProfit.GreaterThan(p.EntryPrice) {
			return fmt.Errorf("%w: LONG needs stop %s < entry %s < take %s",
				ErrInvalidStops, p.StopLoss, p.EntryPrice, p.TakeProfit)
		}
	case SideShort:
		if !p.StopLoss.GreaterThan(p.EntryPrice) || !p.TakeProfit.LessThan(p.EntryPrice) {
			return fmt.Errorf("%w: SHORT needs take %s < entry %s < stop %s",
				ErrInvalidStops, p.TakeProfit, p.EntryPrice, p.StopLoss)
		}
	default:
		return fmt.Errorf("unknown side %q", p.Side)
	}
	return nil
}

// MarkPrice updates the live price and returns the unrealized P&L.
func (t *Tracker) MarkPrice(price decimal.Decimal) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pos == nil {
		return decimal.Zero, ErrNoPosition
	}
	t.pos.CurrentPrice = price
	return t.pos.UnrealizedPnL(), nil
}

// CheckExit reports whether the price has reached an exit level and the
// exit reason. Take-profit and stop-loss are the only exit triggers.
func (t *Tracker) CheckExit(price decimal.Decimal) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pos == nil {
		return "", false
	}

	switch t.pos.Side {
	case SideLong:
		if price.GreaterThanOrEqual(t.pos.TakeProfit) {
			return ReasonTakeProfit, true
		}
		if price.LessThanOrEqual(t.pos.StopLoss) {
			return ReasonStopLoss, true
		}
	case SideShort:
		if price.LessThanOrEqual(t.pos.TakeProfit) {
			return ReasonTakeProfit, true
		}
		if price.GreaterThanOrEqual(t.pos.StopLoss) {
			return ReasonStopLoss, true
		}
	}
	return "", false
}

// Close transitions OPEN to FLAT at the given exit price and returns the
// closed position and realized profit.
func (t *Tracker) Close(exitPrice decimal.Decimal) (Position, decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pos == nil {
		return Position{}, decimal.Zero, ErrNoPosition
	}

	closed := *t.pos
	closed.CurrentPrice = exitPrice
	profit := pnl(closed.Side, closed.EntryPrice, exitPrice, closed.SizeUSD)
	t.pos = nil
	return closed, profit, nil
}

// Position returns a snapshot of the open position, or nil when FLAT.
func (t *Tracker) Position() *Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pos == nil {
		return nil
	}
	cp := *t.pos
	return &cp
}

// IsOpen reports whether a position exists.
func (t *Tracker) IsOpen() bool {
	return t.Position() != nil
}
