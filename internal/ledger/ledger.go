package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of a trade record.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// TradeRecord is the durable form of one trade.
type TradeRecord struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"` // LONG or SHORT
	SizeUSD      decimal.Decimal `json:"size_usd"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	Profit       decimal.Decimal `json:"profit"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	SignalReason string          `json:"signal_reason"`
	ExitReason   string          `json:"exit_reason,omitempty"`
	Status       TradeStatus     `json:"status"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

// TradeUpdate is the close-time patch applied to an open record. Reason
// becomes the record's exit reason; the entry signal reason is immutable.
type TradeUpdate struct {
	ExitPrice decimal.Decimal
	Profit    decimal.Decimal
	Reason    string
	ClosedAt  time.Time
}

// Settings are the rolling engine settings owned by the ledger.
type Settings struct {
	CurrentPositionSize decimal.Decimal `json:"current_position_size"`
	MaxPositionSize     decimal.Decimal `json:"max_position_size"`
	TakeProfitPercent   float64         `json:"take_profit_percent"`
	StopLossPercent     float64         `json:"stop_loss_percent"`
	ConsecutiveWins     int             `json:"consecutive_wins"`
	ConsecutiveLosses   int             `json:"consecutive_losses"`
	TotalTrades         int             `json:"total_trades"`
	WinningTrades       int             `json:"winning_trades"`
	PortfolioValue      decimal.Decimal `json:"portfolio_value"`
}

// ErrTradeNotFound is returned when updating an unknown trade ID.
var ErrTradeNotFound = errors.New("trade not found")

// Ledger is the durable store for trade records and rolling settings.
type Ledger interface {
	CreateTrade(ctx context.Context, record *TradeRecord) error
	UpdateTrade(ctx context.Context, id string, patch TradeUpdate) error
	GetSettings(ctx context.Context) (Settings, error)
	UpdateSettings(ctx context.Context, settings Settings) error
}
