package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderResult is the fill report for a placed order.
type OrderResult struct {
	OrderID     string          `json:"order_id"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	FilledSize  decimal.Decimal `json:"filled_size"` // USD notional
}

// ErrOrderRejected is returned when the venue refuses the order.
var ErrOrderRejected = errors.New("order rejected")

// OrderExecutor places orders against a venue. PlaceOrder must respect
// ctx cancellation and its deadline; a nil limitPrice means market.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, side Side, usdSize decimal.Decimal, limitPrice *decimal.Decimal) (OrderResult, error)
}
