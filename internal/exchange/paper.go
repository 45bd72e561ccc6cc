package exchange

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QuoteFunc supplies the current market price for paper fills.
type QuoteFunc func() (decimal.Decimal, error)

// PaperExecutor fills orders instantly at the quoted price plus a fixed
// slippage. Selected by configuration for simulated trading; it is never
// a silent fallback inside the live path.
type PaperExecutor struct {
	mu          sync.Mutex
	quote       QuoteFunc
	slippageBps int64
	orders      []OrderResult
}

func NewPaperExecutor(quote QuoteFunc, slippageBps int64) *PaperExecutor {
	return &PaperExecutor{quote: quote, slippageBps: slippageBps}
}

// PlaceOrder fills at quote adjusted against the taker: buys fill
// slightly above, sells slightly below.
func (e *PaperExecutor) PlaceOrder(ctx context.Context, side Side, usdSize decimal.Decimal, limitPrice *decimal.Decimal) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}
	if !usdSize.IsPositive() {
		return OrderResult{}, errors.New("order size must be positive")
	}

	price, err := e.quote()
	if err != nil {
		return OrderResult{}, err
	}
	if limitPrice != nil {
		price = *limitPrice
	} else if e.slippageBps != 0 {
		slip := price.Mul(decimal.NewFromInt(e.slippageBps)).Div(decimal.NewFromInt(10000))
		if side == SideBuy {
			price = price.Add(slip)
		} else {
			price = price.Sub(slip)
		}
	}

	result := OrderResult{
		OrderID:     uuid.NewString(),
		FilledPrice: price,
		FilledSize:  usdSize,
	}

	e.mu.Lock()
	e.orders = append(e.orders, result)
	e.mu.Unlock()
	return result, nil
}

// Orders returns a copy of every paper fill, oldest first.
func (e *PaperExecutor) Orders() []OrderResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]OrderResult, len(e.orders))
	copy(out, e.orders)
	return out
}
