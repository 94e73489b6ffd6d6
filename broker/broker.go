package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/pmtrader/market"
	"github.com/shopspring/decimal"
)

// ErrOrderFailed marks a venue-side failure. No position exists for a
// failed order.
var ErrOrderFailed = errors.New("order failed")

// Venue executes approved orders. Implementations must not retry on their
// own; the next cycle decides whether to submit again.
type Venue interface {
	Name() string
	Execute(ctx context.Context, req OrderRequest) (Fill, error)
}

type OrderRequest struct {
	ClientID string
	MarketID string
	Side     market.Side
	SizeUSD  decimal.Decimal

	// SignalPrice is the side price the strategy saw. Venues may refuse to
	// fill far away from it.
	SignalPrice float64
}

// Fill confirms an executed order. Price is the side price paid including
// slippage and fees.
type Fill struct {
	OrderID  string          `json:"order_id"`
	MarketID string          `json:"market_id"`
	Side     market.Side     `json:"side"`
	Price    decimal.Decimal `json:"price"`
	SizeUSD  decimal.Decimal `json:"size_usd"`
	FeeUSD   decimal.Decimal `json:"fee_usd"`
	Time     time.Time       `json:"time"`
}
