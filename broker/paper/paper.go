// Package paper is a venue that fills orders against a quote feed without
// touching a real exchange.
package paper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/pmtrader/broker"
	"github.com/rustyeddy/pmtrader/pkg/id"
	"github.com/rustyeddy/pmtrader/pricing"
	"github.com/shopspring/decimal"
)

const maxFill = 0.999

type Options struct {
	// Slippage is added to the quoted side price, in price units.
	Slippage float64
	// FeePct marks the fill price up by this percentage.
	FeePct float64
	// MaxDeviation rejects orders whose fill would be further than this
	// from the signal price. Zero disables the check.
	MaxDeviation float64
	Now          func() time.Time
}

type Venue struct {
	quotes pricing.QuoteSource
	opts   Options

	mu    sync.Mutex
	fills []broker.Fill
}

func New(quotes pricing.QuoteSource, opts Options) *Venue {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Venue{quotes: quotes, opts: opts}
}

func (v *Venue) Name() string { return "paper" }

func (v *Venue) Execute(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	if !req.SizeUSD.IsPositive() {
		return broker.Fill{}, fmt.Errorf("%w: size %s", broker.ErrOrderFailed, req.SizeUSD)
	}
	q, err := v.quotes.GetQuote(ctx, req.MarketID)
	if err != nil {
		return broker.Fill{}, fmt.Errorf("%w: %v", broker.ErrOrderFailed, err)
	}
	if q.Resolved {
		return broker.Fill{}, fmt.Errorf("%w: market %s already resolved", broker.ErrOrderFailed, req.MarketID)
	}

	base := q.SidePrice(req.Side)
	if base <= 0 || base >= 1 {
		return broker.Fill{}, fmt.Errorf("%w: no liquidity at %.4f", broker.ErrOrderFailed, base)
	}
	px := math.Min((base+v.opts.Slippage)*(1+v.opts.FeePct/100), maxFill)
	if v.opts.MaxDeviation > 0 && req.SignalPrice > 0 && math.Abs(px-req.SignalPrice) > v.opts.MaxDeviation {
		return broker.Fill{}, fmt.Errorf("%w: fill %.4f too far from signal %.4f", broker.ErrOrderFailed, px, req.SignalPrice)
	}

	fill := broker.Fill{
		OrderID:  id.New(),
		MarketID: req.MarketID,
		Side:     req.Side,
		Price:    decimal.NewFromFloat(px).Round(4),
		SizeUSD:  req.SizeUSD,
		FeeUSD:   req.SizeUSD.Mul(decimal.NewFromFloat(v.opts.FeePct)).Div(decimal.NewFromInt(100)).Round(2),
		Time:     v.opts.Now().UTC(),
	}

	v.mu.Lock()
	v.fills = append(v.fills, fill)
	v.mu.Unlock()
	return fill, nil
}

// Fills returns every fill so far.
func (v *Venue) Fills() []broker.Fill {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]broker.Fill(nil), v.fills...)
}
