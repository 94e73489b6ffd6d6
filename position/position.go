package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/pmtrader/market"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("position not found")
	ErrNotOpen   = errors.New("position not open")
	ErrDuplicate = errors.New("position already exists")
)

type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosed  Status = "CLOSED"
	StatusExpired Status = "EXPIRED"
)

func (s Status) Terminal() bool { return s == StatusClosed || s == StatusExpired }

type CloseReason string

const (
	ReasonResolved     CloseReason = "RESOLVED"
	ReasonStopLoss     CloseReason = "STOP_LOSS"
	ReasonTakeProfit   CloseReason = "TAKE_PROFIT"
	ReasonStrategyExit CloseReason = "STRATEGY_EXIT"
	ReasonManual       CloseReason = "MANUAL"
)

// Position is one filled order on a binary market. Prices are those of the
// held side, so a NO position bought at 0.30 pays 1.00 if NO wins.
type Position struct {
	ID         string          `json:"id"`
	MarketID   string          `json:"market_id"`
	Side       market.Side     `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	SizeUSD    decimal.Decimal `json:"size_usd"`
	OpenedAt   time.Time       `json:"opened_at"`
	Status     Status          `json:"status"`

	ExitPrice   *decimal.Decimal `json:"exit_price,omitempty"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"`
	CloseReason CloseReason      `json:"close_reason,omitempty"`
	ClosedAt    *time.Time       `json:"closed_at,omitempty"`

	// What the strategy believed at entry, kept for calibration stats.
	EstimatedProbability float64 `json:"estimated_probability"`
	SignalPrice          float64 `json:"signal_price"`
	Strategy             string  `json:"strategy,omitempty"`
}

// New builds an OPEN position from a fill on sig.
func New(id string, sig market.Signal, entry, size decimal.Decimal, at time.Time) (Position, error) {
	if !entry.IsPositive() || entry.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Position{}, fmt.Errorf("entry price %s outside (0,1)", entry)
	}
	if !size.IsPositive() {
		return Position{}, fmt.Errorf("size %s must be positive", size)
	}
	return Position{
		ID:                   id,
		MarketID:             sig.MarketID,
		Side:                 sig.Side,
		EntryPrice:           entry,
		SizeUSD:              size,
		OpenedAt:             at.UTC(),
		Status:               StatusOpen,
		EstimatedProbability: sig.EstimatedProbability,
		SignalPrice:          sig.MarketPrice,
		Strategy:             sig.Strategy,
	}, nil
}

func (p Position) IsOpen() bool { return p.Status == StatusOpen }

// Edge is the edge the strategy claimed when the position was opened.
func (p Position) Edge() float64 { return p.EstimatedProbability - p.SignalPrice }

// RealizedPnL returns (exit - entry) * size / entry rounded to cents. The
// prices are those of the held side.
func RealizedPnL(entry, exit, size decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	return exit.Sub(entry).Mul(size).Div(entry).Round(2)
}

// UnrealizedPnL marks the position at the current side price.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if !p.IsOpen() {
		return decimal.Zero
	}
	return RealizedPnL(p.EntryPrice, price, p.SizeUSD)
}

// Close returns the CLOSED version of p. The receiver is not modified, so
// the caller can persist the result before committing it.
func (p Position) Close(exit decimal.Decimal, reason CloseReason, at time.Time) (Position, error) {
	return p.settle(StatusClosed, exit, reason, at)
}

// Expire returns the EXPIRED version of p settled at the resolved payout
// of its side (0 or 1).
func (p Position) Expire(payout decimal.Decimal, at time.Time) (Position, error) {
	return p.settle(StatusExpired, payout, ReasonResolved, at)
}

func (p Position) settle(status Status, exit decimal.Decimal, reason CloseReason, at time.Time) (Position, error) {
	if !p.IsOpen() {
		return p, fmt.Errorf("%w: %s is %s", ErrNotOpen, p.ID, p.Status)
	}
	pnl := RealizedPnL(p.EntryPrice, exit, p.SizeUSD)
	closedAt := at.UTC()

	next := p
	next.Status = status
	next.ExitPrice = &exit
	next.RealizedPnL = &pnl
	next.CloseReason = reason
	next.ClosedAt = &closedAt
	return next, nil
}

// PnL returns the realized pnl or zero while the position is open.
func (p Position) PnL() decimal.Decimal {
	if p.RealizedPnL == nil {
		return decimal.Zero
	}
	return *p.RealizedPnL
}

func (p Position) String() string {
	s := fmt.Sprintf("%s %s %s $%s @ %s %s", p.ID, p.MarketID, p.Side,
		p.SizeUSD.StringFixed(2), p.EntryPrice.StringFixed(4), p.Status)
	if p.ExitPrice != nil {
		s += fmt.Sprintf(" exit=%s pnl=%s (%s)", p.ExitPrice.StringFixed(4), p.PnL().StringFixed(2), p.CloseReason)
	}
	return s
}
