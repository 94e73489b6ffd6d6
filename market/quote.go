package market

import "time"

// Quote is the feed's view of a single binary market. YesPrice is the price
// of the YES outcome; the NO side trades at 1-YesPrice.
type Quote struct {
	MarketID string    `json:"market_id" yaml:"market_id"`
	YesPrice float64   `json:"yes_price" yaml:"yes_price"`
	Time     time.Time `json:"time,omitempty" yaml:"time,omitempty"`

	// Resolved is set once the market has settled. Outcome is then 1 when
	// YES won and 0 when NO won.
	Resolved bool    `json:"resolved,omitempty" yaml:"resolved,omitempty"`
	Outcome  float64 `json:"outcome,omitempty" yaml:"outcome,omitempty"`
}

// SidePrice returns the current price of the given side.
func (q Quote) SidePrice(side Side) float64 {
	if side == No {
		return 1 - q.YesPrice
	}
	return q.YesPrice
}

// SettlementPrice returns the resolved payout (0 or 1) for the given side.
func (q Quote) SettlementPrice(side Side) float64 {
	out := 0.0
	if q.Outcome >= 0.5 {
		out = 1
	}
	if side == No {
		return 1 - out
	}
	return out
}
