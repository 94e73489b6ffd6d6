package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the persisted account record. It is a value: every ledger and
// breaker operation returns a new State and leaves its input untouched, so a
// caller can journal the result before adopting it.
type State struct {
	Balance          decimal.Decimal `json:"balance_usd"`
	StartingBalance  decimal.Decimal `json:"starting_balance_usd"`
	PeakBalance      decimal.Decimal `json:"peak_balance_usd"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl_usd"`
	DailyLoss        decimal.Decimal `json:"daily_loss_usd"`
	DailyLossResetAt time.Time       `json:"daily_loss_reset_at"`

	ConsecutiveLosses int        `json:"consecutive_losses"`
	CooldownUntil     *time.Time `json:"cooldown_until,omitempty"`
	TradesToday       int        `json:"trades_today"`
	Settlements       int        `json:"settlements"`

	Halted     bool       `json:"halted"`
	HaltReason Reason     `json:"halt_reason,omitempty"`
	HaltedAt   *time.Time `json:"halted_at,omitempty"`
}

// NewState opens a ledger with the given starting balance.
func NewState(starting decimal.Decimal, dayStart time.Time) State {
	return State{
		Balance:          starting,
		StartingBalance:  starting,
		PeakBalance:      starting,
		RealizedPnL:      decimal.Zero,
		DailyLoss:        decimal.Zero,
		DailyLossResetAt: dayStart.UTC(),
	}
}

// DrawdownPct is the percent decline of balance from its peak.
func (s State) DrawdownPct() decimal.Decimal {
	if !s.PeakBalance.IsPositive() {
		return decimal.Zero
	}
	return s.PeakBalance.Sub(s.Balance).Div(s.PeakBalance).Mul(decimal.NewFromInt(100))
}

// CooldownRemaining is zero when no cooldown is in force at now.
func (s State) CooldownRemaining(now time.Time) time.Duration {
	if s.CooldownUntil == nil || !now.Before(*s.CooldownUntil) {
		return 0
	}
	return s.CooldownUntil.Sub(now)
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
