package engine

import (
	"context"
	"time"

	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/shopspring/decimal"
)

// Status is the observable state of the pipeline.
type Status struct {
	Breaker           risk.BreakerState `json:"breaker"`
	HaltReason        risk.Reason       `json:"halt_reason,omitempty"`
	// Breach is set while a drawdown or daily loss limit is still exceeded.
	// Entries stay blocked even when the breaker reads ARMED.
	Breach            risk.Reason       `json:"breach,omitempty"`
	CooldownRemaining time.Duration     `json:"cooldown_remaining"`
	CooldownUntil     *time.Time        `json:"cooldown_until,omitempty"`
	DrawdownPct       decimal.Decimal   `json:"drawdown_pct"`
	DailyLossUSD      decimal.Decimal   `json:"daily_loss_usd"`
	ConsecutiveLosses int               `json:"consecutive_losses"`
	TradesToday       int               `json:"trades_today"`
	BalanceUSD        decimal.Decimal   `json:"balance_usd"`
	PeakBalanceUSD    decimal.Decimal   `json:"peak_balance_usd"`
	RealizedPnLUSD    decimal.Decimal   `json:"realized_pnl_usd"`
	UnrealizedPnLUSD  decimal.Decimal   `json:"unrealized_pnl_usd"`
	OpenPositions     int               `json:"open_positions"`
	ExposureUSD       decimal.Decimal   `json:"exposure_usd"`
	Seq               int64             `json:"seq"`
	Time              time.Time         `json:"time"`
}

// Status reports the breaker and ledger as of now. Unrealized pnl covers
// the open positions the quote source can price. It takes no lock and
// never blocks on a running cycle.
func (e *Engine) Status(ctx context.Context) Status {
	now := e.now()
	e.mu.RLock()
	s := e.proj.State
	open := e.proj.Book.Open()
	seq := e.proj.Seq
	e.mu.RUnlock()

	st := Status{
		Breaker:           e.breaker.State(s, now),
		HaltReason:        s.HaltReason,
		CooldownRemaining: s.CooldownRemaining(now),
		DrawdownPct:       s.DrawdownPct().Round(2),
		DailyLossUSD:      s.DailyLoss,
		ConsecutiveLosses: s.ConsecutiveLosses,
		TradesToday:       s.TradesToday,
		BalanceUSD:        s.Balance,
		PeakBalanceUSD:    s.PeakBalance,
		RealizedPnLUSD:    s.RealizedPnL,
		UnrealizedPnLUSD:  decimal.Zero,
		OpenPositions:     len(open),
		ExposureUSD:       decimal.Zero,
		Seq:               seq,
		Time:              now.UTC(),
	}
	if r := e.breaker.Breach(s); r != risk.ReasonOK {
		st.Breach = r
	}
	if st.Breaker == risk.Cooldown {
		st.CooldownUntil = s.CooldownUntil
	}
	for _, p := range open {
		st.ExposureUSD = st.ExposureUSD.Add(p.SizeUSD)
		q, err := e.quotes.GetQuote(ctx, p.MarketID)
		if err != nil {
			continue
		}
		st.UnrealizedPnLUSD = st.UnrealizedPnLUSD.Add(p.UnrealizedPnL(sidePrice(q.SidePrice(p.Side))))
	}
	return st
}

// State returns the committed risk state.
func (e *Engine) State() risk.State {
	return e.state()
}

// Positions lists open positions, or every position when all is set.
func (e *Engine) Positions(all bool) []position.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if all {
		return e.proj.Book.All()
	}
	return e.proj.Book.Open()
}

// Seq is the last journal sequence applied to memory.
func (e *Engine) Seq() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.proj.Seq
}
