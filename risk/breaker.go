package risk

import (
	"fmt"
	"time"

	"github.com/rustyeddy/pmtrader/market"
	"github.com/shopspring/decimal"
)

type BreakerState string

const (
	Armed    BreakerState = "ARMED"
	Cooldown BreakerState = "COOLDOWN"
	Halted   BreakerState = "HALTED"
)

// Decision is the breaker's verdict on one signal.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Reason  Reason       `json:"reason"`
	Detail  string       `json:"detail,omitempty"`
	State   BreakerState `json:"state"`
}

func (d *Decision) reject(r Reason, format string, args ...any) {
	d.Allowed = false
	d.Reason = r
	d.Detail = fmt.Sprintf(format, args...)
}

// Breaker is the kill switch and losing-streak cooldown over a State.
//
// Losing streaks heal on their own once the cooldown elapses. Drawdown and
// daily loss halts stay in force until Reset is called.
type Breaker struct {
	Policy Policy
}

// State derives the breaker state from the ledger at now.
func (b Breaker) State(s State, now time.Time) BreakerState {
	if s.Halted {
		return Halted
	}
	if s.CooldownRemaining(now) > 0 {
		return Cooldown
	}
	return Armed
}

// Breach returns the kill-switch threshold the state currently violates,
// or ReasonOK. Drawdown is checked before daily loss.
func (b Breaker) Breach(s State) Reason {
	p := b.Policy
	if p.MaxDrawdownPct > 0 && s.DrawdownPct().GreaterThanOrEqual(decimal.NewFromFloat(p.MaxDrawdownPct)) {
		return ReasonDrawdownExceeded
	}
	if p.MaxDailyLossUSD > 0 && s.DailyLoss.GreaterThanOrEqual(decimal.NewFromFloat(p.MaxDailyLossUSD)) {
		return ReasonDailyLossExceeded
	}
	return ReasonOK
}

// Transition applies the automatic state changes after a settlement:
// ARMED|COOLDOWN -> HALTED on a capital breach, and ARMED -> COOLDOWN when
// the losing streak reaches the threshold. It reports whether anything
// changed.
func (b Breaker) Transition(s State, now time.Time) (State, bool) {
	if s.Halted {
		return s, false
	}

	if r := b.Breach(s); r != ReasonOK {
		next := s
		next.Halted = true
		next.HaltReason = r
		next.HaltedAt = timePtr(now)
		return next, true
	}

	p := b.Policy
	if p.CircuitBreakerLosses > 0 && s.ConsecutiveLosses >= p.CircuitBreakerLosses && b.State(s, now) == Armed {
		next := s
		next.CooldownUntil = timePtr(now.Add(p.Cooldown))
		return next, true
	}
	return s, false
}

// ExpireCooldown clears an elapsed cooldown and starts a fresh losing
// streak.
func (b Breaker) ExpireCooldown(s State, now time.Time) (State, bool) {
	if s.CooldownUntil == nil || now.Before(*s.CooldownUntil) {
		return s, false
	}
	next := s
	next.CooldownUntil = nil
	next.ConsecutiveLosses = 0
	return next, true
}

// Reset clears a halt. It is the only way out of HALTED.
func (b Breaker) Reset(s State) (State, bool) {
	if !s.Halted {
		return s, false
	}
	next := s
	next.Halted = false
	next.HaltReason = ""
	next.HaltedAt = nil
	return next, true
}

// Evaluate decides whether a signal may trade. Capital-safety checks run
// first so the most severe reason is the one reported. Evaluate never
// modifies s.
func (b Breaker) Evaluate(sig market.Signal, s State, openPositions int, now time.Time) Decision {
	p := b.Policy
	d := Decision{Allowed: true, Reason: ReasonOK, State: b.State(s, now)}

	switch {
	case s.Halted:
		r := s.HaltReason
		if r == "" {
			r = ReasonDrawdownExceeded
		}
		d.reject(r, "kill switch engaged since %s", fmtTime(s.HaltedAt))
	case b.Breach(s) != ReasonOK:
		d.reject(b.Breach(s), "drawdown %s%%, daily loss $%s", s.DrawdownPct().StringFixed(2), s.DailyLoss.StringFixed(2))
	case d.State == Cooldown:
		d.reject(ReasonCooldownActive, "cooldown active, %s remaining", s.CooldownRemaining(now).Round(time.Second))
	case p.MaxTradesPerDay > 0 && s.TradesToday >= p.MaxTradesPerDay:
		d.reject(ReasonTradeCapReached, "trades today %d >= max %d", s.TradesToday, p.MaxTradesPerDay)
	case p.MaxOpenPositions > 0 && openPositions >= p.MaxOpenPositions:
		d.reject(ReasonMaxPositions, "open positions %d >= max %d", openPositions, p.MaxOpenPositions)
	case sig.EstimatedProbability < p.MinEntryProbability || sig.EstimatedProbability > p.MaxEntryProbability:
		d.reject(ReasonProbOutOfBounds, "probability %.3f outside [%.2f, %.2f]",
			sig.EstimatedProbability, p.MinEntryProbability, p.MaxEntryProbability)
	}
	return d
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
