package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/pmtrader/journal"
	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/notify"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// maintain applies the time-driven state changes: day rollover and
// cooldown expiry. The caller holds the cycle lock.
func (e *Engine) maintain(ctx context.Context) error {
	now := e.now()
	s := e.proj.State

	next, rolled := e.ledger.RolloverIfNeeded(s, now)
	next, expired := e.breaker.ExpireCooldown(next, now)
	if !rolled && !expired {
		return nil
	}

	var cause string
	switch {
	case rolled && expired:
		cause = "day rollover, cooldown expired"
	case rolled:
		cause = "day rollover"
	default:
		cause = "cooldown expired"
	}
	b := &batch{at: now}
	b.add(journal.RiskStateChanged, journal.RiskStatePayload{State: next, Cause: cause})
	if err := e.flush(ctx, b); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"cause":      cause,
		"day_start":  next.DailyLossResetAt.Format(time.RFC3339),
		"daily_loss": next.DailyLoss.StringFixed(2),
	}).Info("risk state maintained")
	return nil
}

// ClosePosition settles an open position at the current quote. A resolved
// market expires the position at its outcome price regardless of reason.
func (e *Engine) ClosePosition(ctx context.Context, id string, reason position.CloseReason) (position.Position, error) {
	var closed position.Position
	err := e.locked(ctx, func(ctx context.Context) error {
		if err := e.maintain(ctx); err != nil {
			return err
		}
		p, err := e.proj.Book.Lookup(id)
		if err != nil {
			return err
		}
		q, err := e.quotes.GetQuote(ctx, p.MarketID)
		if err != nil {
			return fmt.Errorf("close %s: %w", id, err)
		}
		closed, err = e.settleAtQuote(ctx, p, q, reason)
		return err
	})
	if err == nil {
		e.publish()
	}
	return closed, err
}

func (e *Engine) settleAtQuote(ctx context.Context, p position.Position, q market.Quote, reason position.CloseReason) (position.Position, error) {
	now := e.now()
	if q.Resolved {
		return e.settle(ctx, p, func(p position.Position) (position.Position, error) {
			return p.Expire(sidePrice(q.SettlementPrice(p.Side)), now)
		})
	}
	return e.settle(ctx, p, func(p position.Position) (position.Position, error) {
		return p.Close(sidePrice(q.SidePrice(p.Side)), reason, now)
	})
}

// settle moves p out of OPEN and books its pnl in one atomic append. The
// transition is computed from the position as stored, so a second
// settlement of the same position fails with position.ErrNotOpen and the
// ledger is never touched twice.
func (e *Engine) settle(ctx context.Context, p position.Position, transition func(position.Position) (position.Position, error)) (position.Position, error) {
	now := e.now()
	cur, err := e.proj.Book.Lookup(p.ID)
	if err != nil {
		return cur, err
	}
	closed, err := transition(cur)
	if err != nil {
		return cur, err
	}

	before := e.proj.State
	next := e.ledger.RecordSettlement(before, closed.PnL())
	next, tripped := e.breaker.Transition(next, now)

	b := &batch{at: now}
	b.add(journal.PositionClosed, journal.PositionPayload{Position: closed})
	b.add(journal.RiskStateChanged, journal.RiskStatePayload{State: next, Cause: "settlement " + closed.ID})
	if err := e.flush(ctx, b); err != nil {
		return cur, err
	}

	e.log.WithFields(logrus.Fields{
		"position_id": closed.ID,
		"market_id":   closed.MarketID,
		"status":      closed.Status,
		"reason":      closed.CloseReason,
		"pnl":         closed.PnL().StringFixed(2),
		"balance":     next.Balance.StringFixed(2),
	}).Info("position settled")
	e.obs.Settled(closed)
	pnl, _ := closed.PnL().Float64()
	e.notifier.Notify(&notify.Notification{
		Kind:       notify.KindSettled,
		Title:      fmt.Sprintf("Position %s", closed.Status),
		Message:    closed.String(),
		MarketID:   closed.MarketID,
		PositionID: closed.ID,
		PnL:        pnl,
		Time:       now,
	})
	if tripped {
		e.breakerTripped(before, next, now)
	}
	return closed, nil
}

func (e *Engine) breakerTripped(before, after risk.State, now time.Time) {
	state := e.breaker.State(after, now)
	fields := logrus.Fields{
		"drawdown_pct":       after.DrawdownPct().StringFixed(2),
		"daily_loss":         after.DailyLoss.StringFixed(2),
		"consecutive_losses": after.ConsecutiveLosses,
	}
	switch {
	case state == risk.Halted && !before.Halted:
		e.log.WithFields(fields).WithField("reason", after.HaltReason).Error("kill switch engaged")
		e.notifier.Notify(&notify.Notification{
			Kind:    notify.KindHalted,
			Title:   "Trading halted",
			Message: fmt.Sprintf("%s: drawdown %s%%, daily loss $%s", after.HaltReason, after.DrawdownPct().StringFixed(2), after.DailyLoss.StringFixed(2)),
			Time:    now,
		})
	case state == risk.Cooldown:
		e.log.WithFields(fields).WithField("until", after.CooldownUntil.Format(time.RFC3339)).Warn("circuit breaker cooldown")
		e.notifier.Notify(&notify.Notification{
			Kind:    notify.KindCooldown,
			Title:   "Cooldown",
			Message: fmt.Sprintf("%d consecutive losses, paused until %s", after.ConsecutiveLosses, after.CooldownUntil.Format(time.RFC3339)),
			Time:    now,
		})
	}
}

// ForceReset clears a halt. It is the only way out of HALTED and does not
// touch the loss counters or any cooldown.
func (e *Engine) ForceReset(ctx context.Context) (bool, error) {
	var changed bool
	err := e.locked(ctx, func(ctx context.Context) error {
		now := e.now()
		before := e.proj.State
		next, ok := e.breaker.Reset(before)
		if !ok {
			return nil
		}
		b := &batch{at: now}
		b.add(journal.RiskStateChanged, journal.RiskStatePayload{State: next, Cause: "force reset"})
		if err := e.flush(ctx, b); err != nil {
			return err
		}
		changed = true
		e.log.WithField("halt_reason", before.HaltReason).Warn("kill switch reset")
		e.notifier.Notify(&notify.Notification{
			Kind:    notify.KindReset,
			Title:   "Trading resumed",
			Message: fmt.Sprintf("halt (%s) cleared manually", before.HaltReason),
			Time:    now,
		})
		return nil
	})
	if err == nil {
		e.publish()
	}
	return changed, err
}

func sidePrice(x float64) decimal.Decimal {
	return decimal.NewFromFloat(x).Round(4)
}
