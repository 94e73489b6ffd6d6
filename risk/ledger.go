package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger applies settlements and day rollovers to a State. It holds no
// state of its own.
type Ledger struct {
	// DayBoundary is the offset from 00:00 UTC where a trading day starts.
	DayBoundary time.Duration
}

// DayStart returns the start of the trading day containing now.
func (l Ledger) DayStart(now time.Time) time.Time {
	shifted := now.UTC().Add(-l.DayBoundary)
	midnight := time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Add(l.DayBoundary)
}

// RecordSettlement books the realized pnl of a just-closed position.
//
// Losses add to the daily loss accumulator; gains never reduce it. The
// losing streak grows on a loss and resets on a gain or flat close. The
// peak only ever moves up.
func (l Ledger) RecordSettlement(s State, pnl decimal.Decimal) State {
	next := s
	next.Balance = s.Balance.Add(pnl)
	next.RealizedPnL = s.RealizedPnL.Add(pnl)
	next.Settlements = s.Settlements + 1

	if pnl.IsNegative() {
		next.DailyLoss = s.DailyLoss.Add(pnl.Neg())
		next.ConsecutiveLosses = s.ConsecutiveLosses + 1
	} else {
		next.ConsecutiveLosses = 0
	}

	if next.Balance.GreaterThan(s.PeakBalance) {
		next.PeakBalance = next.Balance
	}
	return next
}

// RecordEntry counts a newly opened position against today's trade cap.
func (l Ledger) RecordEntry(s State) State {
	next := s
	next.TradesToday = s.TradesToday + 1
	return next
}

// RolloverIfNeeded resets the daily counters once now has crossed into a
// later trading day than DailyLossResetAt. Calling it again within the same
// day is a no-op. Halts and losing streaks are not touched.
func (l Ledger) RolloverIfNeeded(s State, now time.Time) (State, bool) {
	start := l.DayStart(now)
	if !start.After(s.DailyLossResetAt) {
		return s, false
	}
	next := s
	next.DailyLoss = decimal.Zero
	next.TradesToday = 0
	next.DailyLossResetAt = start
	return next, true
}
