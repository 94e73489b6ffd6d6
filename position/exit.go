package position

import "github.com/shopspring/decimal"

// ExitRule closes positions whose side price has moved a set percentage
// away from entry. A zero percentage disables that side of the rule.
type ExitRule struct {
	StopLossPct   float64
	TakeProfitPct float64
}

var hundred = decimal.NewFromInt(100)

// Check reports whether p should be closed at the current side price.
// The stop is tested first.
func (r ExitRule) Check(p Position, price decimal.Decimal) (CloseReason, bool) {
	if !p.IsOpen() {
		return "", false
	}
	if r.StopLossPct > 0 {
		stop := p.EntryPrice.Mul(hundred.Sub(decimal.NewFromFloat(r.StopLossPct))).Div(hundred)
		if price.LessThanOrEqual(stop) {
			return ReasonStopLoss, true
		}
	}
	if r.TakeProfitPct > 0 {
		take := p.EntryPrice.Mul(hundred.Add(decimal.NewFromFloat(r.TakeProfitPct))).Div(hundred)
		if price.GreaterThanOrEqual(take) {
			return ReasonTakeProfit, true
		}
	}
	return "", false
}
