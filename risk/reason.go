package risk

// Reason explains a rejection. The breaker reports only the first group;
// the rest are produced by the execution gate around it.
type Reason string

const (
	ReasonOK                Reason = "OK"
	ReasonDailyLossExceeded Reason = "DAILY_LOSS_EXCEEDED"
	ReasonDrawdownExceeded  Reason = "DRAWDOWN_EXCEEDED"
	ReasonCooldownActive    Reason = "COOLDOWN_ACTIVE"
	ReasonMaxPositions      Reason = "MAX_POSITIONS_REACHED"
	ReasonProbOutOfBounds   Reason = "PROBABILITY_OUT_OF_BOUNDS"
	ReasonTradeCapReached   Reason = "TRADE_CAP_REACHED"

	ReasonInvalidSignal       Reason = "INVALID_SIGNAL"
	ReasonEdgeBelowMinimum    Reason = "EDGE_BELOW_MINIMUM"
	ReasonNoPositiveEdge      Reason = "NO_POSITIVE_EDGE"
	ReasonSizeBelowMinimum    Reason = "SIZE_BELOW_MINIMUM"
	ReasonDuplicateMarket     Reason = "DUPLICATE_MARKET"
	ReasonInsufficientBalance Reason = "INSUFFICIENT_BALANCE"
	ReasonExecutionFailed     Reason = "EXECUTION_FAILED"
)

// CapitalSafety reports whether the reason comes from a kill-switch
// threshold rather than from the signal itself.
func (r Reason) CapitalSafety() bool {
	return r == ReasonDailyLossExceeded || r == ReasonDrawdownExceeded
}
