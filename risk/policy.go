package risk

import "time"

// Policy holds the account-level limits enforced by the breaker. A zero
// limit disables the corresponding check.
type Policy struct {
	StartingBalanceUSD float64

	// Kill switch
	MaxDailyLossUSD float64 // 20
	MaxDrawdownPct  float64 // 20 (percent of peak)

	// Losing streak
	CircuitBreakerLosses int           // 3
	Cooldown             time.Duration // 120m

	// Exposure
	MaxTradesPerDay  int // 10
	MaxOpenPositions int // 5

	// Signal bounds
	MinEntryProbability float64 // 0.15
	MaxEntryProbability float64 // 0.85
	MinEdge             float64 // 0.05

	// DayBoundary is the offset from 00:00 UTC at which the trading day
	// rolls over.
	DayBoundary time.Duration
}

// SizingPolicy configures the bounded Kelly sizer.
type SizingPolicy struct {
	MaxKellyFraction   float64 // 0.25
	KellyMultiplier    float64 // 0.25
	MinPositionUSD     float64 // 1
	MaxPositionUSD     float64 // 25
	DefaultPositionUSD float64 // 5
}

func DefaultPolicy() Policy {
	return Policy{
		StartingBalanceUSD:   200,
		MaxDailyLossUSD:      20,
		MaxDrawdownPct:       20,
		CircuitBreakerLosses: 3,
		Cooldown:             120 * time.Minute,
		MaxTradesPerDay:      10,
		MaxOpenPositions:     5,
		MinEntryProbability:  0.15,
		MaxEntryProbability:  0.85,
		MinEdge:              0.05,
	}
}

func DefaultSizingPolicy() SizingPolicy {
	return SizingPolicy{
		MaxKellyFraction:   0.25,
		KellyMultiplier:    0.25,
		MinPositionUSD:     1,
		MaxPositionUSD:     25,
		DefaultPositionUSD: 5,
	}
}
