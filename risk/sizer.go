package risk

import (
	"errors"
	"math"

	"github.com/rustyeddy/pmtrader/market"
	"github.com/shopspring/decimal"
)

var (
	ErrNoPositiveEdge      = errors.New("no positive edge")
	ErrSizeBelowMinimum    = errors.New("size below minimum")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Kelly returns the unbounded Kelly-style fraction edge / (p(1-p)) for a
// binary contract priced at p. The price is clamped into (0,1) first.
func Kelly(edge, price float64) float64 {
	p := market.ClampProb(price)
	return edge / (p * (1 - p))
}

// ConfidenceScalar maps signal confidence onto the default position size.
func ConfidenceScalar(c float64) float64 {
	return math.Max(0, math.Min(1, c))
}

// Sizer turns an approved signal into a dollar size.
type Sizer struct {
	Policy SizingPolicy
}

// Size computes the order size for sig given the ledger and the capital not
// already committed to open positions.
//
//	kelly = clamp(edge / (p(1-p)), 0, MaxKellyFraction)
//	raw   = balance * kelly * KellyMultiplier
//	size  = clamp(raw, MinPositionUSD, MaxPositionUSD)
//
// A confidence below 1 further caps the size at
// DefaultPositionUSD * ConfidenceScalar(confidence). Sizes are truncated to
// cents.
func (z Sizer) Size(sig market.Signal, s State, available decimal.Decimal) (decimal.Decimal, error) {
	p := z.Policy
	edge := sig.Edge()
	if edge <= 0 {
		return decimal.Zero, ErrNoPositiveEdge
	}

	kf := math.Min(Kelly(edge, sig.MarketPrice), p.MaxKellyFraction)
	if kf <= 0 || math.IsNaN(kf) {
		return decimal.Zero, ErrNoPositiveEdge
	}

	minSize := decimal.NewFromFloat(p.MinPositionUSD)
	maxSize := decimal.NewFromFloat(p.MaxPositionUSD)

	size := s.Balance.Mul(decimal.NewFromFloat(kf)).Mul(decimal.NewFromFloat(p.KellyMultiplier))
	if size.LessThan(minSize) {
		size = minSize
	}
	if p.MaxPositionUSD > 0 && size.GreaterThan(maxSize) {
		size = maxSize
	}

	if sig.Confidence < 1 {
		limit := decimal.NewFromFloat(p.DefaultPositionUSD * ConfidenceScalar(sig.Confidence))
		if size.GreaterThan(limit) {
			size = limit
		}
	}
	size = size.Truncate(2)
	if size.LessThan(minSize) || !size.IsPositive() {
		return decimal.Zero, ErrSizeBelowMinimum
	}

	if size.GreaterThan(available) {
		size = available.Truncate(2)
		if size.LessThan(minSize) || !size.IsPositive() {
			return decimal.Zero, ErrInsufficientBalance
		}
	}
	return size, nil
}
