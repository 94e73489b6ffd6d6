package market

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidSignal marks a malformed signal. It is a per-signal rejection,
// never a cycle failure.
var ErrInvalidSignal = errors.New("invalid signal")

type Side string

const (
	Yes Side = "YES"
	No  Side = "NO"
)

// ParseSide accepts yes/no in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "BUY_YES":
		return Yes, nil
	case "NO", "BUY_NO":
		return No, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrInvalidSignal, s)
}

func (s Side) Valid() bool { return s == Yes || s == No }

// Signal is a candidate trade produced by a strategy. EstimatedProbability
// and MarketPrice are both quoted for the outcome named by Side.
type Signal struct {
	MarketID             string  `json:"market_id" yaml:"market_id"`
	Question             string  `json:"question,omitempty" yaml:"question,omitempty"`
	Side                 Side    `json:"side" yaml:"side"`
	EstimatedProbability float64 `json:"estimated_probability" yaml:"estimated_probability"`
	MarketPrice          float64 `json:"market_price" yaml:"market_price"`
	Confidence           float64 `json:"confidence" yaml:"confidence"`
	Strategy             string  `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// Edge is the signed difference between the estimate and the market price.
func (s Signal) Edge() float64 {
	return s.EstimatedProbability - s.MarketPrice
}

// Validate checks the signal shape only. Risk limits are not applied here.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.MarketID) == "" {
		return fmt.Errorf("%w: market_id is required", ErrInvalidSignal)
	}
	if !s.Side.Valid() {
		return fmt.Errorf("%w: side must be YES or NO, got %q", ErrInvalidSignal, s.Side)
	}
	if !unit(s.EstimatedProbability) {
		return fmt.Errorf("%w: estimated_probability %v outside [0,1]", ErrInvalidSignal, s.EstimatedProbability)
	}
	if !unit(s.MarketPrice) {
		return fmt.Errorf("%w: market_price %v outside [0,1]", ErrInvalidSignal, s.MarketPrice)
	}
	if !unit(s.Confidence) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidSignal, s.Confidence)
	}
	return nil
}

func (s Signal) String() string {
	return fmt.Sprintf("%s %s p=%.3f px=%.3f edge=%+.3f conf=%.2f",
		s.MarketID, s.Side, s.EstimatedProbability, s.MarketPrice, s.Edge(), s.Confidence)
}

func unit(x float64) bool {
	return !math.IsNaN(x) && x >= 0 && x <= 1
}

// ProbEpsilon keeps probabilities and prices away from 0 and 1 before any
// division.
const ProbEpsilon = 1e-6

// ClampProb clamps x into the open interval (0,1).
func ClampProb(x float64) float64 {
	if math.IsNaN(x) {
		return 0.5
	}
	if x < ProbEpsilon {
		return ProbEpsilon
	}
	if x > 1-ProbEpsilon {
		return 1 - ProbEpsilon
	}
	return x
}
