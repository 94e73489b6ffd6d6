package strategy

import (
	"context"
	"math"

	"github.com/rustyeddy/pmtrader/market"
)

// Estimate is one market's inputs to Blend: a statistical probability and
// an optional news-derived adjustment.
type Estimate struct {
	MarketID string  `json:"market_id" yaml:"market_id"`
	Question string  `json:"question,omitempty" yaml:"question,omitempty"`
	YesPrice float64 `json:"yes_price" yaml:"yes_price"`
	StatProb float64 `json:"stat_prob" yaml:"stat_prob"`

	// NewsShift moves the market price toward the news view.
	NewsShift      float64 `json:"news_shift" yaml:"news_shift"`
	NewsConfidence float64 `json:"news_confidence" yaml:"news_confidence"`
	NewsStrength   float64 `json:"news_strength" yaml:"news_strength"`
}

type BlendConfig struct {
	StatWeight      float64 // 0.6
	NewsWeight      float64 // 0.4
	MinNewsStrength float64 // 0.3
	MinEdge         float64 // 0.05
}

func DefaultBlendConfig() BlendConfig {
	return BlendConfig{StatWeight: 0.6, NewsWeight: 0.4, MinNewsStrength: 0.3, MinEdge: 0.05}
}

// Blend turns estimates into signals. The blended figure is an ordinary
// estimated probability: the gate applies the same bounds and minimum edge
// to it as to any other signal.
type Blend struct {
	Config    BlendConfig
	Estimates func(ctx context.Context) ([]Estimate, error)
}

// FixedEstimates serves the same estimates on every call.
func FixedEstimates(ests []Estimate) func(context.Context) ([]Estimate, error) {
	return func(context.Context) ([]Estimate, error) {
		return ests, nil
	}
}

func (b Blend) Name() string { return "blend" }

func (b Blend) Signals(ctx context.Context) ([]market.Signal, error) {
	ests, err := b.Estimates(ctx)
	if err != nil {
		return nil, err
	}
	var out []market.Signal
	for _, e := range ests {
		if sig, ok := b.Signal(e); ok {
			out = append(out, sig)
		}
	}
	return out, nil
}

// Probability blends the statistical and news views. News weight scales
// with its strength and confidence and is ignored below MinNewsStrength.
func (b Blend) Probability(e Estimate) float64 {
	c := b.Config
	p := e.StatProb
	if e.NewsStrength > c.MinNewsStrength && e.NewsShift != 0 {
		nw := c.NewsWeight * e.NewsStrength * e.NewsConfidence
		sw := c.StatWeight
		if total := nw + sw; total > 0 {
			p = (e.StatProb*sw + (e.YesPrice+e.NewsShift)*nw) / total
		}
	}
	return math.Max(0.01, math.Min(0.99, p))
}

// Signal picks the side with at least MinEdge, YES first.
func (b Blend) Signal(e Estimate) (market.Signal, bool) {
	p := b.Probability(e)
	yesEdge := p - e.YesPrice
	noEdge := (1 - p) - (1 - e.YesPrice)

	sig := market.Signal{MarketID: e.MarketID, Question: e.Question, Strategy: b.Name()}
	switch {
	case yesEdge >= b.Config.MinEdge:
		sig.Side = market.Yes
		sig.EstimatedProbability = p
		sig.MarketPrice = e.YesPrice
	case noEdge >= b.Config.MinEdge:
		sig.Side = market.No
		sig.EstimatedProbability = 1 - p
		sig.MarketPrice = 1 - e.YesPrice
	default:
		return market.Signal{}, false
	}
	sig.Confidence = confidence(sig.Edge(), b.Config.MinEdge)
	return sig, true
}

func confidence(edge, minEdge float64) float64 {
	if minEdge <= 0 {
		return 1
	}
	return math.Min(1, edge/minEdge*0.4+0.2)
}
