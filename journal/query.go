package journal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/pmtrader/position"
	"github.com/shopspring/decimal"
)

// Settled returns every terminal position recorded in j whose close time
// falls in [start, end). A zero end means no upper bound.
func Settled(ctx context.Context, j Journal, start, end time.Time) ([]position.Position, error) {
	events, err := j.Since(ctx, 0)
	if err != nil {
		return nil, err
	}

	var out []position.Position
	for _, e := range events {
		if e.Type != PositionClosed {
			continue
		}
		var pl PositionPayload
		if err := e.Decode(&pl); err != nil {
			return nil, err
		}
		p := pl.Position
		if p.ClosedAt == nil || p.ClosedAt.Before(start) {
			continue
		}
		if !end.IsZero() && !p.ClosedAt.Before(end) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].ClosedAt.Before(*out[k].ClosedAt) })
	return out, nil
}

// PositionHistory decodes the events for one position, oldest first.
func PositionHistory(ctx context.Context, j Journal, id string) ([]position.Position, error) {
	events, err := j.ForPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("position %q not found", id)
	}
	out := make([]position.Position, 0, len(events))
	for _, e := range events {
		var pl PositionPayload
		if err := e.Decode(&pl); err != nil {
			return nil, err
		}
		out = append(out, pl.Position)
	}
	return out, nil
}

// CalibrationBin groups resolved positions by the probability the strategy
// assigned at entry.
type CalibrationBin struct {
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	Count         int     `json:"count"`
	MeanPredicted float64 `json:"mean_predicted"`
	Observed      float64 `json:"observed"`
}

type Stats struct {
	Settled      int             `json:"settled"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	WinRate      float64         `json:"win_rate"`
	TotalPnL     decimal.Decimal `json:"total_pnl_usd"`
	GrossProfit  decimal.Decimal `json:"gross_profit_usd"`
	GrossLoss    decimal.Decimal `json:"gross_loss_usd"`
	ProfitFactor float64         `json:"profit_factor"`
	AvgEdge      float64         `json:"avg_edge"`

	// Brier score and calibration use resolved (EXPIRED) positions only;
	// early closes have no outcome.
	Resolved    int              `json:"resolved"`
	Brier       float64          `json:"brier"`
	Calibration []CalibrationBin `json:"calibration"`
}

// ComputeStats summarizes terminal positions. Open positions are ignored.
func ComputeStats(ps []position.Position) Stats {
	st := Stats{TotalPnL: decimal.Zero, GrossProfit: decimal.Zero, GrossLoss: decimal.Zero}

	var bins [10]struct {
		n         int
		pred, out float64
	}
	var edgeSum, brierSum float64

	for _, p := range ps {
		if !p.Status.Terminal() {
			continue
		}
		st.Settled++
		pnl := p.PnL()
		st.TotalPnL = st.TotalPnL.Add(pnl)
		switch {
		case pnl.IsPositive():
			st.Wins++
			st.GrossProfit = st.GrossProfit.Add(pnl)
		case pnl.IsNegative():
			st.Losses++
			st.GrossLoss = st.GrossLoss.Add(pnl.Neg())
		}
		edgeSum += p.Edge()

		if p.Status != position.StatusExpired || p.ExitPrice == nil {
			continue
		}
		outcome, _ := p.ExitPrice.Float64()
		pred := p.EstimatedProbability
		st.Resolved++
		brierSum += (pred - outcome) * (pred - outcome)

		i := int(math.Floor(pred * 10))
		if i > 9 {
			i = 9
		}
		if i < 0 {
			i = 0
		}
		bins[i].n++
		bins[i].pred += pred
		bins[i].out += outcome
	}

	if st.Settled > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Settled)
		st.AvgEdge = edgeSum / float64(st.Settled)
	}
	if st.GrossLoss.IsPositive() {
		st.ProfitFactor, _ = st.GrossProfit.Div(st.GrossLoss).Float64()
	}
	if st.Resolved > 0 {
		st.Brier = brierSum / float64(st.Resolved)
	}
	for i, b := range bins {
		if b.n == 0 {
			continue
		}
		st.Calibration = append(st.Calibration, CalibrationBin{
			Lower:         float64(i) / 10,
			Upper:         float64(i+1) / 10,
			Count:         b.n,
			MeanPredicted: b.pred / float64(b.n),
			Observed:      b.out / float64(b.n),
		})
	}
	return st
}
