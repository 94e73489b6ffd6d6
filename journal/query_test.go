package journal

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settledPos(t *testing.T, id string, est, entry float64, exit string, expire bool) position.Position {
	t.Helper()
	sig := market.Signal{MarketID: "m-" + id, Side: market.Yes, EstimatedProbability: est, MarketPrice: entry, Confidence: 1}
	p, err := position.New(id, sig, decimal.NewFromFloat(entry), decimal.NewFromInt(10), t0)
	require.NoError(t, err)
	if expire {
		p, err = p.Expire(decimal.RequireFromString(exit), t0.Add(time.Hour))
	} else {
		p, err = p.Close(decimal.RequireFromString(exit), position.ReasonStopLoss, t0.Add(time.Hour))
	}
	require.NoError(t, err)
	return p
}

func TestComputeStats(t *testing.T) {
	t.Parallel()

	ps := []position.Position{
		settledPos(t, "a", 0.65, 0.50, "1", true),     // +10
		settledPos(t, "b", 0.62, 0.50, "0", true),     // -10
		settledPos(t, "c", 0.30, 0.20, "1", true),     // +40
		settledPos(t, "d", 0.60, 0.50, "0.25", false), // -5, no outcome
	}
	open, err := position.New("e", testSignal("m"), decimal.RequireFromString("0.5"), decimal.NewFromInt(10), t0)
	require.NoError(t, err)
	ps = append(ps, open)

	st := ComputeStats(ps)
	assert.Equal(t, 4, st.Settled)
	assert.Equal(t, 2, st.Wins)
	assert.Equal(t, 2, st.Losses)
	assert.InDelta(t, 0.5, st.WinRate, 1e-9)
	assert.True(t, st.TotalPnL.Equal(decimal.NewFromInt(35)), st.TotalPnL.String())
	assert.True(t, st.GrossProfit.Equal(decimal.NewFromInt(50)))
	assert.True(t, st.GrossLoss.Equal(decimal.NewFromInt(15)))
	assert.InDelta(t, 50.0/15.0, st.ProfitFactor, 1e-9)
	assert.InDelta(t, (0.15+0.12+0.10+0.10)/4, st.AvgEdge, 1e-9)

	assert.Equal(t, 3, st.Resolved)
	wantBrier := ((0.65-1)*(0.65-1) + 0.62*0.62 + (0.30-1)*(0.30-1)) / 3
	assert.InDelta(t, wantBrier, st.Brier, 1e-9)

	require.Len(t, st.Calibration, 2)
	assert.InDelta(t, 0.3, st.Calibration[0].Lower, 1e-9)
	assert.Equal(t, 1, st.Calibration[0].Count)
	assert.InDelta(t, 1.0, st.Calibration[0].Observed, 1e-9)
	assert.InDelta(t, 0.6, st.Calibration[1].Lower, 1e-9)
	assert.Equal(t, 2, st.Calibration[1].Count)
	assert.InDelta(t, 0.5, st.Calibration[1].Observed, 1e-9)
	assert.InDelta(t, 0.635, st.Calibration[1].MeanPredicted, 1e-9)
}

func TestComputeStatsEmpty(t *testing.T) {
	t.Parallel()

	st := ComputeStats(nil)
	assert.Zero(t, st.Settled)
	assert.Zero(t, st.WinRate)
	assert.True(t, st.TotalPnL.IsZero())
	assert.Empty(t, st.Calibration)
}

func TestSettledAndHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := NewMemory()
	seedHistory(t, j)

	got, err := Settled(ctx, j, t0, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "P1", got[0].ID)

	got, err = Settled(ctx, j, t0, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, got)

	hist, err := PositionHistory(ctx, j, "P1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, position.StatusOpen, hist[0].Status)
	assert.Equal(t, position.StatusExpired, hist[1].Status)

	_, err = PositionHistory(ctx, j, "nope")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
