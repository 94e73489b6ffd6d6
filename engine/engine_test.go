package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/pmtrader/broker"
	"github.com/rustyeddy/pmtrader/broker/paper"
	"github.com/rustyeddy/pmtrader/journal"
	"github.com/rustyeddy/pmtrader/lock"
	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/notify"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/pricing"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type notes struct {
	mu  sync.Mutex
	got []*notify.Notification
}

func (n *notes) Notify(x *notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, x)
}

func (n *notes) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Kind
	for _, x := range n.got {
		out = append(out, x.Kind)
	}
	return out
}

type harness struct {
	e      *Engine
	j      journal.Journal
	quotes *pricing.QuoteStore
	venue  *paper.Venue
	clock  *clock
	notes  *notes
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Policy.MaxDailyLossUSD = 100
	cfg.Policy.MinEdge = 0.02
	cfg.Exits = position.ExitRule{}
	cfg.SnapshotEvery = 0
	cfg.LockTimeout = time.Second
	return cfg
}

func newHarness(t *testing.T, cfg Config, j journal.Journal, opts ...Option) *harness {
	t.Helper()
	if j == nil {
		j = journal.NewMemory()
	}
	h := &harness{
		j:      j,
		quotes: pricing.NewQuoteStore(),
		clock:  &clock{t: t0},
		notes:  &notes{},
	}
	h.venue = paper.New(h.quotes, paper.Options{Now: h.clock.Now})
	logger, _ := test.NewNullLogger()
	opts = append([]Option{WithClock(h.clock.Now), WithNotifier(h.notes), WithLogger(logger)}, opts...)

	e, err := New(context.Background(), cfg, j, h.venue, h.quotes, opts...)
	require.NoError(t, err)
	h.e = e
	return h
}

func sig(marketID string, est, price float64) market.Signal {
	return market.Signal{
		MarketID:             marketID,
		Side:                 market.Yes,
		EstimatedProbability: est,
		MarketPrice:          price,
		Confidence:           1,
		Strategy:             "test",
	}
}

func yes(marketID string, price float64) market.Quote {
	return market.Quote{MarketID: marketID, YesPrice: price}
}

func resolved(marketID string, outcome float64) market.Quote {
	return market.Quote{MarketID: marketID, YesPrice: outcome, Resolved: true, Outcome: outcome}
}

func usd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func snapshotJSON(t *testing.T, p *journal.Projection) string {
	t.Helper()
	b, err := json.Marshal(p.Snapshot())
	require.NoError(t, err)
	return string(b)
}

func TestSubmitOpensPosition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), nil)
	h.quotes.Set(yes("m1", 0.5))

	res, err := h.e.Submit(context.Background(), sig("m1", 0.55, 0.5))
	require.NoError(t, err)
	require.True(t, res.Approved)
	require.NotNil(t, res.Position)

	p := res.Position
	assert.Equal(t, "m1", p.MarketID)
	assert.True(t, usd("10").Equal(p.SizeUSD), p.SizeUSD.String())
	assert.True(t, usd("0.5").Equal(p.EntryPrice))
	assert.Equal(t, position.StatusOpen, p.Status)

	st := h.e.Status(context.Background())
	assert.Equal(t, risk.Armed, st.Breaker)
	assert.Equal(t, 1, st.OpenPositions)
	assert.Equal(t, 1, st.TradesToday)
	assert.True(t, usd("200").Equal(st.BalanceUSD), "entries do not debit the balance")
	assert.True(t, usd("10").Equal(st.ExposureUSD))

	events, err := h.j.Since(context.Background(), 0)
	require.NoError(t, err)
	var types []journal.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []journal.EventType{
		journal.SignalReceived, journal.Approved, journal.PositionOpened, journal.RiskStateChanged,
	}, types)
	assert.Equal(t, []notify.Kind{notify.KindOpened}, h.notes.kinds())
}

func TestSubmitRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		setup  func(h *harness)
		signal market.Signal
		want   risk.Reason
	}{
		{
			name:   "invalid signal",
			signal: sig("m1", 1.4, 0.5),
			want:   risk.ReasonInvalidSignal,
		},
		{
			name:   "not a number",
			signal: sig("m1", math.NaN(), 0.5),
			want:   risk.ReasonInvalidSignal,
		},
		{
			name:   "missing market",
			signal: sig("", 0.6, 0.5),
			want:   risk.ReasonInvalidSignal,
		},
		{
			name:   "edge below minimum",
			signal: sig("m1", 0.51, 0.5),
			want:   risk.ReasonEdgeBelowMinimum,
		},
		{
			name:   "negative edge",
			signal: sig("m1", 0.3, 0.5),
			want:   risk.ReasonEdgeBelowMinimum,
		},
		{
			name:   "probability out of bounds",
			signal: sig("m1", 0.9, 0.5),
			want:   risk.ReasonProbOutOfBounds,
		},
		{
			name: "duplicate market",
			setup: func(h *harness) {
				_, err := h.e.Submit(context.Background(), sig("m1", 0.55, 0.5))
				if err != nil {
					panic(err)
				}
			},
			signal: sig("m1", 0.6, 0.5),
			want:   risk.ReasonDuplicateMarket,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, testConfig(), nil)
			h.quotes.Set(yes("m1", 0.5))
			if tt.setup != nil {
				tt.setup(h)
			}
			before := h.e.State()

			res, err := h.e.Submit(context.Background(), tt.signal)
			require.NoError(t, err)
			assert.False(t, res.Approved)
			assert.Nil(t, res.Position)
			assert.Equal(t, tt.want, res.Rejection)
			assert.NotEmpty(t, res.Detail)
			assert.Equal(t, before, h.e.State(), "a rejection never moves the ledger")

			events, err := h.j.Since(context.Background(), 0)
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(events), 2)
			last := events[len(events)-1]
			require.Equal(t, journal.Rejected, last.Type)
			var pl journal.RejectedPayload
			require.NoError(t, last.Decode(&pl))
			assert.Equal(t, tt.want, pl.Reason)
			assert.Equal(t, journal.SignalReceived, events[len(events)-2].Type)
		})
	}
}

func TestSubmitInsufficientBalance(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Policy.StartingBalanceUSD = 20
	cfg.Sizing.MaxPositionUSD = 10
	cfg.Sizing.MaxKellyFraction = 1
	cfg.Sizing.KellyMultiplier = 1
	h := newHarness(t, cfg, nil)
	for _, id := range []string{"m1", "m2", "m3"} {
		h.quotes.Set(yes(id, 0.4))
	}

	r1, err := h.e.Submit(context.Background(), sig("m1", 0.55, 0.4))
	require.NoError(t, err)
	require.True(t, r1.Approved)
	r2, err := h.e.Submit(context.Background(), sig("m2", 0.55, 0.4))
	require.NoError(t, err)
	require.True(t, r2.Approved)

	r3, err := h.e.Submit(context.Background(), sig("m3", 0.55, 0.4))
	require.NoError(t, err)
	assert.Equal(t, risk.ReasonInsufficientBalance, r3.Rejection)
}

func TestCooldownScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, testConfig(), nil)
	markets := []string{"m1", "m2", "m3"}
	batch := Batch{}
	for _, id := range markets {
		h.quotes.Set(yes(id, 0.5))
		batch.Signals = append(batch.Signals, sig(id, 0.55, 0.5))
	}

	res, err := h.e.RunCycle(ctx, batch)
	require.NoError(t, err)
	require.Len(t, res.Approved, 3)
	for _, r := range res.Approved {
		assert.True(t, usd("10").Equal(r.Position.SizeUSD))
	}

	// every market resolves against us: three -10 settlements
	res, err = h.e.RunCycle(ctx, Batch{Quotes: []market.Quote{
		resolved("m1", 0), resolved("m2", 0), resolved("m3", 0),
	}})
	require.NoError(t, err)
	require.Len(t, res.Closed, 3)
	for _, p := range res.Closed {
		assert.Equal(t, position.StatusExpired, p.Status)
		assert.Equal(t, position.ReasonResolved, p.CloseReason)
		assert.True(t, usd("-10").Equal(p.PnL()), p.PnL().String())
	}
	assert.Equal(t, risk.Cooldown, res.Breaker)
	assert.Equal(t, 3, res.State.ConsecutiveLosses)
	assert.True(t, usd("170").Equal(res.State.Balance))
	require.NotNil(t, res.State.CooldownUntil)
	assert.True(t, t0.Add(120*time.Minute).Equal(*res.State.CooldownUntil))
	assert.Contains(t, h.notes.kinds(), notify.KindCooldown)

	h.quotes.Set(yes("m4", 0.4))
	next := sig("m4", 0.50, 0.40)

	h.clock.Set(t0.Add(30 * time.Minute))
	r, err := h.e.Submit(ctx, next)
	require.NoError(t, err)
	assert.False(t, r.Approved)
	assert.Equal(t, risk.ReasonCooldownActive, r.Rejection)
	assert.Equal(t, 90*time.Minute, h.e.Status(ctx).CooldownRemaining)

	h.clock.Set(t0.Add(121 * time.Minute))
	r, err = h.e.Submit(ctx, next)
	require.NoError(t, err)
	require.True(t, r.Approved, r.Detail)
	assert.True(t, usd("10.62").Equal(r.Position.SizeUSD), r.Position.SizeUSD.String())
	assert.True(t, r.Position.SizeUSD.GreaterThanOrEqual(usd("1")))
	assert.True(t, r.Position.SizeUSD.LessThanOrEqual(usd("25")))

	st := h.e.Status(ctx)
	assert.Equal(t, risk.Armed, st.Breaker)
	assert.Equal(t, 0, st.ConsecutiveLosses, "expiry starts a fresh streak")
}

func TestDrawdownHaltScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig()
	cfg.Sizing.MaxPositionUSD = 41
	cfg.Sizing.KellyMultiplier = 1
	h := newHarness(t, cfg, nil)
	h.quotes.Set(yes("m1", 0.4))
	h.quotes.Set(yes("m2", 0.4))

	res, err := h.e.RunCycle(ctx, Batch{Signals: []market.Signal{sig("m1", 0.55, 0.4), sig("m2", 0.55, 0.4)}})
	require.NoError(t, err)
	require.Len(t, res.Approved, 2)

	res, err = h.e.RunCycle(ctx, Batch{Quotes: []market.Quote{resolved("m1", 0)}})
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.True(t, usd("159").Equal(res.State.Balance), res.State.Balance.String())
	assert.Equal(t, risk.Halted, res.Breaker)
	assert.Equal(t, risk.ReasonDrawdownExceeded, res.State.HaltReason)
	assert.Contains(t, h.notes.kinds(), notify.KindHalted)

	// a winner settles but the halt stays
	h.clock.Set(t0.Add(time.Hour))
	res, err = h.e.RunCycle(ctx, Batch{Quotes: []market.Quote{resolved("m2", 1)}})
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.True(t, usd("61.5").Equal(res.Closed[0].PnL()), res.Closed[0].PnL().String())
	assert.Equal(t, risk.Halted, res.Breaker)

	h.quotes.Set(yes("m5", 0.4))
	r, err := h.e.Submit(ctx, sig("m5", 0.55, 0.4))
	require.NoError(t, err)
	assert.Equal(t, risk.ReasonDrawdownExceeded, r.Rejection)

	changed, err := h.e.ForceReset(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, risk.Armed, h.e.Status(ctx).Breaker)
	assert.Empty(t, h.e.Status(ctx).Breach, "the winner lifted the balance to a new peak")
	assert.Contains(t, h.notes.kinds(), notify.KindReset)

	changed, err = h.e.ForceReset(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "reset of an armed breaker is a no-op")

	r, err = h.e.Submit(ctx, sig("m5", 0.55, 0.4))
	require.NoError(t, err)
	assert.True(t, r.Approved, r.Detail)
}

func TestExitRules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig()
	cfg.Exits = position.ExitRule{StopLossPct: 50}
	h := newHarness(t, cfg, nil)
	h.quotes.Set(yes("m1", 0.5))
	h.quotes.Set(yes("m2", 0.5))

	res, err := h.e.RunCycle(ctx, Batch{Signals: []market.Signal{sig("m1", 0.55, 0.5), sig("m2", 0.55, 0.5)}})
	require.NoError(t, err)
	require.Len(t, res.Approved, 2)
	m2 := res.Approved[1].Position.ID

	res, err = h.e.RunCycle(ctx, Batch{
		Quotes: []market.Quote{yes("m1", 0.25), yes("m2", 0.6)},
		Exits:  []string{m2},
	})
	require.NoError(t, err)
	require.Len(t, res.Closed, 2)

	byMarket := map[string]position.Position{}
	for _, p := range res.Closed {
		byMarket[p.MarketID] = p
	}
	assert.Equal(t, position.ReasonStopLoss, byMarket["m1"].CloseReason)
	assert.True(t, usd("-5").Equal(byMarket["m1"].PnL()))
	assert.Equal(t, position.ReasonStrategyExit, byMarket["m2"].CloseReason)
	assert.True(t, usd("2").Equal(byMarket["m2"].PnL()))
	assert.True(t, usd("197").Equal(res.State.Balance))
	assert.Empty(t, h.e.Positions(false))
	assert.Len(t, h.e.Positions(true), 2)
}

func TestNoDoubleSettlement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, testConfig(), nil)
	h.quotes.Set(yes("m1", 0.5))

	r, err := h.e.Submit(ctx, sig("m1", 0.55, 0.5))
	require.NoError(t, err)
	require.True(t, r.Approved)
	stale := *r.Position

	h.quotes.Set(yes("m1", 0.6))
	closed, err := h.e.ClosePosition(ctx, stale.ID, position.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, position.StatusClosed, closed.Status)
	assert.True(t, usd("2").Equal(closed.PnL()))
	after := h.e.State()
	seq := h.e.Seq()

	_, err = h.e.ClosePosition(ctx, stale.ID, position.ReasonManual)
	assert.ErrorIs(t, err, position.ErrNotOpen)

	// settling from a stale OPEN copy is refused as well
	err = h.e.locked(ctx, func(ctx context.Context) error {
		_, err := h.e.settle(ctx, stale, func(p position.Position) (position.Position, error) {
			return p.Close(usd("0.7"), position.ReasonManual, t0)
		})
		return err
	})
	assert.ErrorIs(t, err, position.ErrNotOpen)

	_, err = h.e.RunCycle(ctx, Batch{Quotes: []market.Quote{resolved("m1", 1)}})
	require.NoError(t, err)

	assert.Equal(t, after, h.e.State())
	assert.Equal(t, seq, h.e.Seq(), "nothing left to settle")
	assert.Equal(t, 1, after.Settlements)
}

func TestExecutionFailureCreatesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, testConfig(), nil)
	before := h.e.State()

	// no quote: the paper venue refuses to fill
	res, err := h.e.RunCycle(ctx, Batch{Signals: []market.Signal{sig("ghost", 0.55, 0.5)}})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, risk.ReasonExecutionFailed, res.Failed[0].Rejection)
	assert.Contains(t, res.Failed[0].Detail, "order failed")
	assert.Empty(t, h.e.Positions(true))
	assert.Equal(t, before, h.e.State())

	events, err := h.j.Since(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, journal.ExecutionFailed, events[2].Type)
	assert.Contains(t, h.notes.kinds(), notify.KindExecutionFailed)
}

// flaky fails every append that carries one of the listed event types.
type flaky struct {
	journal.Journal
	mu     sync.Mutex
	failOn map[journal.EventType]bool
}

func (f *flaky) Append(ctx context.Context, events ...journal.Event) ([]journal.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		if f.failOn[ev.Type] {
			return nil, errors.New("disk full")
		}
	}
	return f.Journal.Append(ctx, events...)
}

func (f *flaky) fail(types ...journal.EventType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn = map[journal.EventType]bool{}
	for _, t := range types {
		f.failOn[t] = true
	}
}

func TestPersistenceFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := &flaky{Journal: journal.NewMemory()}
	h := newHarness(t, testConfig(), j)
	h.quotes.Set(yes("m1", 0.5))
	h.quotes.Set(yes("m2", 0.5))

	r, err := h.e.Submit(ctx, sig("m1", 0.55, 0.5))
	require.NoError(t, err)
	require.True(t, r.Approved)
	before := h.e.State()
	seq := h.e.Seq()

	j.fail(journal.PositionOpened)
	_, err = h.e.Submit(ctx, sig("m2", 0.55, 0.5))
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, before, h.e.State())
	assert.Len(t, h.e.Positions(false), 1)
	assert.Equal(t, seq+2, h.e.Seq(), "only the durable approval advanced the sequence")

	j.fail(journal.PositionClosed)
	res, err := h.e.RunCycle(ctx, Batch{Quotes: []market.Quote{resolved("m1", 0)}})
	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "exits", cerr.Op)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, res.Closed)
	assert.Equal(t, before, h.e.State())
	assert.Contains(t, h.notes.kinds(), notify.KindCycleFailed)

	// once the journal recovers the next cycle settles normally
	j.fail()
	res, err = h.e.RunCycle(ctx, Batch{})
	require.NoError(t, err)
	assert.Len(t, res.Closed, 1)
}

func TestLockTimeoutAbortsCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := lock.NewLocal()
	cfg := testConfig()
	cfg.LockTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg, nil, WithLocker(l))
	h.quotes.Set(yes("m1", 0.5))

	release, err := l.Acquire(ctx, time.Second)
	require.NoError(t, err)

	_, err = h.e.RunCycle(ctx, Batch{Signals: []market.Signal{sig("m1", 0.55, 0.5)}})
	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "lock", cerr.Op)
	assert.ErrorIs(t, err, lock.ErrTimeout)
	assert.Zero(t, h.e.Seq(), "nothing journaled without the lock")

	_, err = h.e.Submit(ctx, sig("m1", 0.55, 0.5))
	assert.ErrorIs(t, err, lock.ErrTimeout)

	require.NoError(t, release())
	r, err := h.e.Submit(ctx, sig("m1", 0.55, 0.5))
	require.NoError(t, err)
	assert.True(t, r.Approved)
}

func TestOverlappingWritersCatchUp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := journal.NewMemory()
	l := lock.NewLocal()
	a := newHarness(t, testConfig(), j, WithLocker(l))
	b := newHarness(t, testConfig(), j, WithLocker(l))
	a.quotes.Set(yes("m1", 0.5))
	b.quotes.Set(yes("m1", 0.5))

	r, err := a.e.Submit(ctx, sig("m1", 0.55, 0.5))
	require.NoError(t, err)
	require.True(t, r.Approved)

	r, err = b.e.Submit(ctx, sig("m1", 0.6, 0.5))
	require.NoError(t, err)
	assert.Equal(t, risk.ReasonDuplicateMarket, r.Rejection, "b sees a's position after catching up")
	assert.Equal(t, a.e.State(), b.e.State())
	assert.Equal(t, a.e.Seq()+2, b.e.Seq())
}

func TestReplayMatchesLiveState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	cfg := testConfig()
	cfg.SnapshotEvery = 5
	h := newHarness(t, cfg, j)
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		h.quotes.Set(yes(id, 0.5))
	}

	_, err = h.e.RunCycle(ctx, Batch{Signals: []market.Signal{
		sig("m1", 0.55, 0.5), sig("m2", 0.55, 0.5), sig("m3", 0.6, 0.5), sig("bad", 2, 0.5),
	}})
	require.NoError(t, err)
	h.clock.Set(t0.Add(time.Hour))
	_, err = h.e.RunCycle(ctx, Batch{
		Quotes:  []market.Quote{resolved("m1", 1), resolved("m2", 0)},
		Signals: []market.Signal{sig("m4", 0.58, 0.5)},
	})
	require.NoError(t, err)

	_, err = j.LatestSnapshot(ctx)
	require.NoError(t, err, "a snapshot is due after this many events")

	live := snapshotJSON(t, h.e.proj)
	initial := risk.NewState(usd("200"), t0.Truncate(24*time.Hour))

	full := journal.NewProjection(initial)
	_, err = full.CatchUp(ctx, j)
	require.NoError(t, err)
	assert.JSONEq(t, live, snapshotJSON(t, full), "full replay")

	fast, err := journal.Rebuild(ctx, j, initial)
	require.NoError(t, err)
	assert.JSONEq(t, live, snapshotJSON(t, fast), "snapshot plus tail")

	// a restarted process lands on the same state
	restarted := newHarness(t, cfg, j)
	assert.JSONEq(t, live, snapshotJSON(t, restarted.e.proj))
	assert.Equal(t, h.e.Status(ctx).Seq, restarted.e.Status(ctx).Seq)
}

func TestDayRolloverIsJournaled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, testConfig(), nil)
	h.quotes.Set(yes("m1", 0.5))

	r, err := h.e.Submit(ctx, sig("m1", 0.55, 0.5))
	require.NoError(t, err)
	require.True(t, r.Approved)
	_, err = h.e.RunCycle(ctx, Batch{Quotes: []market.Quote{resolved("m1", 0)}})
	require.NoError(t, err)
	assert.True(t, usd("10").Equal(h.e.State().DailyLoss))

	h.clock.Set(t0.Add(24 * time.Hour))
	res, err := h.e.RunCycle(ctx, Batch{})
	require.NoError(t, err)
	assert.True(t, res.State.DailyLoss.IsZero())
	assert.Zero(t, res.State.TradesToday)

	events, err := h.j.Since(ctx, 0)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, journal.RiskStateChanged, last.Type)
	var pl journal.RiskStatePayload
	require.NoError(t, last.Decode(&pl))
	assert.Equal(t, "day rollover", pl.Cause)

	// same day again: nothing new
	seq := h.e.Seq()
	_, err = h.e.RunCycle(ctx, Batch{})
	require.NoError(t, err)
	assert.Equal(t, seq, h.e.Seq())
}

// cancelOnExecute cancels the caller's context once the venue has answered,
// as if the caller gave up while the order was in flight.
type cancelOnExecute struct {
	broker.Venue
	cancel context.CancelFunc
	err    error
}

func (c *cancelOnExecute) Execute(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	fill, err := c.Venue.Execute(ctx, req)
	c.cancel()
	if c.err != nil {
		return broker.Fill{}, c.err
	}
	return fill, err
}

func TestOrderOutcomeJournaledAfterCancel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		venueErr error
		want     []journal.EventType
	}{
		{
			name: "filled",
			want: []journal.EventType{journal.SignalReceived, journal.Approved, journal.PositionOpened, journal.RiskStateChanged},
		},
		{
			name:     "failed",
			venueErr: errors.New("venue timeout"),
			want:     []journal.EventType{journal.SignalReceived, journal.Approved, journal.ExecutionFailed},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			now := func() time.Time { return t0 }
			j := journal.NewMemory()
			quotes := pricing.NewQuoteStore()
			quotes.Set(yes("m1", 0.5))
			venue := &cancelOnExecute{Venue: paper.New(quotes, paper.Options{Now: now}), cancel: cancel, err: tt.venueErr}
			logger, _ := test.NewNullLogger()
			e, err := New(context.Background(), testConfig(), j, venue, quotes, WithClock(now), WithLogger(logger))
			require.NoError(t, err)

			res, err := e.Submit(ctx, sig("m1", 0.55, 0.5))
			require.NoError(t, err)
			require.Error(t, ctx.Err())

			events, err := j.Since(context.Background(), 0)
			require.NoError(t, err)
			var types []journal.EventType
			for _, ev := range events {
				types = append(types, ev.Type)
			}
			assert.Equal(t, tt.want, types)
			assert.Equal(t, int64(len(tt.want)), e.Seq())

			if tt.venueErr != nil {
				assert.Equal(t, risk.ReasonExecutionFailed, res.Rejection)
				assert.Empty(t, e.Positions(true))
				return
			}
			require.True(t, res.Approved)
			assert.Len(t, e.Positions(false), 1)
			assert.Equal(t, 1, e.State().TradesToday)
		})
	}
}

// garbled hands back risk state events with an unreadable payload while on
// is set. The stored events are untouched.
type garbled struct {
	journal.Journal
	mu sync.Mutex
	on bool
}

func (g *garbled) set(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.on = on
}

func (g *garbled) garble(events []journal.Event) []journal.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.on {
		return events
	}
	out := make([]journal.Event, len(events))
	for i, ev := range events {
		if ev.Type == journal.RiskStateChanged {
			ev.Payload = json.RawMessage("{")
		}
		out[i] = ev
	}
	return out
}

func (g *garbled) Append(ctx context.Context, events ...journal.Event) ([]journal.Event, error) {
	written, err := g.Journal.Append(ctx, events...)
	return g.garble(written), err
}

func (g *garbled) Since(ctx context.Context, after int64) ([]journal.Event, error) {
	events, err := g.Journal.Since(ctx, after)
	return g.garble(events), err
}

func TestUnreadableEventLeavesProjectionWhole(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := &garbled{Journal: journal.NewMemory()}
	h := newHarness(t, testConfig(), j)
	h.quotes.Set(yes("m1", 0.5))

	r, err := h.e.Submit(ctx, sig("m1", 0.55, 0.5))
	require.NoError(t, err)
	require.True(t, r.Approved)
	before := h.e.State()
	seq := h.e.Seq()

	// the settlement is stored but its risk state cannot be read back
	j.set(true)
	_, err = h.e.RunCycle(ctx, Batch{Quotes: []market.Quote{resolved("m1", 0)}})
	require.Error(t, err)
	assert.Equal(t, before, h.e.State())
	assert.Equal(t, seq, h.e.Seq())
	require.Len(t, h.e.Positions(false), 1, "the close is not applied without its ledger update")

	// catching up hits the same event and applies none of the tail
	_, err = h.e.Submit(ctx, sig("m2", 0.55, 0.5))
	require.Error(t, err)
	assert.Equal(t, before, h.e.State())
	assert.Equal(t, seq, h.e.Seq())
	assert.Len(t, h.e.Positions(false), 1)

	j.set(false)
	res, err := h.e.RunCycle(ctx, Batch{})
	require.NoError(t, err)
	assert.Empty(t, h.e.Positions(false))
	assert.True(t, usd("190").Equal(res.State.Balance), res.State.Balance.String())
}

func TestStatusReportsBreachAfterReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig()
	cfg.Sizing.MaxPositionUSD = 41
	cfg.Sizing.KellyMultiplier = 1
	h := newHarness(t, cfg, nil)
	h.quotes.Set(yes("m1", 0.4))
	h.quotes.Set(yes("m5", 0.4))

	r, err := h.e.Submit(ctx, sig("m1", 0.55, 0.4))
	require.NoError(t, err)
	require.True(t, r.Approved)
	assert.Empty(t, h.e.Status(ctx).Breach)

	res, err := h.e.RunCycle(ctx, Batch{Quotes: []market.Quote{resolved("m1", 0)}})
	require.NoError(t, err)
	require.Equal(t, risk.Halted, res.Breaker)

	changed, err := h.e.ForceReset(ctx)
	require.NoError(t, err)
	require.True(t, changed)

	// the halt is cleared but the drawdown is still over the limit
	st := h.e.Status(ctx)
	assert.Equal(t, risk.Armed, st.Breaker)
	assert.Equal(t, risk.ReasonDrawdownExceeded, st.Breach)

	r, err = h.e.Submit(ctx, sig("m5", 0.55, 0.4))
	require.NoError(t, err)
	assert.Equal(t, st.Breach, r.Rejection)
}
