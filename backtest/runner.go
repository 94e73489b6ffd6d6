// Package backtest replays recorded quotes and signals through the full
// pipeline on a simulated clock.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/pmtrader/broker/paper"
	"github.com/rustyeddy/pmtrader/engine"
	"github.com/rustyeddy/pmtrader/internal/logging"
	"github.com/rustyeddy/pmtrader/journal"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/pricing"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/rustyeddy/pmtrader/strategy"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Options struct {
	// CloseEnd closes every open position at its last quote once the feed
	// is exhausted.
	CloseEnd bool
}

// Runner drives a fresh engine forward one step at a time.
type Runner struct {
	Config engine.Config
	Paper  paper.Options
	Feed   Feed
	// Sources add signals to every step.
	Sources []strategy.Source
	// Blend turns step estimates into signals. The zero value means
	// strategy.DefaultBlendConfig.
	Blend strategy.BlendConfig
	// Journal defaults to an in-memory journal.
	Journal journal.Journal
	Options Options
	Log     logrus.FieldLogger
}

func (r *Runner) blendConfig() strategy.BlendConfig {
	if r.Blend == (strategy.BlendConfig{}) {
		return strategy.DefaultBlendConfig()
	}
	return r.Blend
}

// Run executes the loop:
//  1. read the next step
//  2. advance the clock to its time
//  3. run one cycle with its quotes and signals
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.Feed == nil {
		return Result{}, fmt.Errorf("backtest: Feed is required")
	}
	defer r.Feed.Close()

	log := r.Log
	if log == nil {
		log = logging.Nop()
	}
	j := r.Journal
	if j == nil {
		j = journal.NewMemory()
	}

	var now time.Time
	clock := func() time.Time { return now }
	quotes := pricing.NewQuoteStore()
	opts := r.Paper
	opts.Now = clock

	res := Result{
		Rejections:     map[risk.Reason]int{},
		StartBalance:   decimal.NewFromFloat(r.Config.Policy.StartingBalanceUSD),
		MaxDrawdownPct: decimal.Zero,
	}

	var e *engine.Engine
	for i := 0; ; i++ {
		step, ok, err := r.Feed.Next()
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}
		if step.Time.Before(now) {
			return res, fmt.Errorf("backtest: step %d at %s is before %s", i, step.Time.Format(time.RFC3339), now.Format(time.RFC3339))
		}
		now = step.Time
		if res.Start.IsZero() {
			res.Start = now
		}
		res.End = now

		if e == nil {
			e, err = engine.New(ctx, r.Config, j, paper.New(quotes, opts), quotes,
				engine.WithClock(clock), engine.WithLogger(log))
			if err != nil {
				return res, err
			}
		}

		sources := r.Sources
		if len(step.Estimates) > 0 {
			sources = append(sources[:len(sources):len(sources)], strategy.Blend{
				Config:    r.blendConfig(),
				Estimates: strategy.FixedEstimates(step.Estimates),
			})
		}
		sigs := step.Signals
		if len(sources) > 0 {
			more, err := strategy.Collect(ctx, sources...)
			if err != nil {
				log.WithError(err).WithField("step", i).Warn("signal source failed")
			}
			sigs = append(sigs, more...)
		}

		cr, err := e.RunCycle(ctx, engine.Batch{Signals: sigs, Quotes: step.Quotes, Exits: step.Exits})
		if err != nil {
			return res, err
		}
		res.add(cr)
	}
	if e == nil {
		return res, nil
	}

	if r.Options.CloseEnd {
		for _, p := range e.Positions(false) {
			_, err := e.ClosePosition(ctx, p.ID, position.ReasonManual)
			if errors.Is(err, pricing.ErrNoQuote) {
				log.WithField("position", p.ID).Warn("no quote, left open")
				continue
			}
			if err != nil {
				return res, err
			}
		}
	}

	st := e.State()
	res.EndBalance = st.Balance
	res.Breaker = e.Status(ctx).Breaker
	res.Open = len(e.Positions(false))
	res.Seq = e.Seq()
	if dd := st.DrawdownPct(); dd.GreaterThan(res.MaxDrawdownPct) {
		res.MaxDrawdownPct = dd
	}

	settled, err := journal.Settled(ctx, j, time.Time{}, time.Time{})
	if err != nil {
		return res, err
	}
	res.Stats = journal.ComputeStats(settled)
	return res, nil
}
