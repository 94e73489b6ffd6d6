package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/notify"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/pricing"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/sirupsen/logrus"
)

// Batch is the input of one trading cycle.
type Batch struct {
	Signals []market.Signal
	// Quotes are the latest prices and resolutions for this cycle.
	Quotes []market.Quote
	// Exits lists position ids the strategy wants closed.
	Exits []string
}

type CycleResult struct {
	Started  time.Time           `json:"started"`
	Finished time.Time           `json:"finished"`
	Approved []ExecutionResult   `json:"approved"`
	Rejected []ExecutionResult   `json:"rejected"`
	Failed   []ExecutionResult   `json:"failed"`
	Closed   []position.Position `json:"closed"`
	State    risk.State          `json:"state"`
	Breaker  risk.BreakerState   `json:"breaker"`
	Seq      int64               `json:"seq"`
}

// CycleError reports a cycle that stopped early. Result holds whatever was
// committed before the failure.
type CycleError struct {
	Op     string
	Result CycleResult
	Err    error
}

func (e *CycleError) Error() string { return fmt.Sprintf("cycle %s: %v", e.Op, e.Err) }
func (e *CycleError) Unwrap() error { return e.Err }

// RunCycle is the single entry point for a scheduled invocation: it
// settles what the quotes say is done, then runs every signal through the
// gate. Only lock and persistence failures end a cycle early.
func (e *Engine) RunCycle(ctx context.Context, in Batch) (CycleResult, error) {
	res := CycleResult{Started: e.now().UTC()}
	op := "lock"

	err := e.locked(ctx, func(ctx context.Context) error {
		op = "maintain"
		if err := e.maintain(ctx); err != nil {
			return err
		}

		op = "exits"
		quotes := e.cycleQuotes(in.Quotes)
		closed, err := e.runExits(ctx, quotes, in.Exits)
		res.Closed = closed
		if err != nil {
			return err
		}

		op = "entries"
		for _, sig := range in.Signals {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := e.submit(ctx, sig)
			if err != nil {
				return err
			}
			switch {
			case r.Approved:
				res.Approved = append(res.Approved, r)
			case r.Rejection == risk.ReasonExecutionFailed:
				res.Failed = append(res.Failed, r)
			default:
				res.Rejected = append(res.Rejected, r)
			}
		}

		op = "snapshot"
		_ = e.maybeSnapshot(ctx, false)
		return nil
	})

	res.Finished = e.now().UTC()
	if e.proj != nil {
		e.mu.RLock()
		res.State = e.proj.State
		res.Seq = e.proj.Seq
		e.mu.RUnlock()
		res.Breaker = e.breaker.State(res.State, res.Finished)
		e.publish()
	}

	elapsed := res.Finished.Sub(res.Started)
	e.obs.Cycle(elapsed, err)
	fields := logrus.Fields{
		"approved": len(res.Approved),
		"rejected": len(res.Rejected),
		"failed":   len(res.Failed),
		"closed":   len(res.Closed),
		"breaker":  res.Breaker,
		"seq":      res.Seq,
		"elapsed":  elapsed.String(),
	}
	if err != nil {
		e.log.WithFields(fields).WithError(err).WithField("op", op).Error("cycle aborted")
		e.notifier.Notify(&notify.Notification{
			Kind:    notify.KindCycleFailed,
			Title:   "Cycle aborted",
			Message: fmt.Sprintf("%s: %v", op, err),
			Time:    res.Finished,
		})
		return res, &CycleError{Op: op, Result: res, Err: err}
	}
	e.log.WithFields(fields).Info("cycle complete")
	return res, nil
}

// runExits settles every open position the quotes say is done: resolved
// markets expire, requested exits and stop/take-profit hits close.
func (e *Engine) runExits(ctx context.Context, quotes pricing.QuoteSource, requested []string) ([]position.Position, error) {
	want := make(map[string]bool, len(requested))
	for _, id := range requested {
		want[id] = true
	}

	var closed []position.Position
	for _, p := range e.proj.Book.Open() {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		q, err := quotes.GetQuote(ctx, p.MarketID)
		if err != nil {
			if !errors.Is(err, pricing.ErrNoQuote) {
				return closed, err
			}
			e.log.WithFields(logrus.Fields{"position_id": p.ID, "market_id": p.MarketID}).Debug("no quote for open position")
			continue
		}

		reason := position.ReasonStrategyExit
		if !q.Resolved && !want[p.ID] {
			r, hit := e.cfg.Exits.Check(p, sidePrice(q.SidePrice(p.Side)))
			if !hit {
				continue
			}
			reason = r
		}

		c, err := e.settleAtQuote(ctx, p, q, reason)
		if err != nil {
			return closed, err
		}
		closed = append(closed, c)
	}
	return closed, nil
}

// cycleQuotes makes the batch quotes visible for this cycle. A settable
// source (the shared QuoteStore the paper venue also reads) is updated in
// place; anything else is overlaid.
func (e *Engine) cycleQuotes(qs []market.Quote) pricing.QuoteSource {
	if len(qs) == 0 {
		return e.quotes
	}
	if st, ok := e.quotes.(interface{ Set(market.Quote) }); ok {
		for _, q := range qs {
			st.Set(q)
		}
		return e.quotes
	}
	return overlay{top: pricing.NewQuoteStore(qs...), base: e.quotes}
}

type overlay struct {
	top  *pricing.QuoteStore
	base pricing.QuoteSource
}

func (o overlay) GetQuote(ctx context.Context, marketID string) (market.Quote, error) {
	if q, err := o.top.Get(marketID); err == nil {
		return q, nil
	}
	if o.base == nil {
		return market.Quote{}, fmt.Errorf("%w: %s", pricing.ErrNoQuote, marketID)
	}
	return o.base.GetQuote(ctx, marketID)
}
