package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rustyeddy/pmtrader/broker"
	"github.com/rustyeddy/pmtrader/journal"
	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/notify"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ExecutionResult is the outcome of one submitted signal. Exactly one of
// Position and Rejection is set.
type ExecutionResult struct {
	Signal    market.Signal      `json:"signal"`
	Approved  bool               `json:"approved"`
	Position  *position.Position `json:"position,omitempty"`
	Rejection risk.Reason        `json:"rejection,omitempty"`
	Detail    string             `json:"detail,omitempty"`
}

// Submit runs one signal through the execution gate under the cycle lock.
// Rejections are normal results; the error is reserved for persistence
// and lock failures.
func (e *Engine) Submit(ctx context.Context, sig market.Signal) (ExecutionResult, error) {
	var res ExecutionResult
	err := e.locked(ctx, func(ctx context.Context) error {
		if err := e.maintain(ctx); err != nil {
			return err
		}
		var err error
		res, err = e.submit(ctx, sig)
		return err
	})
	if err == nil {
		e.publish()
	}
	return res, err
}

// submit is the gate pipeline. The caller holds the cycle lock.
//
// Every check reads the committed state only; nothing is mutated until the
// signal and its decision are durable, so an abandoned evaluation leaves
// no trace.
func (e *Engine) submit(ctx context.Context, sig market.Signal) (ExecutionResult, error) {
	now := e.now()
	res := ExecutionResult{Signal: sig}
	log := e.log.WithFields(logrus.Fields{
		"market_id": sig.MarketID,
		"side":      sig.Side,
		"edge":      fmt.Sprintf("%+.3f", sig.Edge()),
	})

	reject := func(r risk.Reason, detail string) (ExecutionResult, error) {
		rec := finite(sig)
		b := &batch{at: now}
		b.add(journal.SignalReceived, journal.SignalPayload{Signal: rec})
		b.add(journal.Rejected, journal.RejectedPayload{Signal: rec, Reason: r, Detail: detail})
		if err := e.flush(ctx, b); err != nil {
			return res, err
		}
		res.Rejection = r
		res.Detail = detail
		log.WithFields(logrus.Fields{"reason": r, "detail": detail}).Info("signal rejected")
		e.obs.Decision(sig, r)
		e.notifier.Notify(&notify.Notification{
			Kind:     notify.KindRejected,
			Title:    "Signal rejected",
			Message:  fmt.Sprintf("%s: %s", r, detail),
			MarketID: sig.MarketID,
			Time:     now,
		})
		return res, nil
	}

	if err := sig.Validate(); err != nil {
		return reject(risk.ReasonInvalidSignal, err.Error())
	}
	if sig.Edge() <= e.cfg.Policy.MinEdge {
		return reject(risk.ReasonEdgeBelowMinimum,
			fmt.Sprintf("edge %.4f <= min %.4f", sig.Edge(), e.cfg.Policy.MinEdge))
	}

	s := e.proj.State
	d := e.breaker.Evaluate(sig, s, e.proj.Book.OpenCount(), now)
	if !d.Allowed {
		return reject(d.Reason, d.Detail)
	}
	if e.proj.Book.HasOpenMarket(sig.MarketID) {
		return reject(risk.ReasonDuplicateMarket, "position already open in "+sig.MarketID)
	}

	available := s.Balance.Sub(e.proj.Book.Exposure())
	size, err := e.sizer.Size(sig, s, available)
	if err != nil {
		return reject(sizingReason(err), fmt.Sprintf("%v (available $%s)", err, available.StringFixed(2)))
	}

	// the approval is durable before the order leaves the process
	b := &batch{at: now}
	b.add(journal.SignalReceived, journal.SignalPayload{Signal: sig})
	b.add(journal.Approved, journal.ApprovedPayload{Signal: sig, SizeUSD: size})
	if err := e.flush(ctx, b); err != nil {
		return res, err
	}
	log = log.WithField("size_usd", size.StringFixed(2))
	log.Info("signal approved")

	posID := e.newPositionID(now)
	fill, err := e.venue.Execute(ctx, broker.OrderRequest{
		ClientID:    posID,
		MarketID:    sig.MarketID,
		Side:        sig.Side,
		SizeUSD:     size,
		SignalPrice: sig.MarketPrice,
	})
	// the order has left the process; its outcome is recorded even if the
	// caller gives up now
	jctx := context.WithoutCancel(ctx)
	var p position.Position
	if err == nil {
		p, err = position.New(posID, sig, fill.Price, fill.SizeUSD, now)
	}
	if err != nil {
		return e.executionFailed(jctx, res, sig, size, err, log)
	}

	next := e.ledger.RecordEntry(s)
	b = &batch{at: now}
	b.add(journal.PositionOpened, journal.PositionPayload{Position: p})
	b.add(journal.RiskStateChanged, journal.RiskStatePayload{State: next, Cause: "entry " + p.ID})
	if err := e.flush(jctx, b); err != nil {
		// the venue filled but nothing is recorded; surface it loudly
		log.WithError(err).WithField("order_id", fill.OrderID).Error("fill not journaled")
		return res, err
	}

	res.Approved = true
	res.Position = &p
	log.WithFields(logrus.Fields{
		"position_id": p.ID,
		"entry":       p.EntryPrice.StringFixed(4),
	}).Info("position opened")
	e.obs.Decision(sig, risk.ReasonOK)
	e.obs.Opened(p)
	e.notifier.Notify(&notify.Notification{
		Kind:       notify.KindOpened,
		Title:      "Position opened",
		Message:    p.String(),
		MarketID:   p.MarketID,
		PositionID: p.ID,
		Time:       now,
	})
	return res, nil
}

func (e *Engine) executionFailed(ctx context.Context, res ExecutionResult, sig market.Signal, size decimal.Decimal, cause error, log logrus.FieldLogger) (ExecutionResult, error) {
	b := &batch{at: e.now()}
	b.add(journal.ExecutionFailed, journal.ExecutionFailedPayload{Signal: sig, SizeUSD: size, Error: cause.Error()})
	if err := e.flush(ctx, b); err != nil {
		return res, err
	}
	res.Rejection = risk.ReasonExecutionFailed
	res.Detail = cause.Error()
	log.WithError(cause).Warn("execution failed")
	e.obs.Decision(sig, risk.ReasonExecutionFailed)
	e.notifier.Notify(&notify.Notification{
		Kind:     notify.KindExecutionFailed,
		Title:    "Execution failed",
		Message:  cause.Error(),
		MarketID: sig.MarketID,
		Time:     b.at,
	})
	return res, nil
}

func sizingReason(err error) risk.Reason {
	switch {
	case errors.Is(err, risk.ErrNoPositiveEdge):
		return risk.ReasonNoPositiveEdge
	case errors.Is(err, risk.ErrInsufficientBalance):
		return risk.ReasonInsufficientBalance
	default:
		return risk.ReasonSizeBelowMinimum
	}
}

// finite zeroes NaN and infinite fields so a malformed signal can still be
// journaled as JSON.
func finite(sig market.Signal) market.Signal {
	for _, f := range []*float64{&sig.EstimatedProbability, &sig.MarketPrice, &sig.Confidence} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
	return sig
}
