// Package engine is the signal-to-execution pipeline: the execution gate,
// the position lifecycle and the trading cycle around them.
//
// All ledger and position mutations follow the same write-ahead path: the
// new state is computed as a value, journaled, and only then applied to
// the in-memory projection by replaying the journaled events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/pmtrader/broker"
	"github.com/rustyeddy/pmtrader/internal/logging"
	"github.com/rustyeddy/pmtrader/journal"
	"github.com/rustyeddy/pmtrader/lock"
	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/notify"
	"github.com/rustyeddy/pmtrader/pkg/id"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/pricing"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrPersistence wraps any journal write failure. The in-memory state is
// left at the last durable point.
var ErrPersistence = errors.New("journal write failed")

type Config struct {
	Policy        risk.Policy
	Sizing        risk.SizingPolicy
	Exits         position.ExitRule
	LockTimeout   time.Duration
	SnapshotEvery int
}

func DefaultConfig() Config {
	return Config{
		Policy:        risk.DefaultPolicy(),
		Sizing:        risk.DefaultSizingPolicy(),
		Exits:         position.ExitRule{StopLossPct: 50},
		LockTimeout:   10 * time.Second,
		SnapshotEvery: 100,
	}
}

// Observer receives pipeline events for metrics. Calls happen while the
// cycle lock is held, so implementations must be fast.
type Observer interface {
	Decision(sig market.Signal, reason risk.Reason)
	Opened(p position.Position)
	Settled(p position.Position)
	StateChanged(s risk.State, b risk.BreakerState, open int, exposure decimal.Decimal)
	Cycle(elapsed time.Duration, err error)
}

// Notifier takes fire-and-forget notifications. *notify.Dispatcher
// satisfies it.
type Notifier interface {
	Notify(n *notify.Notification)
}

type Option func(*Engine)

func WithLogger(l logrus.FieldLogger) Option { return func(e *Engine) { e.log = l } }
func WithObserver(o Observer) Option       { return func(e *Engine) { e.obs = o } }
func WithNotifier(n Notifier) Option       { return func(e *Engine) { e.notifier = n } }
func WithLocker(l lock.Locker) Option      { return func(e *Engine) { e.locker = l } }
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	cfg     Config
	journal journal.Journal
	venue   broker.Venue
	quotes  pricing.QuoteSource

	ledger  risk.Ledger
	breaker risk.Breaker
	sizer   risk.Sizer

	locker   lock.Locker
	log      logrus.FieldLogger
	obs      Observer
	notifier Notifier
	now      func() time.Time

	// mu guards proj. Writers additionally hold the cycle lock, so a
	// writer may read proj without mu.
	mu        sync.RWMutex
	proj      *journal.Projection
	sinceSnap int
}

// New builds an engine and restores its state from the journal.
func New(ctx context.Context, cfg Config, j journal.Journal, venue broker.Venue, quotes pricing.QuoteSource, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		journal:  j,
		venue:    venue,
		quotes:   quotes,
		ledger:   risk.Ledger{DayBoundary: cfg.Policy.DayBoundary},
		breaker:  risk.Breaker{Policy: cfg.Policy},
		sizer:    risk.Sizer{Policy: cfg.Sizing},
		locker:   lock.NewLocal(),
		log:      logging.Nop(),
		obs:      nopObserver{},
		notifier: nopNotifier{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.WithField("component", "engine")
	if e.cfg.LockTimeout <= 0 {
		e.cfg.LockTimeout = 10 * time.Second
	}

	if err := e.Restore(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Restore rebuilds the projection from the latest snapshot and the journal
// tail, discarding whatever was in memory.
func (e *Engine) Restore(ctx context.Context) error {
	return e.locked(ctx, func(ctx context.Context) error {
		initial := risk.NewState(decimal.NewFromFloat(e.cfg.Policy.StartingBalanceUSD), e.ledger.DayStart(e.now()))
		p, err := journal.Rebuild(ctx, e.journal, initial)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		e.mu.Lock()
		e.proj = p
		e.mu.Unlock()

		e.log.WithFields(logrus.Fields{
			"seq":     p.Seq,
			"balance": p.State.Balance.StringFixed(2),
			"open":    p.Book.OpenCount(),
		}).Info("state restored")
		e.publish()
		return nil
	})
}

// locked runs fn holding the cycle lock, after catching up with events
// other processes may have journaled.
func (e *Engine) locked(ctx context.Context, fn func(context.Context) error) error {
	release, err := e.locker.Acquire(ctx, e.cfg.LockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			e.log.WithError(err).Error("cycle lock not acquired")
		}
		return err
	}
	defer func() {
		err := release()
		switch {
		case errors.Is(err, lock.ErrLeaseLost):
			e.log.WithError(err).Error("cycle lock lost while held")
		case err != nil:
			e.log.WithError(err).Warn("cycle lock release failed")
		}
	}()

	if e.proj != nil {
		if err := e.catchUp(ctx); err != nil {
			return err
		}
	}
	return fn(ctx)
}

func (e *Engine) catchUp(ctx context.Context) error {
	events, err := e.journal.Since(ctx, e.proj.Seq)
	if err != nil {
		return fmt.Errorf("catch up: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	next, err := e.proj.Fold(events)
	if err != nil {
		return fmt.Errorf("catch up: %w", err)
	}
	e.mu.Lock()
	e.proj = next
	e.mu.Unlock()
	e.log.WithField("events", len(events)).Info("applied events from another writer")
	return nil
}

// commit journals events atomically and then applies them to the
// projection. Nothing in memory changes if the write fails.
func (e *Engine) commit(ctx context.Context, events ...journal.Event) error {
	written, err := e.journal.Append(ctx, events...)
	if err != nil {
		e.log.WithError(err).Error("journal append failed")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	next, err := e.proj.Fold(written)
	if err != nil {
		// the journal is ahead of memory; Restore will reconcile
		e.log.WithError(err).Error("journaled events do not apply")
		return fmt.Errorf("apply: %w", err)
	}
	e.mu.Lock()
	e.proj = next
	e.mu.Unlock()
	e.sinceSnap += len(written)
	return nil
}

// batch collects events for one atomic append.
type batch struct {
	at     time.Time
	events []journal.Event
	err    error
}

func (b *batch) add(typ journal.EventType, payload any) {
	if b.err != nil {
		return
	}
	ev, err := journal.New(typ, b.at, payload)
	if err != nil {
		b.err = err
		return
	}
	b.events = append(b.events, ev)
}

func (e *Engine) flush(ctx context.Context, b *batch) error {
	if b.err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, b.err)
	}
	return e.commit(ctx, b.events...)
}

// maybeSnapshot saves a snapshot once enough events have accumulated. A
// failed snapshot is logged and retried later; the journal stays the
// source of truth.
func (e *Engine) maybeSnapshot(ctx context.Context, force bool) error {
	if !force && (e.cfg.SnapshotEvery <= 0 || e.sinceSnap < e.cfg.SnapshotEvery) {
		return nil
	}
	e.mu.RLock()
	snap := e.proj.Snapshot()
	e.mu.RUnlock()
	snap.Time = e.now().UTC()

	if err := e.journal.SaveSnapshot(ctx, snap); err != nil {
		e.log.WithError(err).WithField("seq", snap.Seq).Warn("snapshot failed")
		return err
	}
	e.sinceSnap = 0
	e.log.WithField("seq", snap.Seq).Debug("snapshot saved")
	return nil
}

// Snapshot forces a snapshot of the current state.
func (e *Engine) Snapshot(ctx context.Context) error {
	return e.locked(ctx, func(ctx context.Context) error {
		return e.maybeSnapshot(ctx, true)
	})
}

func (e *Engine) publish() {
	e.mu.RLock()
	s := e.proj.State
	open := e.proj.Book.OpenCount()
	exposure := e.proj.Book.Exposure()
	e.mu.RUnlock()
	e.obs.StateChanged(s, e.breaker.State(s, e.now()), open, exposure)
}

func (e *Engine) state() risk.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.proj.State
}

func (e *Engine) newPositionID(at time.Time) string {
	return id.At(at)
}

type nopObserver struct{}

func (nopObserver) Decision(market.Signal, risk.Reason)                              {}
func (nopObserver) Opened(position.Position)                                         {}
func (nopObserver) Settled(position.Position)                                        {}
func (nopObserver) StateChanged(risk.State, risk.BreakerState, int, decimal.Decimal) {}
func (nopObserver) Cycle(time.Duration, error)                                       {}

type nopNotifier struct{}

func (nopNotifier) Notify(*notify.Notification) {}
