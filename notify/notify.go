// Package notify delivers best-effort event notifications. Nothing here
// may block or fail the trading cycle.
package notify

import (
	"context"
	"fmt"
	"time"
)

type Kind string

const (
	KindRejected        Kind = "rejected"
	KindOpened          Kind = "opened"
	KindSettled         Kind = "settled"
	KindExecutionFailed Kind = "execution_failed"
	KindCooldown        Kind = "cooldown"
	KindHalted          Kind = "halted"
	KindReset           Kind = "reset"
	KindCycleFailed     Kind = "cycle_failed"
)

type Notification struct {
	Kind       Kind
	Title      string
	Message    string
	MarketID   string
	PositionID string
	PnL        float64
	Time       time.Time
}

func (n *Notification) String() string {
	return fmt.Sprintf("[%s] %s: %s", n.Kind, n.Title, n.Message)
}

// Notifier is one delivery channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Multi fans a notification out to every notifier and returns the last
// error seen.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Send(ctx context.Context, n *Notification) error {
	var lastErr error
	for _, x := range m {
		if err := x.Send(ctx, n); err != nil {
			lastErr = fmt.Errorf("%s: %w", x.Name(), err)
		}
	}
	return lastErr
}
