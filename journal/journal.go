// journal/journal.go
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/shopspring/decimal"
)

var ErrNoSnapshot = errors.New("no snapshot")

type EventType string

const (
	SignalReceived   EventType = "SignalReceived"
	Approved         EventType = "Approved"
	Rejected         EventType = "Rejected"
	ExecutionFailed  EventType = "ExecutionFailed"
	PositionOpened   EventType = "PositionOpened"
	PositionClosed   EventType = "PositionClosed"
	RiskStateChanged EventType = "RiskStateChanged"
)

// Event is one journal record. Seq is assigned by the backend when the
// event is appended and is strictly increasing.
type Event struct {
	Seq        int64           `json:"seq"`
	Time       time.Time       `json:"time"`
	Type       EventType       `json:"type"`
	MarketID   string          `json:"market_id,omitempty"`
	PositionID string          `json:"position_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s #%d: %w", e.Type, e.Seq, err)
	}
	return nil
}

type SignalPayload struct {
	Signal market.Signal `json:"signal"`
}

type ApprovedPayload struct {
	Signal  market.Signal   `json:"signal"`
	SizeUSD decimal.Decimal `json:"size_usd"`
}

type RejectedPayload struct {
	Signal market.Signal `json:"signal"`
	Reason risk.Reason   `json:"reason"`
	Detail string        `json:"detail,omitempty"`
}

type ExecutionFailedPayload struct {
	Signal  market.Signal   `json:"signal"`
	SizeUSD decimal.Decimal `json:"size_usd"`
	Error   string          `json:"error"`
}

type PositionPayload struct {
	Position position.Position `json:"position"`
}

// RiskStatePayload carries the complete state after the change, so replay
// never has to recompute ledger math.
type RiskStatePayload struct {
	State risk.State `json:"state"`
	Cause string     `json:"cause"`
}

// New encodes payload into an unsequenced event.
func New(typ EventType, at time.Time, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	e := Event{Time: at.UTC(), Type: typ, Payload: raw}
	switch p := payload.(type) {
	case SignalPayload:
		e.MarketID = p.Signal.MarketID
	case ApprovedPayload:
		e.MarketID = p.Signal.MarketID
	case RejectedPayload:
		e.MarketID = p.Signal.MarketID
	case ExecutionFailedPayload:
		e.MarketID = p.Signal.MarketID
	case PositionPayload:
		e.MarketID = p.Position.MarketID
		e.PositionID = p.Position.ID
	}
	return e, nil
}

// Snapshot is the projected state as of Seq.
type Snapshot struct {
	Seq       int64               `json:"seq"`
	Time      time.Time           `json:"time"`
	State     risk.State          `json:"state"`
	Positions []position.Position `json:"positions"`
}

// Journal is the append-only event store and snapshot store.
type Journal interface {
	// Append writes all events or none. It returns the events with their
	// sequence numbers filled in.
	Append(ctx context.Context, events ...Event) ([]Event, error)

	// Since returns events with seq > after in order.
	Since(ctx context.Context, after int64) ([]Event, error)

	// ForPosition returns the events that name a position, in order.
	ForPosition(ctx context.Context, positionID string) ([]Event, error)

	SaveSnapshot(ctx context.Context, s Snapshot) error

	// LatestSnapshot returns ErrNoSnapshot when none has been saved.
	LatestSnapshot(ctx context.Context) (Snapshot, error)

	Close() error
}
