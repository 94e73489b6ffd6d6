package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/risk"
)

// Projection is the risk state and position book derived from the journal.
type Projection struct {
	Seq   int64
	State risk.State
	Book  *position.Book
}

func NewProjection(initial risk.State) *Projection {
	return &Projection{State: initial, Book: position.NewBook()}
}

// FromSnapshot starts a projection at a saved snapshot.
func FromSnapshot(s Snapshot) *Projection {
	p := &Projection{Seq: s.Seq, State: s.State, Book: position.NewBook()}
	p.Book.Load(s.Positions)
	return p
}

// Apply folds one event into the projection. Events at or below the
// current sequence number are ignored, so replaying an overlapping tail
// is harmless.
func (p *Projection) Apply(e Event) error {
	if e.Seq <= p.Seq {
		return nil
	}
	switch e.Type {
	case PositionOpened, PositionClosed:
		var pl PositionPayload
		if err := e.Decode(&pl); err != nil {
			return err
		}
		if err := p.Book.Apply(pl.Position); err != nil {
			return fmt.Errorf("replay #%d: %w", e.Seq, err)
		}
	case RiskStateChanged:
		var pl RiskStatePayload
		if err := e.Decode(&pl); err != nil {
			return err
		}
		p.State = pl.State
	}
	p.Seq = e.Seq
	return nil
}

// Clone returns an independent copy of the projection.
func (p *Projection) Clone() *Projection {
	return &Projection{Seq: p.Seq, State: p.State, Book: p.Book.Clone()}
}

// Fold applies events to a copy of the projection and returns the copy.
// On error p is unchanged and nothing is returned.
func (p *Projection) Fold(events []Event) (*Projection, error) {
	next := p.Clone()
	for _, e := range events {
		if err := next.Apply(e); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// Snapshot captures the projection.
func (p *Projection) Snapshot() Snapshot {
	return Snapshot{Seq: p.Seq, State: p.State, Positions: p.Book.All()}
}

// CatchUp applies every event after the projection's sequence number and
// returns how many were applied.
func (p *Projection) CatchUp(ctx context.Context, j Journal) (int, error) {
	events, err := j.Since(ctx, p.Seq)
	if err != nil {
		return 0, err
	}
	for _, e := range events {
		if err := p.Apply(e); err != nil {
			return 0, err
		}
	}
	return len(events), nil
}

// Rebuild reconstructs the projection from the latest snapshot plus the
// journal tail. Without a snapshot it replays from initial.
func Rebuild(ctx context.Context, j Journal, initial risk.State) (*Projection, error) {
	p := NewProjection(initial)
	snap, err := j.LatestSnapshot(ctx)
	switch {
	case err == nil:
		p = FromSnapshot(snap)
	case errors.Is(err, ErrNoSnapshot):
	default:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if _, err := p.CatchUp(ctx, j); err != nil {
		return nil, err
	}
	return p, nil
}
