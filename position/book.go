package position

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Book holds every position the account has ever opened. Terminal positions
// are kept for audit and are never replaced.
//
// Book is not safe for concurrent use; the engine serializes access.
type Book struct {
	byID map[string]Position
}

func NewBook() *Book {
	return &Book{byID: make(map[string]Position)}
}

// Apply commits a position produced by New, Close or Expire.
//
// An OPEN position must be new to the book. A terminal position must
// replace one that is still OPEN; applying a second settlement for the same
// position fails with ErrNotOpen and leaves the book unchanged.
func (b *Book) Apply(p Position) error {
	cur, ok := b.byID[p.ID]
	switch {
	case p.IsOpen():
		if ok {
			return fmt.Errorf("%w: %s", ErrDuplicate, p.ID)
		}
	case !ok:
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	case !cur.IsOpen():
		return fmt.Errorf("%w: %s is %s", ErrNotOpen, p.ID, cur.Status)
	}
	b.byID[p.ID] = p
	return nil
}

func (b *Book) Get(id string) (Position, bool) {
	p, ok := b.byID[id]
	return p, ok
}

// Lookup returns the position if it is still OPEN.
func (b *Book) Lookup(id string) (Position, error) {
	p, ok := b.byID[id]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !p.IsOpen() {
		return p, fmt.Errorf("%w: %s is %s", ErrNotOpen, id, p.Status)
	}
	return p, nil
}

// Open lists OPEN positions, oldest first.
func (b *Book) Open() []Position {
	return b.filter(func(p Position) bool { return p.IsOpen() })
}

// All lists every position, oldest first.
func (b *Book) All() []Position {
	return b.filter(func(Position) bool { return true })
}

func (b *Book) OpenCount() int {
	n := 0
	for _, p := range b.byID {
		if p.IsOpen() {
			n++
		}
	}
	return n
}

// HasOpenMarket reports whether a position on marketID is still OPEN.
func (b *Book) HasOpenMarket(marketID string) bool {
	for _, p := range b.byID {
		if p.IsOpen() && p.MarketID == marketID {
			return true
		}
	}
	return false
}

// Exposure is the total size committed to OPEN positions.
func (b *Book) Exposure() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range b.byID {
		if p.IsOpen() {
			sum = sum.Add(p.SizeUSD)
		}
	}
	return sum
}

// Clone returns an independent copy.
func (b *Book) Clone() *Book {
	c := NewBook()
	for id, p := range b.byID {
		c.byID[id] = p
	}
	return c
}

// Load replaces the book contents, e.g. from a snapshot.
func (b *Book) Load(ps []Position) {
	b.byID = make(map[string]Position, len(ps))
	for _, p := range ps {
		b.byID[p.ID] = p
	}
}

func (b *Book) Len() int { return len(b.byID) }

func (b *Book) filter(keep func(Position) bool) []Position {
	out := make([]Position, 0, len(b.byID))
	for _, p := range b.byID {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
