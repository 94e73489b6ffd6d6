package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/pmtrader/market"
)

var ErrNoQuote = errors.New("quote not found")

// QuoteSource is the market/price feed collaborator.
type QuoteSource interface {
	GetQuote(ctx context.Context, marketID string) (market.Quote, error)
}

type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]market.Quote
}

func NewQuoteStore(qs ...market.Quote) *QuoteStore {
	s := &QuoteStore{quotes: make(map[string]market.Quote)}
	for _, q := range qs {
		s.Set(q)
	}
	return s
}

func (s *QuoteStore) Set(q market.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.MarketID] = q
}

func (s *QuoteStore) Get(marketID string) (market.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[marketID]
	if !ok {
		return market.Quote{}, fmt.Errorf("%w: %s", ErrNoQuote, marketID)
	}
	return q, nil
}

func (s *QuoteStore) GetQuote(ctx context.Context, marketID string) (market.Quote, error) {
	if err := ctx.Err(); err != nil {
		return market.Quote{}, err
	}
	return s.Get(marketID)
}

// All returns every quote ordered by market id.
func (s *QuoteStore) All() []market.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]market.Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// Map returns a copy of the quotes keyed by market id.
func (s *QuoteStore) Map() map[string]market.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]market.Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}
