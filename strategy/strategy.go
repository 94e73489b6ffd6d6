// Package strategy produces signals for the pipeline. Every producer sits
// behind Source; the engine only ever sees market.Signal values.
package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rustyeddy/pmtrader/market"
)

// Source yields the signals for one cycle. It may return none.
type Source interface {
	Name() string
	Signals(ctx context.Context) ([]market.Signal, error)
}

// Static replays a fixed list.
type Static struct {
	Label string
	List  []market.Signal
}

func (s Static) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

func (s Static) Signals(context.Context) ([]market.Signal, error) {
	out := make([]market.Signal, len(s.List))
	for i, sig := range s.List {
		if sig.Strategy == "" {
			sig.Strategy = s.Name()
		}
		out[i] = sig
	}
	return out, nil
}

// Collect gathers signals from every source in order. A failing source is
// reported but does not hide the others' signals.
func Collect(ctx context.Context, sources ...Source) ([]market.Signal, error) {
	var all []market.Signal
	var failed []string
	for _, src := range sources {
		sigs, err := src.Signals(ctx)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", src.Name(), err))
			continue
		}
		all = append(all, sigs...)
	}
	if len(failed) > 0 {
		return all, fmt.Errorf("strategy sources failed: %s", strings.Join(failed, "; "))
	}
	return all, nil
}
