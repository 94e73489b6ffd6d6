package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rustyeddy/pmtrader/market"
	"gopkg.in/yaml.v3"
)

// SignalFile is the on-disk layout read by File.
//
//	signals:
//	  - market_id: will-it-rain
//	    side: YES
//	    estimated_probability: 0.55
//	    market_price: 0.42
//	    confidence: 0.8
//	estimates:
//	  - market_id: election
//	    yes_price: 0.40
//	    stat_prob: 0.52
//	exits:
//	  - 01HV3K...
//
// Estimates become signals through Blend.
type SignalFile struct {
	Signals   []market.Signal `json:"signals" yaml:"signals"`
	Estimates []Estimate      `json:"estimates,omitempty" yaml:"estimates,omitempty"`
	Exits     []string        `json:"exits,omitempty" yaml:"exits,omitempty"`
}

// Sources returns the file's producers: its literal signals labeled with
// label, then a default Blend over its estimates when there are any.
func (f SignalFile) Sources(label string) []Source {
	srcs := []Source{Static{Label: label, List: f.Signals}}
	if len(f.Estimates) > 0 {
		srcs = append(srcs, Blend{Config: DefaultBlendConfig(), Estimates: FixedEstimates(f.Estimates)})
	}
	return srcs
}

// LoadSignals reads a YAML (or JSON) signal file. Signals are not
// validated here; the gate rejects malformed ones and journals why.
func LoadSignals(path string) (SignalFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SignalFile{}, fmt.Errorf("read signals: %w", err)
	}
	var f SignalFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		if jerr := json.Unmarshal(data, &f); jerr != nil {
			return SignalFile{}, fmt.Errorf("parse signals (tried YAML and JSON): %w", err)
		}
	}
	return f, nil
}

// File re-reads its path on every call, so an external producer can
// rewrite it between cycles.
type File struct {
	Path string
}

func (f File) Name() string { return "file:" + f.Path }

func (f File) Signals(ctx context.Context) ([]market.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sf, err := LoadSignals(f.Path)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, sf.Sources("file")...)
}
