package pricing

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rustyeddy/pmtrader/market"
	"gopkg.in/yaml.v3"
)

// QuoteFile is the on-disk layout read by LoadQuotes.
//
//	quotes:
//	  - market_id: will-it-rain
//	    yes_price: 0.42
//	  - market_id: election
//	    resolved: true
//	    outcome: 1
type QuoteFile struct {
	Quotes []market.Quote `json:"quotes" yaml:"quotes"`
}

// LoadQuotes reads a YAML (or JSON) quote file into a new store.
func LoadQuotes(path string) (*QuoteStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quotes: %w", err)
	}

	var f QuoteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		if jerr := json.Unmarshal(data, &f); jerr != nil {
			return nil, fmt.Errorf("parse quotes (tried YAML and JSON): %w", err)
		}
	}

	for i, q := range f.Quotes {
		if q.MarketID == "" {
			return nil, fmt.Errorf("quote %d: market_id is required", i)
		}
		if q.YesPrice < 0 || q.YesPrice > 1 {
			return nil, fmt.Errorf("quote %s: yes_price %v outside [0,1]", q.MarketID, q.YesPrice)
		}
	}
	return NewQuoteStore(f.Quotes...), nil
}
