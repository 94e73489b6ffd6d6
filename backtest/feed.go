package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/strategy"
	"gopkg.in/yaml.v3"
)

// Step is one simulated cycle: the quotes and signals seen at Time.
// Estimates are blended into further signals by the runner.
type Step struct {
	Time      time.Time           `json:"time" yaml:"time"`
	Quotes    []market.Quote      `json:"quotes,omitempty" yaml:"quotes,omitempty"`
	Signals   []market.Signal     `json:"signals,omitempty" yaml:"signals,omitempty"`
	Estimates []strategy.Estimate `json:"estimates,omitempty" yaml:"estimates,omitempty"`
	Exits     []string            `json:"exits,omitempty" yaml:"exits,omitempty"`
}

// Feed yields steps in time order. Implementations return
// (ok=false, err=nil) at EOF.
type Feed interface {
	Next() (s Step, ok bool, err error)
	Close() error
}

// SliceFeed replays steps held in memory.
type SliceFeed struct {
	Steps []Step
	i     int
}

func (f *SliceFeed) Next() (Step, bool, error) {
	if f.i >= len(f.Steps) {
		return Step{}, false, nil
	}
	s := f.Steps[f.i]
	f.i++
	return s, true, nil
}

func (f *SliceFeed) Close() error { return nil }

// Script is the on-disk layout read by LoadScript.
//
//	steps:
//	  - time: 2024-03-15T10:00:00Z
//	    quotes:
//	      - market_id: will-it-rain
//	        yes_price: 0.45
//	    signals:
//	      - market_id: will-it-rain
//	        side: YES
//	        estimated_probability: 0.6
//	        market_price: 0.45
//	        confidence: 1
//	    estimates:
//	      - market_id: election
//	        yes_price: 0.40
//	        stat_prob: 0.52
type Script struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

// LoadScript reads a YAML (or JSON) script into a SliceFeed.
func LoadScript(path string) (*SliceFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		if jerr := json.Unmarshal(data, &s); jerr != nil {
			return nil, fmt.Errorf("parse script (tried YAML and JSON): %w", err)
		}
	}
	for i, st := range s.Steps {
		if st.Time.IsZero() {
			return nil, fmt.Errorf("step %d: time is required", i)
		}
	}
	return &SliceFeed{Steps: s.Steps}, nil
}

// CSVQuotesFeed reads quote history rows:
//
//	time,market_id,yes_price[,resolved,outcome]
//
// where time is RFC3339. Consecutive rows with the same time form one
// step. A header row ("time,...") is allowed and short rows are skipped.
// Signals come from the runner's sources.
type CSVQuotesFeed struct {
	f *os.File
	r *csv.Reader

	pending  *row
	sawFirst bool
}

type row struct {
	t time.Time
	q market.Quote
}

func NewCSVQuotesFeed(path string) (*CSVQuotesFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return &CSVQuotesFeed{f: f, r: r}, nil
}

func (f *CSVQuotesFeed) Close() error {
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}

func (f *CSVQuotesFeed) Next() (Step, bool, error) {
	var step Step
	for {
		r := f.pending
		f.pending = nil
		if r == nil {
			var ok bool
			var err error
			r, ok, err = f.read()
			if err != nil {
				return Step{}, false, err
			}
			if !ok {
				return step, !step.Time.IsZero(), nil
			}
		}
		if step.Time.IsZero() {
			step.Time = r.t
		}
		if !r.t.Equal(step.Time) {
			f.pending = r
			return step, true, nil
		}
		step.Quotes = append(step.Quotes, r.q)
	}
}

func (f *CSVQuotesFeed) read() (*row, bool, error) {
	for {
		rec, err := f.r.Read()
		if err == io.EOF {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if !f.sawFirst {
			f.sawFirst = true
			if len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
				continue
			}
		}
		r, ok, err := parseQuoteRow(rec)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return r, true, nil
		}
	}
}

func parseQuoteRow(rec []string) (*row, bool, error) {
	if len(rec) < 3 {
		return nil, false, nil
	}
	ts := strings.TrimSpace(rec[0])
	id := strings.TrimSpace(rec[1])
	if ts == "" || id == "" {
		return nil, false, nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, false, fmt.Errorf("bad time %q: %w", ts, err)
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil {
		return nil, false, fmt.Errorf("bad yes_price %q: %w", rec[2], err)
	}
	q := market.Quote{MarketID: id, YesPrice: price, Time: t}
	if len(rec) >= 5 && strings.TrimSpace(rec[3]) != "" {
		q.Resolved, err = strconv.ParseBool(strings.TrimSpace(rec[3]))
		if err != nil {
			return nil, false, fmt.Errorf("bad resolved %q: %w", rec[3], err)
		}
		q.Outcome, err = strconv.ParseFloat(strings.TrimSpace(rec[4]), 64)
		if err != nil {
			return nil, false, fmt.Errorf("bad outcome %q: %w", rec[4], err)
		}
	}
	return &row{t: t, q: q}, true, nil
}
