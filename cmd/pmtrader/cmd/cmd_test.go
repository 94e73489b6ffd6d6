package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadBatch(t *testing.T) {
	dir := t.TempDir()
	signals := writeFile(t, dir, "signals.yaml", `
signals:
  - market_id: will-it-rain
    side: YES
    estimated_probability: 0.6
    market_price: 0.45
    confidence: 1
exits:
  - pos-1
`)
	quotes := writeFile(t, dir, "quotes.yaml", `
quotes:
  - market_id: will-it-rain
    yes_price: 0.45
  - market_id: election
    resolved: true
    outcome: 1
`)

	b, err := loadBatch(context.Background(), signals, quotes)
	require.NoError(t, err)
	require.Len(t, b.Signals, 1)
	assert.Equal(t, market.Yes, b.Signals[0].Side)
	assert.Equal(t, "file", b.Signals[0].Strategy)
	assert.Equal(t, []string{"pos-1"}, b.Exits)
	assert.Len(t, b.Quotes, 2)

	blended := writeFile(t, dir, "estimates.yaml", `
estimates:
  - market_id: will-it-rain
    yes_price: 0.45
    stat_prob: 0.6
`)
	b, err = loadBatch(context.Background(), blended, quotes)
	require.NoError(t, err)
	require.Len(t, b.Signals, 1)
	assert.Equal(t, "blend", b.Signals[0].Strategy)
	assert.Equal(t, market.Yes, b.Signals[0].Side)
	assert.InDelta(t, 0.6, b.Signals[0].EstimatedProbability, 1e-9)

	empty, err := loadBatch(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, empty.Signals)
	assert.Empty(t, empty.Quotes)

	_, err = loadBatch(context.Background(), filepath.Join(dir, "missing.yaml"), "")
	assert.Error(t, err)
}

func TestCompareState(t *testing.T) {
	s := risk.NewState(decimal.NewFromInt(200), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	assert.Empty(t, compareState(s, s))

	other := s
	other.Balance = decimal.RequireFromString("190.00")
	other.ConsecutiveLosses = 1
	other.Halted = true
	diffs := compareState(s, other)
	assert.Len(t, diffs, 3)
	assert.Contains(t, diffs[0], "balance")

	// equal amounts at a different scale are not a difference
	scaled := s
	scaled.Balance = decimal.RequireFromString("200.00")
	assert.Empty(t, compareState(s, scaled))
}

func TestStatsWindow(t *testing.T) {
	start, end := statsWindow(0)
	assert.True(t, start.IsZero())
	assert.True(t, end.IsZero())

	start, end = statsWindow(7)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -7), start, time.Minute)
	assert.True(t, end.IsZero())
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "pmtrader.yaml", `
journal:
  type: memory
lock:
  type: local
`)
	signals := writeFile(t, dir, "signals.yaml", `
signals:
  - market_id: will-it-rain
    side: YES
    estimated_probability: 0.6
    market_price: 0.45
    confidence: 1
`)
	quotes := writeFile(t, dir, "quotes.yaml", `
quotes:
  - market_id: will-it-rain
    yes_price: 0.45
`)

	rootCmd.SetArgs([]string{"run", "-f", cfg, "--signals", signals, "--quotes", quotes, "--json"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		cfgFile, runSignals, runQuotes, runJSON = "", "", "", false
	})
	require.NoError(t, Execute())
}

func TestConfigInitAndValidate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "pmtrader.yaml")
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		cfgFile = ""
	})

	rootCmd.SetArgs([]string{"config", "init", "-o", out})
	require.NoError(t, Execute())
	_, err := os.Stat(out)
	require.NoError(t, err)

	rootCmd.SetArgs([]string{"config", "validate", "-f", out})
	require.NoError(t, Execute())
}
