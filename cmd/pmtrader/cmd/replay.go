package cmd

import (
	"fmt"
	"time"

	"github.com/rustyeddy/pmtrader/journal"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild state from the journal and verify it",
	Long: `Replay the whole journal from the starting balance and compare the
result with the state restored from the latest snapshot plus its tail.
Any difference is reported and the command fails.

Example:
  pmtrader replay -f pmtrader.yaml
  pmtrader replay --snapshot     # save a fresh snapshot once verified`,
	RunE: runReplay,
}

var replaySnapshot bool

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().BoolVar(&replaySnapshot, "snapshot", false, "save a snapshot after a clean replay")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	ec := a.cfg.EngineConfig()
	ledger := risk.Ledger{DayBoundary: ec.Policy.DayBoundary}
	full := journal.NewProjection(risk.NewState(decimal.NewFromFloat(ec.Policy.StartingBalanceUSD), ledger.DayStart(start)))
	n, err := full.CatchUp(ctx, a.journal)
	if err != nil {
		return fmt.Errorf("full replay: %w", err)
	}

	live := a.engine.State()
	positions := a.engine.Positions(true)
	fmt.Printf("Replayed %d events in %s (seq %d)\n", n, time.Since(start).Round(time.Millisecond), full.Seq)

	diffs := compareState(full.State, live)
	if full.Seq != a.engine.Seq() {
		diffs = append(diffs, fmt.Sprintf("seq: replay %d, restored %d", full.Seq, a.engine.Seq()))
	}
	if got, want := full.Book.Len(), len(positions); got != want {
		diffs = append(diffs, fmt.Sprintf("positions: replay %d, restored %d", got, want))
	}
	for _, p := range positions {
		r, ok := full.Book.Get(p.ID)
		if !ok {
			diffs = append(diffs, fmt.Sprintf("position %s missing from replay", p.ID))
			continue
		}
		if r.Status != p.Status {
			diffs = append(diffs, fmt.Sprintf("position %s: replay %s, restored %s", p.ID, r.Status, p.Status))
		}
	}

	if len(diffs) > 0 {
		for _, d := range diffs {
			fmt.Printf("  ✗ %s\n", d)
		}
		return fmt.Errorf("replay mismatch (%d differences)", len(diffs))
	}

	fmt.Printf("✓ Replay matches restored state\n")
	fmt.Printf("  Balance: $%s  Realized: $%s  Open: %d\n",
		live.Balance.StringFixed(2), live.RealizedPnL.StringFixed(2), full.Book.OpenCount())

	if replaySnapshot {
		if err := a.engine.Snapshot(ctx); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		fmt.Printf("✓ Snapshot saved at seq %d\n", a.engine.Seq())
	}
	return nil
}

func compareState(replayed, restored risk.State) []string {
	var diffs []string
	money := func(name string, a, b decimal.Decimal) {
		if !a.Equal(b) {
			diffs = append(diffs, fmt.Sprintf("%s: replay %s, restored %s", name, a, b))
		}
	}
	money("balance", replayed.Balance, restored.Balance)
	money("peak balance", replayed.PeakBalance, restored.PeakBalance)
	money("realized pnl", replayed.RealizedPnL, restored.RealizedPnL)
	money("daily loss", replayed.DailyLoss, restored.DailyLoss)
	if replayed.ConsecutiveLosses != restored.ConsecutiveLosses {
		diffs = append(diffs, fmt.Sprintf("consecutive losses: replay %d, restored %d", replayed.ConsecutiveLosses, restored.ConsecutiveLosses))
	}
	if replayed.Settlements != restored.Settlements {
		diffs = append(diffs, fmt.Sprintf("settlements: replay %d, restored %d", replayed.Settlements, restored.Settlements))
	}
	if replayed.Halted != restored.Halted {
		diffs = append(diffs, fmt.Sprintf("halted: replay %t, restored %t", replayed.Halted, restored.Halted))
	}
	return diffs
}
