package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/pmtrader/engine"
	"github.com/rustyeddy/pmtrader/pricing"
	"github.com/rustyeddy/pmtrader/strategy"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one trading cycle",
	Long: `Run a single trading cycle: apply the latest quotes, settle resolved
markets and exit rule hits, then pass every signal through the gate.

Signals and quotes are read from YAML or JSON files. A signals file may
also list position ids to close ("exits").

Example:
  pmtrader run -f pmtrader.yaml --signals signals.yaml --quotes quotes.yaml
  pmtrader run --quotes quotes.yaml --exit 01HV3K...`,
	RunE: runRun,
}

var (
	runSignals string
	runQuotes  string
	runExits   []string
	runJSON    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runSignals, "signals", "s", "", "signals file (YAML or JSON)")
	runCmd.Flags().StringVarP(&runQuotes, "quotes", "q", "", "quotes file (YAML or JSON)")
	runCmd.Flags().StringSliceVar(&runExits, "exit", nil, "position id to close (repeatable)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the cycle result as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	batch, err := loadBatch(ctx, runSignals, runQuotes)
	if err != nil {
		return err
	}
	batch.Exits = append(batch.Exits, runExits...)

	res, err := a.engine.RunCycle(ctx, batch)
	var cerr *engine.CycleError
	if errors.As(err, &cerr) {
		res = cerr.Result
	}
	if runJSON {
		if perr := printJSON(res); perr != nil {
			return perr
		}
	} else {
		printCycle(res)
	}
	return err
}

// loadBatch reads one cycle's input. Either path may be empty.
func loadBatch(ctx context.Context, signalsPath, quotesPath string) (engine.Batch, error) {
	var b engine.Batch
	if quotesPath != "" {
		qs, err := pricing.LoadQuotes(quotesPath)
		if err != nil {
			return b, err
		}
		b.Quotes = qs.All()
	}
	if signalsPath != "" {
		sf, err := strategy.LoadSignals(signalsPath)
		if err != nil {
			return b, err
		}
		sigs, err := strategy.Collect(ctx, sf.Sources("file")...)
		if err != nil {
			return b, fmt.Errorf("collect signals: %w", err)
		}
		b.Signals = sigs
		b.Exits = sf.Exits
	}
	return b, nil
}
