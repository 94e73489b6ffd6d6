package cmd

import (
	"fmt"

	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/pricing"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show breaker, ledger and open positions",
	Long: `Print the circuit breaker state, the risk ledger and the open positions
as rebuilt from the journal.

Example:
  pmtrader status -f pmtrader.yaml
  pmtrader status --quotes quotes.yaml --json`,
	RunE: runStatus,
}

var (
	statusQuotes string
	statusJSON   bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusQuotes, "quotes", "q", "", "quotes file used to mark open positions")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if statusQuotes != "" {
		qs, err := pricing.LoadQuotes(statusQuotes)
		if err != nil {
			return err
		}
		for _, q := range qs.All() {
			a.quotes.Set(q)
		}
	}

	st := a.engine.Status(ctx)
	open := a.engine.Positions(false)
	if statusJSON {
		return printJSON(struct {
			Status    any                 `json:"status"`
			Positions []position.Position `json:"positions"`
		}{st, open})
	}

	printStatus(st)
	if len(open) > 0 {
		fmt.Printf("\nOpen positions:\n")
		for _, p := range open {
			printPosition(p)
		}
	}
	return nil
}
