package cmd

import (
	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/pricing"
	"github.com/spf13/cobra"
)

var closeCmd = &cobra.Command{
	Use:   "close <position-id>",
	Short: "Close an open position at the current quote",
	Long: `Close one open position manually. The exit price comes from the quotes
file; a resolved market settles at its outcome instead.

Example:
  pmtrader close 01HV3K... --quotes quotes.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runClose,
}

var closeQuotes string

func init() {
	rootCmd.AddCommand(closeCmd)

	closeCmd.Flags().StringVarP(&closeQuotes, "quotes", "q", "", "quotes file (required)")
	closeCmd.MarkFlagRequired("quotes")
}

func runClose(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	qs, err := pricing.LoadQuotes(closeQuotes)
	if err != nil {
		return err
	}
	for _, q := range qs.All() {
		a.quotes.Set(q)
	}

	p, err := a.engine.ClosePosition(ctx, args[0], position.ReasonManual)
	if err != nil {
		return err
	}
	printPosition(p)
	return nil
}
