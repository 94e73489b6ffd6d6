package cmd

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/pricing"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Pass a single signal through the execution gate",
	Long: `Submit one signal outside a cycle. The paper venue fills at the quote
from --quotes, or at the signal's own market price when no quote file is
given.

Example:
  pmtrader submit --market will-it-rain --side YES --prob 0.55 --price 0.42`,
	RunE: runSubmit,
}

var (
	submitSig    market.Signal
	submitSide   string
	submitQuotes string
	submitJSON   bool
)

func init() {
	rootCmd.AddCommand(submitCmd)

	f := submitCmd.Flags()
	f.StringVarP(&submitSig.MarketID, "market", "m", "", "market id (required)")
	f.StringVar(&submitSide, "side", "YES", "YES or NO")
	f.Float64Var(&submitSig.EstimatedProbability, "prob", 0, "estimated probability of the side")
	f.Float64Var(&submitSig.MarketPrice, "price", 0, "market price of the side")
	f.Float64Var(&submitSig.Confidence, "confidence", 1, "signal confidence in [0,1]")
	f.StringVar(&submitSig.Question, "question", "", "market question")
	f.StringVar(&submitSig.Strategy, "strategy", "manual", "strategy label")
	f.StringVarP(&submitQuotes, "quotes", "q", "", "quotes file (YAML or JSON)")
	f.BoolVar(&submitJSON, "json", false, "print the result as JSON")
	submitCmd.MarkFlagRequired("market")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sig := submitSig
	sig.Side = market.Side(submitSide)

	if submitQuotes != "" {
		qs, err := pricing.LoadQuotes(submitQuotes)
		if err != nil {
			return err
		}
		for _, q := range qs.All() {
			a.quotes.Set(q)
		}
	}
	if _, err := a.quotes.Get(sig.MarketID); errors.Is(err, pricing.ErrNoQuote) && sig.Side.Valid() {
		yes := sig.MarketPrice
		if sig.Side == market.No {
			yes = 1 - sig.MarketPrice
		}
		a.quotes.Set(market.Quote{MarketID: sig.MarketID, YesPrice: yes})
	}

	res, err := a.engine.Submit(ctx, sig)
	if err != nil {
		return err
	}
	if submitJSON {
		return printJSON(res)
	}
	printResult(res)
	if !res.Approved {
		return fmt.Errorf("signal rejected: %s", res.Rejection)
	}
	return nil
}
