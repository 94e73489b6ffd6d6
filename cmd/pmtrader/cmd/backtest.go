package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rustyeddy/pmtrader/backtest"
	"github.com/rustyeddy/pmtrader/internal/logging"
	"github.com/rustyeddy/pmtrader/strategy"
	"github.com/spf13/cobra"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest <script.yaml|quotes.csv>",
	Short: "Replay recorded quotes and signals through the pipeline",
	Long: `Run a backtest against an in-memory journal on a simulated clock. Risk
limits, sizing and exits come from the config file.

A YAML or JSON script lists timed steps with quotes, signals and exits.
A CSV file holds quote history (time,market_id,yes_price[,resolved,outcome]);
signals then come from --signals, re-submitted on every step.

Examples:
  pmtrader backtest script.yaml
  pmtrader backtest history.csv --signals signals.yaml --close-end`,
	Args: cobra.ExactArgs(1),
	RunE: runBacktest,
}

var (
	backtestSignals  string
	backtestCloseEnd bool
	backtestJSON     bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&backtestSignals, "signals", "s", "", "signals file submitted on every step")
	backtestCmd.Flags().BoolVar(&backtestCloseEnd, "close-end", false, "close open positions at the last quote")
	backtestCmd.Flags().BoolVar(&backtestJSON, "json", false, "print the result as JSON")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := cfg.LogOptions()
	opts.File = ""
	log, closer, err := logging.New(opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	var feed backtest.Feed
	if strings.HasSuffix(strings.ToLower(args[0]), ".csv") {
		feed, err = backtest.NewCSVQuotesFeed(args[0])
	} else {
		feed, err = backtest.LoadScript(args[0])
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", args[0], err)
	}

	r := &backtest.Runner{
		Config:  cfg.EngineConfig(),
		Paper:   cfg.PaperOptions(),
		Feed:    feed,
		Options: backtest.Options{CloseEnd: backtestCloseEnd},
		Log:     log,
	}
	if backtestSignals != "" {
		r.Sources = append(r.Sources, strategy.File{Path: backtestSignals})
	}

	res, err := r.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if backtestJSON {
		return printJSON(res)
	}
	backtest.Print(os.Stdout, res)
	return nil
}
