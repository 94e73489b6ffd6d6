package cmd

import (
	"fmt"

	"github.com/rustyeddy/pmtrader/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pmtrader",
	Short: "Risk-managed signal execution for prediction markets",
	Long: `pmtrader turns probability signals on binary prediction markets into
sized, risk-checked positions.

Every signal passes an execution gate: minimum edge, circuit breaker
(daily loss, drawdown, losing streak), open position limits and a
bounded Kelly sizer. Every decision and state change is written to an
append-only journal before it takes effect, so the state can always be
rebuilt by replaying it.

Examples:
  pmtrader config init -o pmtrader.yaml
  pmtrader run -f pmtrader.yaml --signals signals.yaml --quotes quotes.yaml
  pmtrader status -f pmtrader.yaml
  pmtrader serve -f pmtrader.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			return config.LoadEnv(envFile)
		}
		return config.LoadEnv()
	},
}

var (
	cfgFile string
	envFile string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "f", "", "path to config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to a .env file (default ./.env when present)")
}

// loadConfig reads --config, or returns the defaults.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
