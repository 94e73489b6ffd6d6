package cmd

import (
	"fmt"

	"github.com/rustyeddy/pmtrader/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage pmtrader configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  pmtrader config init -o pmtrader.yaml
  pmtrader config validate -f pmtrader.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings. The format
follows the file extension (.yaml, .yml or .json).

Example:
  pmtrader config init -o pmtrader.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check that the file given with --config loads and passes validation.

Example:
  pmtrader config validate -f pmtrader.yaml`,
	RunE: runConfigValidate,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "pmtrader.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  pmtrader run -f %s --signals signals.yaml --quotes quotes.yaml\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("no config file given (use --config)")
	}
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", cfgFile)
	fmt.Printf("  Account: $%.2f starting balance\n", cfg.Account.StartingBalanceUSD)
	fmt.Printf("  Risk: daily loss $%.2f, drawdown %.1f%%, %d losses -> %dm cooldown\n",
		cfg.Risk.MaxDailyLossUSD, cfg.Risk.MaxDrawdownPct, cfg.Risk.CircuitBreakerLosses, cfg.Risk.CooldownMinutes)
	fmt.Printf("  Sizing: kelly cap %.2f, $%.2f-$%.2f per position\n",
		cfg.Sizing.MaxKellyFraction, cfg.Sizing.MinPositionUSD, cfg.Sizing.MaxPositionUSD)
	fmt.Printf("  Venue: %s\n", cfg.Venue.Type)
	fmt.Printf("  Journal: %s\n", cfg.Journal.Type)
	fmt.Printf("  Lock: %s\n", cfg.Lock.Type)
	return nil
}
