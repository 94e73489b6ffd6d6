package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear a drawdown or daily loss halt",
	Long: `Manually reset the kill switch. This is the only way out of HALTED.

Loss counters and cooldowns are left alone. If a threshold is still
breached, new signals keep being rejected and the next settlement halts
trading again.

Example:
  pmtrader reset -f pmtrader.yaml`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	changed, err := a.engine.ForceReset(ctx)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if !changed {
		fmt.Println("Not halted, nothing to reset")
		return nil
	}
	st := a.engine.Status(ctx)
	fmt.Printf("✓ Halt cleared, breaker now %s\n", st.Breaker)
	return nil
}
