package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rustyeddy/pmtrader/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the event journal",
	Long: `Inspect the append-only journal.

Subcommands:
  events    - List events after a sequence number
  position  - Show the history of one position
  stats     - Win rate, P/L and calibration of settled positions
  export    - Write events or positions as CSV

Examples:
  pmtrader journal events --after 100
  pmtrader journal position 01HV3K...
  pmtrader journal stats --days 30
  pmtrader journal export --positions -o positions.csv`,
}

var journalEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List journal events",
	RunE:  runJournalEvents,
}

var journalPositionCmd = &cobra.Command{
	Use:   "position <id>",
	Short: "Show the history of one position",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalPosition,
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize settled positions",
	RunE:  runJournalStats,
}

var journalExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export events or positions as CSV",
	RunE:  runJournalExport,
}

var (
	journalAfter     int64
	journalLimit     int
	journalDays      int
	journalOrg       bool
	journalJSON      bool
	journalPositions bool
	journalOutput    string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalEventsCmd, journalPositionCmd, journalStatsCmd, journalExportCmd)

	journalEventsCmd.Flags().Int64Var(&journalAfter, "after", 0, "only events with seq greater than this")
	journalEventsCmd.Flags().IntVarP(&journalLimit, "limit", "n", 50, "maximum events to print (0 for all)")
	journalPositionCmd.Flags().BoolVar(&journalOrg, "org", false, "print as an org-mode entry")
	journalStatsCmd.Flags().IntVar(&journalDays, "days", 0, "only positions settled in the last N days (0 for all)")
	journalStatsCmd.Flags().BoolVar(&journalJSON, "json", false, "print stats as JSON")
	journalExportCmd.Flags().BoolVar(&journalPositions, "positions", false, "export settled positions instead of events")
	journalExportCmd.Flags().StringVarP(&journalOutput, "output", "o", "", "output file (default stdout)")
}

// openConfiguredJournal opens the journal alone. Queries do not need the
// engine or the cycle lock.
func openConfiguredJournal(cmd *cobra.Command) (journal.Journal, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openJournal(cmd.Context(), cfg)
}

func runJournalEvents(cmd *cobra.Command, args []string) error {
	j, err := openConfiguredJournal(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	events, err := j.Since(cmd.Context(), journalAfter)
	if err != nil {
		return err
	}
	if journalLimit > 0 && len(events) > journalLimit {
		events = events[:journalLimit]
	}
	for _, e := range events {
		fmt.Printf("%6d  %s  %-18s %s\n", e.Seq, e.Time.Format(time.RFC3339), e.Type, e.Payload)
	}
	return nil
}

func runJournalPosition(cmd *cobra.Command, args []string) error {
	j, err := openConfiguredJournal(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	history, err := journal.PositionHistory(cmd.Context(), j, args[0])
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("position %s not found", args[0])
	}
	if journalOrg {
		fmt.Print(journal.FormatPositionOrg(history[len(history)-1]))
		return nil
	}
	for _, p := range history {
		printPosition(p)
	}
	return nil
}

func runJournalStats(cmd *cobra.Command, args []string) error {
	j, err := openConfiguredJournal(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	start, end := statsWindow(journalDays)
	settled, err := journal.Settled(cmd.Context(), j, start, end)
	if err != nil {
		return err
	}
	st := journal.ComputeStats(settled)
	if journalJSON {
		return printJSON(st)
	}

	fmt.Printf("Settled:       %d (%d wins, %d losses)\n", st.Settled, st.Wins, st.Losses)
	fmt.Printf("Win rate:      %.1f%%\n", st.WinRate*100)
	fmt.Printf("Total P/L:     $%s\n", st.TotalPnL.StringFixed(2))
	fmt.Printf("Profit factor: %.2f\n", st.ProfitFactor)
	fmt.Printf("Average edge:  %.3f\n", st.AvgEdge)
	if st.Resolved > 0 {
		fmt.Printf("Brier score:   %.4f over %d resolved\n", st.Brier, st.Resolved)
		for _, b := range st.Calibration {
			if b.Count == 0 {
				continue
			}
			fmt.Printf("  %.1f-%.1f  n=%-4d predicted %.2f  observed %.2f\n", b.Lower, b.Upper, b.Count, b.MeanPredicted, b.Observed)
		}
	}
	return nil
}

func runJournalExport(cmd *cobra.Command, args []string) error {
	j, err := openConfiguredJournal(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	out := os.Stdout
	if journalOutput != "" {
		f, err := os.Create(journalOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if journalPositions {
		start, end := statsWindow(0)
		settled, err := journal.Settled(cmd.Context(), j, start, end)
		if err != nil {
			return err
		}
		return journal.WritePositionsCSV(out, settled)
	}
	events, err := j.Since(cmd.Context(), 0)
	if err != nil {
		return err
	}
	return journal.WriteEventsCSV(out, events)
}

// statsWindow covers the last days days, or all time when days is zero.
// The zero end leaves the window open.
func statsWindow(days int) (time.Time, time.Time) {
	if days <= 0 {
		return time.Time{}, time.Time{}
	}
	return time.Now().UTC().AddDate(0, 0, -days), time.Time{}
}
