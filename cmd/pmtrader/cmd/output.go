package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rustyeddy/pmtrader/engine"
	"github.com/rustyeddy/pmtrader/position"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(r engine.ExecutionResult) {
	sig := r.Signal
	switch {
	case r.Approved && r.Position != nil:
		p := r.Position
		fmt.Printf("✓ APPROVED %s %s  $%s @ %s  (edge %.3f)  %s\n",
			sig.MarketID, sig.Side, p.SizeUSD.StringFixed(2), p.EntryPrice.StringFixed(4), sig.Edge(), shortID(p.ID))
	default:
		fmt.Printf("✗ %s %s %s: %s\n", r.Rejection, sig.MarketID, sig.Side, r.Detail)
	}
}

func printPosition(p position.Position) {
	line := fmt.Sprintf("  %s  %-28s %-3s  $%7s @ %s  %s",
		shortID(p.ID), truncate(p.MarketID, 28), p.Side, p.SizeUSD.StringFixed(2), p.EntryPrice.StringFixed(4), p.Status)
	if p.RealizedPnL != nil {
		line += fmt.Sprintf("  pnl %s (%s)", p.RealizedPnL.StringFixed(2), p.CloseReason)
	}
	fmt.Println(line)
}

func printCycle(res engine.CycleResult) {
	fmt.Printf("Cycle %s (%s)\n", res.Started.Format("2006-01-02 15:04:05"), res.Finished.Sub(res.Started).Round(time.Millisecond))
	if len(res.Closed) > 0 {
		fmt.Printf("\nClosed (%d):\n", len(res.Closed))
		for _, p := range res.Closed {
			printPosition(p)
		}
	}
	if n := len(res.Approved) + len(res.Rejected) + len(res.Failed); n > 0 {
		fmt.Printf("\nSignals (%d):\n", n)
		for _, group := range [][]engine.ExecutionResult{res.Approved, res.Rejected, res.Failed} {
			for _, r := range group {
				fmt.Print("  ")
				printResult(r)
			}
		}
	}
	fmt.Printf("\nBreaker: %s  Balance: $%s  Seq: %d\n", res.Breaker, res.State.Balance.StringFixed(2), res.Seq)
}

func printStatus(s engine.Status) {
	fmt.Printf("Breaker:            %s\n", s.Breaker)
	if s.HaltReason != "" {
		fmt.Printf("Halt reason:        %s\n", s.HaltReason)
	}
	if s.Breach != "" {
		fmt.Printf("Entries blocked:    %s\n", s.Breach)
	}
	if s.CooldownUntil != nil {
		fmt.Printf("Cooldown until:     %s (%s left)\n", s.CooldownUntil.Format("2006-01-02 15:04"), s.CooldownRemaining.Round(time.Minute))
	}
	fmt.Printf("Balance:            $%s (peak $%s)\n", s.BalanceUSD.StringFixed(2), s.PeakBalanceUSD.StringFixed(2))
	fmt.Printf("Drawdown:           %s%%\n", s.DrawdownPct.StringFixed(2))
	fmt.Printf("Daily loss:         $%s\n", s.DailyLossUSD.StringFixed(2))
	fmt.Printf("Consecutive losses: %d\n", s.ConsecutiveLosses)
	fmt.Printf("Trades today:       %d\n", s.TradesToday)
	fmt.Printf("Realized P/L:       $%s\n", s.RealizedPnLUSD.StringFixed(2))
	fmt.Printf("Unrealized P/L:     $%s\n", s.UnrealizedPnLUSD.StringFixed(2))
	fmt.Printf("Open positions:     %d ($%s exposure)\n", s.OpenPositions, s.ExposureUSD.StringFixed(2))
	fmt.Printf("Journal seq:        %d\n", s.Seq)
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[len(id)-10:]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-1]) + "…"
}
