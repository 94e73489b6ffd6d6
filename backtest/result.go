package backtest

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rustyeddy/pmtrader/engine"
	"github.com/rustyeddy/pmtrader/journal"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/shopspring/decimal"
)

// Result is a summary of a backtest run.
type Result struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Cycles int       `json:"cycles"`

	Approved   int                 `json:"approved"`
	Rejected   int                 `json:"rejected"`
	Failed     int                 `json:"failed"`
	Rejections map[risk.Reason]int `json:"rejections"`

	StartBalance   decimal.Decimal   `json:"start_balance_usd"`
	EndBalance     decimal.Decimal   `json:"end_balance_usd"`
	MaxDrawdownPct decimal.Decimal   `json:"max_drawdown_pct"`
	Breaker        risk.BreakerState `json:"breaker"`
	Open           int               `json:"open"`
	Seq            int64             `json:"seq"`

	Stats journal.Stats `json:"stats"`
}

func (r *Result) add(cr engine.CycleResult) {
	r.Cycles++
	r.Approved += len(cr.Approved)
	r.Failed += len(cr.Failed)
	r.Rejected += len(cr.Rejected)
	for _, x := range cr.Rejected {
		r.Rejections[x.Rejection]++
	}
	if dd := cr.State.DrawdownPct(); dd.GreaterThan(r.MaxDrawdownPct) {
		r.MaxDrawdownPct = dd
	}
}

func (r Result) NetPnL() decimal.Decimal { return r.EndBalance.Sub(r.StartBalance) }

func Print(w io.Writer, r Result) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Cycles:        %d\n", r.Cycles)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Signals")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Approved:      %d\n", r.Approved)
	fmt.Fprintf(w, "Rejected:      %d\n", r.Rejected)
	if r.Failed > 0 {
		fmt.Fprintf(w, "Failed:        %d\n", r.Failed)
	}
	reasons := make([]string, 0, len(r.Rejections))
	for reason := range r.Rejections {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "  %-24s %d\n", reason, r.Rejections[risk.Reason(reason)])
	}

	st := r.Stats
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Settled:       %d\n", st.Settled)
	fmt.Fprintf(w, "Wins:          %d\n", st.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", st.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", st.WinRate*100)
	if st.ProfitFactor > 0 {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", st.ProfitFactor)
	}
	if st.Resolved > 0 {
		fmt.Fprintf(w, "Brier Score:   %.4f (%d resolved)\n", st.Brier, st.Resolved)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Balance: %s\n", r.StartBalance.StringFixed(2))
	fmt.Fprintf(w, "End Balance:   %s\n", r.EndBalance.StringFixed(2))
	fmt.Fprintf(w, "Net P/L:       %s\n", r.NetPnL().StringFixed(2))
	fmt.Fprintf(w, "Max Drawdown:  %s%%\n", r.MaxDrawdownPct.StringFixed(2))
	fmt.Fprintf(w, "Breaker:       %s\n", r.Breaker)
	if r.Open > 0 {
		fmt.Fprintf(w, "Still Open:    %d\n", r.Open)
	}
	fmt.Fprintln(w)
}
