package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/pmtrader/position"
)

// FormatPositionOrg renders a position as an Org-mode block for a trading
// notebook. Structured facts go in the PROPERTIES drawer; the headings
// below are left for notes.
func FormatPositionOrg(p position.Position) string {
	heading := fmt.Sprintf("** Position: %s %s (%s)", p.MarketID, p.Side, shortID(p.ID))

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":ID: %s\n", p.ID))
	b.WriteString(fmt.Sprintf(":MARKET: %s\n", p.MarketID))
	b.WriteString(fmt.Sprintf(":SIDE: %s\n", p.Side))
	b.WriteString(fmt.Sprintf(":SIZE_USD: %s\n", p.SizeUSD.StringFixed(2)))
	b.WriteString(fmt.Sprintf(":ENTRY_PRICE: %s\n", p.EntryPrice.StringFixed(4)))
	b.WriteString(fmt.Sprintf(":ESTIMATE: %.3f\n", p.EstimatedProbability))
	b.WriteString(fmt.Sprintf(":OPENED: %s\n", p.OpenedAt.UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf(":STATUS: %s\n", p.Status))
	if p.ExitPrice != nil {
		b.WriteString(fmt.Sprintf(":EXIT_PRICE: %s\n", p.ExitPrice.StringFixed(4)))
	}
	if p.ClosedAt != nil {
		b.WriteString(fmt.Sprintf(":CLOSED: %s\n", p.ClosedAt.UTC().Format(time.RFC3339)))
	}
	if p.RealizedPnL != nil {
		b.WriteString(fmt.Sprintf(":REALIZED_PNL: %s\n", p.RealizedPnL.StringFixed(2)))
		b.WriteString(fmt.Sprintf(":REASON: %s\n", p.CloseReason))
	}
	if p.Strategy != "" {
		b.WriteString(fmt.Sprintf(":STRATEGY: %s\n", p.Strategy))
	}
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

// FormatPositionsOrg renders multiple positions separated by blank lines.
func FormatPositionsOrg(ps []position.Position) string {
	var b strings.Builder
	for i, p := range ps {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatPositionOrg(p))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
