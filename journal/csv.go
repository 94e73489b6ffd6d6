package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rustyeddy/pmtrader/position"
)

var eventHeader = []string{"seq", "time", "type", "market_id", "position_id", "payload"}

// WriteEventsCSV writes events as CSV with the raw JSON payload in the last
// column.
func WriteEventsCSV(w io.Writer, events []Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(eventHeader); err != nil {
		return err
	}
	for _, e := range events {
		if err := cw.Write([]string{
			strconv.FormatInt(e.Seq, 10),
			e.Time.UTC().Format(time.RFC3339Nano),
			string(e.Type),
			e.MarketID,
			e.PositionID,
			string(e.Payload),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var positionHeader = []string{"position_id", "market_id", "side", "size_usd", "entry_price", "exit_price",
	"opened_at", "closed_at", "realized_pnl", "status", "reason", "estimated_probability", "strategy"}

// WritePositionsCSV writes one row per position.
func WritePositionsCSV(w io.Writer, ps []position.Position) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(positionHeader); err != nil {
		return err
	}
	for _, p := range ps {
		exit, closed, pnl := "", "", ""
		if p.ExitPrice != nil {
			exit = p.ExitPrice.String()
		}
		if p.ClosedAt != nil {
			closed = p.ClosedAt.Format(time.RFC3339)
		}
		if p.RealizedPnL != nil {
			pnl = p.RealizedPnL.StringFixed(2)
		}
		if err := cw.Write([]string{
			p.ID,
			p.MarketID,
			string(p.Side),
			p.SizeUSD.StringFixed(2),
			p.EntryPrice.String(),
			exit,
			p.OpenedAt.Format(time.RFC3339),
			closed,
			pnl,
			string(p.Status),
			string(p.CloseReason),
			f(p.EstimatedProbability),
			p.Strategy,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
