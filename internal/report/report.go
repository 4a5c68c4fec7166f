// Package report builds daily activity summaries and CSV exports from the
// persistence store.
package report

import (
	"fmt"
	"strings"

	"github.com/rxtech-lab/argo-options/internal/store"
	"github.com/rxtech-lab/argo-options/internal/types"
)

// DailyReport summarizes one exchange-timezone day.
type DailyReport struct {
	Day          types.DailyStats
	ClosedTrades []types.Trade
	ActiveTrades []types.Trade
}

// Reporter assembles reports from the store.
type Reporter struct {
	store *store.Store
}

// NewReporter creates a Reporter.
func NewReporter(store *store.Store) *Reporter {
	return &Reporter{store: store}
}

// BuildDaily returns the report for the given YYYY-MM-DD day key.
func (r *Reporter) BuildDaily(day string) (DailyReport, error) {
	var report DailyReport

	stats, err := r.store.GetDailyStats(day)
	if err != nil {
		return report, err
	}

	closed, err := r.store.ListTradesClosedOn(day)
	if err != nil {
		return report, err
	}

	active, err := r.store.ListActiveTrades()
	if err != nil {
		return report, err
	}

	report.Day = stats
	report.ClosedTrades = closed
	report.ActiveTrades = active

	return report, nil
}

// Render formats the report for terminal output.
func (r DailyReport) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Daily report for %s\n", r.Day.Day)
	fmt.Fprintf(&b, "  trades opened: %d\n", r.Day.TradesCount)
	fmt.Fprintf(&b, "  realized pnl:  %.2f\n", r.Day.RealizedPnL)
	fmt.Fprintf(&b, "  wins/losses:   %d/%d (win rate %.0f%%)\n", r.Day.WinsCount, r.Day.LossesCount, r.Day.WinRate()*100)
	fmt.Fprintf(&b, "  open trades:   %d\n", len(r.ActiveTrades))

	if len(r.ClosedTrades) > 0 {
		b.WriteString("  closed today:\n")

		for _, trade := range r.ClosedTrades {
			fmt.Fprintf(&b, "    %s %s %.0f/%.0f x%d credit %.2f debit %.2f pnl %.2f (%s)\n",
				trade.Symbol,
				trade.Expiration.Format("2006-01-02"),
				trade.ShortStrike,
				trade.LongStrike,
				trade.Quantity,
				trade.Credit,
				trade.DebitToClose,
				trade.PnL,
				trade.ReasonClose,
			)
		}
	}

	return b.String()
}
