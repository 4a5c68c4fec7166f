package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rxtech-lab/argo-options/internal/store"
	"github.com/rxtech-lab/argo-options/internal/types"
	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// Exporter writes the trade history to CSV files.
type Exporter struct {
	store *store.Store
}

// NewExporter creates an Exporter.
func NewExporter(store *store.Store) *Exporter {
	return &Exporter{store: store}
}

// ExportCSV writes <base>_trades.csv, <base>_orders.csv, and <base>_fills.csv
// and returns the written paths.
func (e *Exporter) ExportCSV(base string) ([]string, error) {
	trades, err := e.store.ListAllTrades()
	if err != nil {
		return nil, err
	}

	orders, err := e.store.ListAllOrders()
	if err != nil {
		return nil, err
	}

	fills, err := e.store.ListAllFills()
	if err != nil {
		return nil, err
	}

	tradesPath := base + "_trades.csv"
	if err := writeCSV(tradesPath, tradeHeader(), tradeRows(trades)); err != nil {
		return nil, err
	}

	ordersPath := base + "_orders.csv"
	if err := writeCSV(ordersPath, orderHeader(), orderRows(orders)); err != nil {
		return nil, err
	}

	fillsPath := base + "_fills.csv"
	if err := writeCSV(fillsPath, fillHeader(), fillRows(fills)); err != nil {
		return nil, err
	}

	return []string{tradesPath, ordersPath, fillsPath}, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to create %s", path)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(header); err != nil {
		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to write header to %s", path)
	}

	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to write row to %s", path)
		}
	}

	writer.Flush()

	return writer.Error()
}

func tradeHeader() []string {
	return []string{
		"id", "session_id", "symbol", "state", "expiration",
		"short_strike", "long_strike", "spread_width", "quantity",
		"credit", "debit_to_close", "pnl", "reason_open", "reason_close",
		"opened_at", "closed_at",
	}
}

func tradeRows(trades []types.Trade) [][]string {
	rows := make([][]string, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, []string{
			t.ID, t.SessionID, t.Symbol, string(t.State), formatTime(t.Expiration),
			formatFloat(t.ShortStrike), formatFloat(t.LongStrike), formatFloat(t.SpreadWidth), strconv.Itoa(t.Quantity),
			formatFloat(t.Credit), formatFloat(t.DebitToClose), formatFloat(t.PnL), t.ReasonOpen, string(t.ReasonClose),
			formatTime(t.OpenedAt), formatTime(t.ClosedAt),
		})
	}

	return rows
}

func orderHeader() []string {
	return []string{
		"id", "trade_id", "intent", "status", "limit_price",
		"quantity", "attempt", "broker_order_id", "submitted_at", "fill_price",
	}
}

func orderRows(orders []types.Order) [][]string {
	rows := make([][]string, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, []string{
			o.ID, o.TradeID, string(o.Intent), string(o.Status), formatFloat(o.LimitPrice),
			strconv.Itoa(o.Quantity), strconv.Itoa(o.Attempt), o.BrokerOrderID, formatTime(o.SubmittedAt), formatFloat(o.FillPrice),
		})
	}

	return rows
}

func fillHeader() []string {
	return []string{"id", "order_id", "price", "quantity", "filled_at"}
}

func fillRows(fills []types.Fill) [][]string {
	rows := make([][]string, 0, len(fills))
	for _, f := range fills {
		rows = append(rows, []string{
			f.ID, f.OrderID, formatFloat(f.Price), strconv.Itoa(f.Quantity), formatTime(f.FilledAt),
		})
	}

	return rows
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.4f", f)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.Format(time.RFC3339)
}
