// Package store persists sessions, trades, orders, fills, daily aggregates,
// and market snapshots in DuckDB. All multi-row lifecycle changes run in a
// single transaction so a crash never leaves a fill without its trade update.
package store

import (
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-options/internal/logger"
	"github.com/rxtech-lab/argo-options/internal/types"
	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// Store wraps the DuckDB connection. The bot is the single writer; no
// cross-process locking is attempted.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// activeStates are the trade states that count toward the one-open-trade-per-
// symbol rule.
var activeStates = []types.TradeState{
	types.TradeStatePendingEntry,
	types.TradeStateOpen,
	types.TradeStatePendingExit,
}

// NewStore opens (or creates) the database at path and initializes the schema.
// Pass ":memory:" for an ephemeral database.
func NewStore(path string, logger *logger.Logger) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to open database", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := s.Initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

// Initialize creates the schema if it does not exist.
func (s *Store) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			mode TEXT,
			status TEXT,
			started_at TIMESTAMP,
			ended_at TIMESTAMP,
			config_snapshot TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create sessions table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			session_id TEXT,
			symbol TEXT,
			state TEXT,
			expiration TIMESTAMP,
			short_strike DOUBLE,
			long_strike DOUBLE,
			spread_width DOUBLE,
			quantity INTEGER,
			credit DOUBLE,
			debit_to_close DOUBLE,
			pnl DOUBLE,
			reason_open TEXT,
			reason_close TEXT,
			opened_at TIMESTAMP,
			closed_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create trades table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			trade_id TEXT,
			intent TEXT,
			status TEXT,
			limit_price DOUBLE,
			quantity INTEGER,
			attempt INTEGER,
			broker_order_id TEXT,
			submitted_at TIMESTAMP,
			fill_price DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create orders table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS fills (
			id TEXT PRIMARY KEY,
			order_id TEXT,
			price DOUBLE,
			quantity INTEGER,
			filled_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create fills table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_stats (
			day TEXT PRIMARY KEY,
			trades_count INTEGER,
			realized_pnl DOUBLE,
			wins_count INTEGER,
			losses_count INTEGER
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create daily_stats table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS market_snapshots (
			id TEXT PRIMARY KEY,
			symbol TEXT,
			underlying_px DOUBLE,
			taken_at_millis BIGINT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create market_snapshots table", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session record with status running.
func (s *Store) CreateSession(rec types.SessionRecord) error {
	insert := s.sq.
		Insert("sessions").
		Columns("id", "mode", "status", "started_at", "ended_at", "config_snapshot").
		Values(rec.ID, rec.Mode, rec.Status, rec.StartedAt, rec.EndedAt, rec.ConfigSnapshot).
		RunWith(s.db)

	if _, err := insert.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to insert session", err)
	}

	return nil
}

// FinishSession records the terminal status and end time of a session.
func (s *Store) FinishSession(id string, status types.SessionStatus, endedAt time.Time) error {
	update := s.sq.
		Update("sessions").
		Set("status", status).
		Set("ended_at", endedAt).
		Where(squirrel.Eq{"id": id}).
		RunWith(s.db)

	res, err := update.Exec()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to finish session", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Newf(errors.ErrCodeSessionNotFound, "session %s not found", id)
	}

	return nil
}

// GetSession returns the session with the given id.
func (s *Store) GetSession(id string) (optional.Option[types.SessionRecord], error) {
	query := s.sq.
		Select("id", "mode", "status", "started_at", "ended_at", "config_snapshot").
		From("sessions").
		Where(squirrel.Eq{"id": id}).
		RunWith(s.db)

	var rec types.SessionRecord

	err := query.QueryRow().Scan(&rec.ID, &rec.Mode, &rec.Status, &rec.StartedAt, &rec.EndedAt, &rec.ConfigSnapshot)
	if err == sql.ErrNoRows {
		return optional.None[types.SessionRecord](), nil
	}

	if err != nil {
		return optional.None[types.SessionRecord](), errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to query session", err)
	}

	return optional.Some(rec), nil
}

// CreateTrade inserts a trade in PENDING_ENTRY state. It rejects the insert
// when the symbol already has a trade in any non-terminal state.
func (s *Store) CreateTrade(trade types.Trade) error {
	if trade.State != types.TradeStatePendingEntry {
		return errors.Newf(errors.ErrCodeInvalidTransition, "new trade must start in %s, got %s", types.TradeStatePendingEntry, trade.State)
	}

	return s.insertTrade(trade)
}

// AdoptTrade books a broker position discovered during reconciliation as an
// already-OPEN trade. The duplicate-symbol invariant still applies.
func (s *Store) AdoptTrade(trade types.Trade) error {
	if trade.State != types.TradeStateOpen {
		return errors.Newf(errors.ErrCodeInvalidTransition, "adopted trade must be %s, got %s", types.TradeStateOpen, trade.State)
	}

	return s.insertTrade(trade)
}

func (s *Store) insertTrade(trade types.Trade) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to begin transaction", err)
	}

	open, err := s.hasActiveTradeTx(tx, trade.Symbol)
	if err != nil {
		tx.Rollback()

		return err
	}

	if open {
		tx.Rollback()

		return errors.Newf(errors.ErrCodeDuplicateOpenTrade, "symbol %s already has an active trade", trade.Symbol)
	}

	insert := s.sq.
		Insert("trades").
		Columns(
			"id", "session_id", "symbol", "state", "expiration",
			"short_strike", "long_strike", "spread_width", "quantity",
			"credit", "debit_to_close", "pnl",
			"reason_open", "reason_close", "opened_at", "closed_at",
		).
		Values(
			trade.ID, trade.SessionID, trade.Symbol, trade.State, trade.Expiration,
			trade.ShortStrike, trade.LongStrike, trade.SpreadWidth, trade.Quantity,
			trade.Credit, trade.DebitToClose, trade.PnL,
			trade.ReasonOpen, trade.ReasonClose, trade.OpenedAt, trade.ClosedAt,
		).
		RunWith(tx)

	if _, err := insert.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to insert trade", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to commit trade insert", err)
	}

	return nil
}

// GetTrade returns the trade with the given id.
func (s *Store) GetTrade(id string) (optional.Option[types.Trade], error) {
	query := s.selectTrades().Where(squirrel.Eq{"id": id}).RunWith(s.db)

	trade, err := scanTrade(query.QueryRow())
	if err == sql.ErrNoRows {
		return optional.None[types.Trade](), nil
	}

	if err != nil {
		return optional.None[types.Trade](), errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to query trade", err)
	}

	return optional.Some(trade), nil
}

// ListTradesByState returns trades in any of the given states, oldest first.
func (s *Store) ListTradesByState(states ...types.TradeState) ([]types.Trade, error) {
	values := make([]string, 0, len(states))
	for _, st := range states {
		values = append(values, string(st))
	}

	query := s.selectTrades().
		Where(squirrel.Eq{"state": values}).
		OrderBy("opened_at ASC", "id ASC").
		RunWith(s.db)

	return s.queryTrades(query)
}

// ListActiveTrades returns all trades in a non-terminal state.
func (s *Store) ListActiveTrades() ([]types.Trade, error) {
	return s.ListTradesByState(activeStates...)
}

// ListAllTrades returns every trade, oldest first.
func (s *Store) ListAllTrades() ([]types.Trade, error) {
	query := s.selectTrades().OrderBy("opened_at ASC", "id ASC").RunWith(s.db)

	return s.queryTrades(query)
}

// ListTradesClosedOn returns trades closed on the given exchange-timezone day.
func (s *Store) ListTradesClosedOn(day string) ([]types.Trade, error) {
	query := s.selectTrades().
		Where(squirrel.Eq{"state": types.TradeStateClosed}).
		Where("strftime(closed_at, '%Y-%m-%d') = ?", day).
		OrderBy("closed_at ASC").
		RunWith(s.db)

	return s.queryTrades(query)
}

// HasActiveTradeForSymbol reports whether the symbol has a trade in any
// non-terminal state.
func (s *Store) HasActiveTradeForSymbol(symbol string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	return s.hasActiveTradeTx(tx, symbol)
}

// RecordOrder appends a new order row.
func (s *Store) RecordOrder(order types.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}

	insert := s.sq.
		Insert("orders").
		Columns(
			"id", "trade_id", "intent", "status", "limit_price",
			"quantity", "attempt", "broker_order_id", "submitted_at", "fill_price",
		).
		Values(
			order.ID, order.TradeID, order.Intent, order.Status, order.LimitPrice,
			order.Quantity, order.Attempt, order.BrokerOrderID, order.SubmittedAt, order.FillPrice,
		).
		RunWith(s.db)

	if _, err := insert.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to insert order", err)
	}

	return nil
}

// UpdateOrderStatus records the outcome of a submitted order. Fill outcomes go
// through OpenTrade/CloseTrade instead so the trade row moves atomically.
func (s *Store) UpdateOrderStatus(orderID string, status types.OrderStatus) error {
	update := s.sq.
		Update("orders").
		Set("status", status).
		Where(squirrel.Eq{"id": orderID}).
		RunWith(s.db)

	res, err := update.Exec()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to update order status", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", orderID)
	}

	return nil
}

// ListOrdersForTrade returns the order history of a trade in attempt order.
func (s *Store) ListOrdersForTrade(tradeID string) ([]types.Order, error) {
	query := s.sq.
		Select(
			"id", "trade_id", "intent", "status", "limit_price",
			"quantity", "attempt", "broker_order_id", "submitted_at", "fill_price",
		).
		From("orders").
		Where(squirrel.Eq{"trade_id": tradeID}).
		OrderBy("submitted_at ASC", "attempt ASC").
		RunWith(s.db)

	return s.queryOrders(query)
}

// ListAllOrders returns every order, oldest first.
func (s *Store) ListAllOrders() ([]types.Order, error) {
	query := s.sq.
		Select(
			"id", "trade_id", "intent", "status", "limit_price",
			"quantity", "attempt", "broker_order_id", "submitted_at", "fill_price",
		).
		From("orders").
		OrderBy("submitted_at ASC", "attempt ASC").
		RunWith(s.db)

	return s.queryOrders(query)
}

// ListAllFills returns every fill, oldest first.
func (s *Store) ListAllFills() ([]types.Fill, error) {
	query := s.sq.
		Select("id", "order_id", "price", "quantity", "filled_at").
		From("fills").
		OrderBy("filled_at ASC").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to query fills", err)
	}
	defer rows.Close()

	var fills []types.Fill

	for rows.Next() {
		var fill types.Fill
		if err := rows.Scan(&fill.ID, &fill.OrderID, &fill.Price, &fill.Quantity, &fill.FilledAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to scan fill", err)
		}

		fills = append(fills, fill)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "error iterating fills", err)
	}

	return fills, nil
}

// OpenTrade records an entry fill: the filled order, its fill, the trade's
// transition to OPEN with the realized credit, and the day's trade count, all
// in one transaction.
func (s *Store) OpenTrade(tradeID string, order types.Order, fill types.Fill, day string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to begin transaction", err)
	}

	if err := s.transitionTx(tx, tradeID, types.TradeStateOpen); err != nil {
		tx.Rollback()

		return err
	}

	if err := s.finalizeOrderTx(tx, order, fill); err != nil {
		tx.Rollback()

		return err
	}

	update := s.sq.
		Update("trades").
		Set("state", types.TradeStateOpen).
		Set("credit", fill.Price).
		Set("quantity", fill.Quantity).
		Set("opened_at", fill.FilledAt).
		Where(squirrel.Eq{"id": tradeID}).
		RunWith(tx)

	if _, err := update.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to open trade", err)
	}

	if err := s.bumpDailyStatsTx(tx, day, 1, 0, 0, 0); err != nil {
		tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to commit trade open", err)
	}

	s.logger.Info("trade opened",
		zap.String("trade_id", tradeID),
		zap.Float64("credit", fill.Price),
		zap.Int("quantity", fill.Quantity),
	)

	return nil
}

// AbandonTrade marks a PENDING_ENTRY trade as abandoned after the entry
// protocol gave up without a fill.
func (s *Store) AbandonTrade(tradeID string, reason types.CloseReason, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to begin transaction", err)
	}

	if err := s.transitionTx(tx, tradeID, types.TradeStateAbandoned); err != nil {
		tx.Rollback()

		return err
	}

	update := s.sq.
		Update("trades").
		Set("state", types.TradeStateAbandoned).
		Set("reason_close", reason).
		Set("closed_at", at).
		Where(squirrel.Eq{"id": tradeID}).
		RunWith(tx)

	if _, err := update.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to abandon trade", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to commit trade abandon", err)
	}

	return nil
}

// PromoteEntry transitions a PENDING_ENTRY trade straight to OPEN during
// reconciliation, when the broker holds the position but the opening fill was
// never persisted. The original entry credit was lost with the fill, so the
// caller supplies a stand-in.
func (s *Store) PromoteEntry(tradeID string, credit float64, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to begin transaction", err)
	}

	if err := s.transitionTx(tx, tradeID, types.TradeStateOpen); err != nil {
		tx.Rollback()

		return err
	}

	update := s.sq.
		Update("trades").
		Set("state", types.TradeStateOpen).
		Set("credit", credit).
		Set("opened_at", at).
		Where(squirrel.Eq{"id": tradeID}).
		RunWith(tx)

	if _, err := update.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to promote trade", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to commit trade promotion", err)
	}

	s.logger.Info("trade promoted to open",
		zap.String("trade_id", tradeID),
		zap.Float64("credit", credit),
	)

	return nil
}

// MarkPendingExit transitions an OPEN trade to PENDING_EXIT before the close
// order protocol starts.
func (s *Store) MarkPendingExit(tradeID string) error {
	return s.setState(tradeID, types.TradeStatePendingExit)
}

// RevertPendingExit returns an unfilled PENDING_EXIT trade to OPEN so the next
// management pass retries it.
func (s *Store) RevertPendingExit(tradeID string) error {
	return s.setState(tradeID, types.TradeStateOpen)
}

// CloseTrade records an exit fill: the filled order, its fill, the trade's
// transition to CLOSED with realized PnL, and the day's PnL and win/loss
// counters, all in one transaction.
func (s *Store) CloseTrade(tradeID string, order types.Order, fill types.Fill, reason types.CloseReason, pnl float64, day string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to begin transaction", err)
	}

	if err := s.transitionTx(tx, tradeID, types.TradeStateClosed); err != nil {
		tx.Rollback()

		return err
	}

	if err := s.finalizeOrderTx(tx, order, fill); err != nil {
		tx.Rollback()

		return err
	}

	update := s.sq.
		Update("trades").
		Set("state", types.TradeStateClosed).
		Set("debit_to_close", fill.Price).
		Set("pnl", pnl).
		Set("reason_close", reason).
		Set("closed_at", fill.FilledAt).
		Where(squirrel.Eq{"id": tradeID}).
		RunWith(tx)

	if _, err := update.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to close trade", err)
	}

	wins, losses := 0, 0
	if pnl > 0 {
		wins = 1
	} else if pnl < 0 {
		losses = 1
	}

	if err := s.bumpDailyStatsTx(tx, day, 0, pnl, wins, losses); err != nil {
		tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to commit trade close", err)
	}

	s.logger.Info("trade closed",
		zap.String("trade_id", tradeID),
		zap.String("reason", string(reason)),
		zap.Float64("pnl", pnl),
	)

	return nil
}

// GetDailyStats returns the aggregates for the given day key, or a zero row
// when no activity has been recorded.
func (s *Store) GetDailyStats(day string) (types.DailyStats, error) {
	query := s.sq.
		Select("day", "trades_count", "realized_pnl", "wins_count", "losses_count").
		From("daily_stats").
		Where(squirrel.Eq{"day": day}).
		RunWith(s.db)

	var stats types.DailyStats

	err := query.QueryRow().Scan(&stats.Day, &stats.TradesCount, &stats.RealizedPnL, &stats.WinsCount, &stats.LossesCount)
	if err == sql.ErrNoRows {
		return types.DailyStats{
			Day:         day,
			TradesCount: 0,
			RealizedPnL: 0,
			WinsCount:   0,
			LossesCount: 0,
		}, nil
	}

	if err != nil {
		return types.DailyStats{}, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to query daily stats", err)
	}

	return stats, nil
}

// RecordSnapshot appends a market snapshot taken during a scan.
func (s *Store) RecordSnapshot(snap types.MarketSnapshot) error {
	insert := s.sq.
		Insert("market_snapshots").
		Columns("id", "symbol", "underlying_px", "taken_at_millis").
		Values(snap.ID, snap.Symbol, snap.UnderlyingPx, snap.TakenAtMillis).
		RunWith(s.db)

	if _, err := insert.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to insert market snapshot", err)
	}

	return nil
}

// setState performs a single validated state transition.
func (s *Store) setState(tradeID string, next types.TradeState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to begin transaction", err)
	}

	if err := s.transitionTx(tx, tradeID, next); err != nil {
		tx.Rollback()

		return err
	}

	update := s.sq.
		Update("trades").
		Set("state", next).
		Where(squirrel.Eq{"id": tradeID}).
		RunWith(tx)

	if _, err := update.Exec(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to update trade state", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to commit state update", err)
	}

	return nil
}

// transitionTx validates that the trade's current state admits next.
func (s *Store) transitionTx(tx *sql.Tx, tradeID string, next types.TradeState) error {
	query := s.sq.
		Select("state").
		From("trades").
		Where(squirrel.Eq{"id": tradeID}).
		RunWith(tx)

	var current types.TradeState

	err := query.QueryRow().Scan(&current)
	if err == sql.ErrNoRows {
		return errors.Newf(errors.ErrCodeTradeNotFound, "trade %s not found", tradeID)
	}

	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to query trade state", err)
	}

	if current.IsTerminal() {
		return errors.Newf(errors.ErrCodeTerminalStateMutation, "trade %s is %s and cannot change", tradeID, current)
	}

	if !current.CanTransition(next) {
		return errors.Newf(errors.ErrCodeInvalidTransition, "trade %s cannot go from %s to %s", tradeID, current, next)
	}

	return nil
}

// finalizeOrderTx upserts the filled order row and appends its fill.
func (s *Store) finalizeOrderTx(tx *sql.Tx, order types.Order, fill types.Fill) error {
	update := s.sq.
		Update("orders").
		Set("status", order.Status).
		Set("broker_order_id", order.BrokerOrderID).
		Set("fill_price", fill.Price).
		Where(squirrel.Eq{"id": order.ID}).
		RunWith(tx)

	res, err := update.Exec()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to finalize order", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", order.ID)
	}

	insert := s.sq.
		Insert("fills").
		Columns("id", "order_id", "price", "quantity", "filled_at").
		Values(fill.ID, fill.OrderID, fill.Price, fill.Quantity, fill.FilledAt).
		RunWith(tx)

	if _, err := insert.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to insert fill", err)
	}

	return nil
}

// bumpDailyStatsTx upserts the day row, adding the given deltas.
func (s *Store) bumpDailyStatsTx(tx *sql.Tx, day string, trades int, pnl float64, wins, losses int) error {
	_, err := tx.Exec(`
		INSERT INTO daily_stats (day, trades_count, realized_pnl, wins_count, losses_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (day) DO UPDATE SET
			trades_count = daily_stats.trades_count + excluded.trades_count,
			realized_pnl = daily_stats.realized_pnl + excluded.realized_pnl,
			wins_count = daily_stats.wins_count + excluded.wins_count,
			losses_count = daily_stats.losses_count + excluded.losses_count
	`, day, trades, pnl, wins, losses)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to update daily stats", err)
	}

	return nil
}

func (s *Store) hasActiveTradeTx(tx *sql.Tx, symbol string) (bool, error) {
	values := make([]string, 0, len(activeStates))
	for _, st := range activeStates {
		values = append(values, string(st))
	}

	query := s.sq.
		Select("COUNT(*)").
		From("trades").
		Where(squirrel.Eq{"symbol": symbol, "state": values}).
		RunWith(tx)

	var count int
	if err := query.QueryRow().Scan(&count); err != nil {
		return false, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to count active trades", err)
	}

	return count > 0, nil
}

func (s *Store) selectTrades() squirrel.SelectBuilder {
	return s.sq.
		Select(
			"id", "session_id", "symbol", "state", "expiration",
			"short_strike", "long_strike", "spread_width", "quantity",
			"credit", "debit_to_close", "pnl",
			"reason_open", "reason_close", "opened_at", "closed_at",
		).
		From("trades")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (types.Trade, error) {
	var trade types.Trade

	err := row.Scan(
		&trade.ID, &trade.SessionID, &trade.Symbol, &trade.State, &trade.Expiration,
		&trade.ShortStrike, &trade.LongStrike, &trade.SpreadWidth, &trade.Quantity,
		&trade.Credit, &trade.DebitToClose, &trade.PnL,
		&trade.ReasonOpen, &trade.ReasonClose, &trade.OpenedAt, &trade.ClosedAt,
	)

	return trade, err
}

func (s *Store) queryTrades(query squirrel.SelectBuilder) ([]types.Trade, error) {
	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var trades []types.Trade

	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to scan trade", err)
		}

		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "error iterating trades", err)
	}

	return trades, nil
}

func (s *Store) queryOrders(query squirrel.SelectBuilder) ([]types.Order, error) {
	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to query orders", err)
	}
	defer rows.Close()

	var orders []types.Order

	for rows.Next() {
		var order types.Order

		err := rows.Scan(
			&order.ID, &order.TradeID, &order.Intent, &order.Status, &order.LimitPrice,
			&order.Quantity, &order.Attempt, &order.BrokerOrderID, &order.SubmittedAt, &order.FillPrice,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to scan order", err)
		}

		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "error iterating orders", err)
	}

	return orders, nil
}
