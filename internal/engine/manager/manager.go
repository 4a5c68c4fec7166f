// Package manager supervises open trades: each management tick it prices the
// spread, evaluates exits in priority order, and drives closing orders through
// the bounded submission protocol.
package manager

import (
	"context"
	"math"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-options/internal/config"
	"github.com/rxtech-lab/argo-options/internal/engine/entry"
	"github.com/rxtech-lab/argo-options/internal/exchange"
	"github.com/rxtech-lab/argo-options/internal/logger"
	"github.com/rxtech-lab/argo-options/internal/market"
	"github.com/rxtech-lab/argo-options/internal/store"
	"github.com/rxtech-lab/argo-options/internal/types"
	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// Action is what one management pass did with one trade.
type Action string

const (
	// ActionHold means no exit condition fired.
	ActionHold Action = "hold"
	// ActionSkippedDataGap means the spread could not be priced this tick.
	ActionSkippedDataGap Action = "skipped-data-gap"
	// ActionClosed means an exit filled and the trade is now CLOSED.
	ActionClosed Action = "closed"
	// ActionExitUnfilled means the close order did not fill; the trade went
	// back to OPEN and will be retried next tick.
	ActionExitUnfilled Action = "exit-unfilled"
	// ActionNone means the trade was not in a manageable state.
	ActionNone Action = "none"
)

// Manager evaluates and executes exits for open trades.
type Manager struct {
	store     *store.Store
	provider  market.Provider
	protocol  *entry.Protocol
	clock     exchange.Clock
	logger    *logger.Logger
	exits     config.ExitConfig
	execution config.ExecutionConfig
}

// NewManager creates a Manager.
func NewManager(store *store.Store, provider market.Provider, protocol *entry.Protocol, clock exchange.Clock, logger *logger.Logger, exits config.ExitConfig, execution config.ExecutionConfig) *Manager {
	return &Manager{
		store:     store,
		provider:  provider,
		protocol:  protocol,
		clock:     clock,
		logger:    logger,
		exits:     exits,
		execution: execution,
	}
}

// EvaluateExit returns the close reason for a priced spread, or none when the
// position should be held. Exactly one reason fires; time dominates stop-loss
// dominates take-profit, because expiration risk is non-negotiable and losses
// are cut before profits are banked.
func EvaluateExit(credit, debitToClose float64, dte int, exits config.ExitConfig) optional.Option[types.CloseReason] {
	if dte <= exits.TimeExitDTE {
		return optional.Some(types.CloseReasonTime)
	}

	if debitToClose >= credit*exits.SLMultiple {
		return optional.Some(types.CloseReasonStopLoss)
	}

	if debitToClose <= credit*exits.TPCapturePct {
		return optional.Some(types.CloseReasonTakeProfit)
	}

	return optional.None[types.CloseReason]()
}

// ManageAll runs one management pass over every open trade. Trades stuck in
// PENDING_EXIT from a previous crash are first returned to OPEN. Connectivity
// errors abort the pass; per-trade data gaps do not.
func (m *Manager) ManageAll(ctx context.Context) error {
	stuck, err := m.store.ListTradesByState(types.TradeStatePendingExit)
	if err != nil {
		return err
	}

	for _, trade := range stuck {
		m.logger.Warn("recovering trade stuck in pending exit", zap.String("trade_id", trade.ID))

		if err := m.store.RevertPendingExit(trade.ID); err != nil {
			return err
		}
	}

	trades, err := m.store.ListTradesByState(types.TradeStateOpen)
	if err != nil {
		return err
	}

	for _, trade := range trades {
		action, err := m.ManageTrade(ctx, trade)
		if err != nil {
			return err
		}

		m.logger.Debug("managed trade",
			zap.String("trade_id", trade.ID),
			zap.String("symbol", trade.Symbol),
			zap.String("action", string(action)),
		)
	}

	return nil
}

// ManageTrade evaluates one trade and executes an exit if a condition fires.
// Managing a terminal trade is a no-op.
func (m *Manager) ManageTrade(ctx context.Context, trade types.Trade) (Action, error) {
	if trade.State != types.TradeStateOpen {
		return ActionNone, nil
	}

	pricing, ok, err := m.priceSpread(ctx, trade)
	if err != nil {
		return ActionSkippedDataGap, err
	}

	if !ok {
		m.logger.Info("data gap, skipping trade this tick",
			zap.String("trade_id", trade.ID),
			zap.String("symbol", trade.Symbol),
		)

		return ActionSkippedDataGap, nil
	}

	dte := exchange.DaysToExpiration(trade.Expiration, m.clock.Now())

	reason := EvaluateExit(trade.Credit, pricing.naturalDebit, dte, m.exits)
	if reason.IsNone() {
		return ActionHold, nil
	}

	return m.closeTrade(ctx, trade, pricing, reason.Unwrap())
}

// spreadPricing is the current cost to close a spread.
type spreadPricing struct {
	// naturalDebit is short ask minus long bid, the immediately payable price.
	naturalDebit float64
	// midDebit is the mid-quote debit, the reference for close limit orders.
	midDebit float64
}

// priceSpread quotes both legs. ok is false on a data gap; err is set only for
// connectivity failures that should abort the whole pass.
func (m *Manager) priceSpread(ctx context.Context, trade types.Trade) (spreadPricing, bool, error) {
	var pricing spreadPricing

	shortQuote, err := m.provider.GetOptionQuote(ctx, trade.Symbol, trade.Expiration, trade.ShortStrike)
	if err != nil {
		if errors.IsConnectivity(errors.GetCode(err)) {
			return pricing, false, err
		}

		return pricing, false, nil
	}

	longQuote, err := m.provider.GetOptionQuote(ctx, trade.Symbol, trade.Expiration, trade.LongStrike)
	if err != nil {
		if errors.IsConnectivity(errors.GetCode(err)) {
			return pricing, false, err
		}

		return pricing, false, nil
	}

	if shortQuote.Bid <= 0 || shortQuote.Ask <= 0 || longQuote.Bid <= 0 || longQuote.Ask <= 0 {
		return pricing, false, nil
	}

	pricing.naturalDebit = shortQuote.Ask - longQuote.Bid
	pricing.midDebit = (shortQuote.Bid+shortQuote.Ask)/2 - (longQuote.Bid+longQuote.Ask)/2

	return pricing, true, nil
}

// closeTrade drives a buy-to-close through the submission protocol.
func (m *Manager) closeTrade(ctx context.Context, trade types.Trade, pricing spreadPricing, reason types.CloseReason) (Action, error) {
	if err := m.store.MarkPendingExit(trade.ID); err != nil {
		return ActionNone, err
	}

	startPrice := math.Max(roundCents(pricing.midDebit), 0.01)
	combo := entry.BuildCloseCombo(trade, startPrice)

	m.logger.Info("exit condition fired",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("debit_to_close", pricing.naturalDebit),
		zap.Float64("limit_price", startPrice),
	)

	outcome, err := m.protocol.Run(ctx, combo, entry.ProtocolParams{
		TradeID:        trade.ID,
		Intent:         types.OrderIntentClose,
		StartPrice:     startPrice,
		Step:           m.execution.EntrySlippageStep,
		MaxSlippage:    m.execution.EntryMaxSlippage,
		MaxAttempts:    m.execution.EntryMaxAttempts,
		AttemptTimeout: time.Duration(m.execution.EntryRetrySeconds) * time.Second,
		PollInterval:   time.Duration(m.execution.OrderPollSeconds) * time.Second,
		Quantity:       trade.Quantity,
	})
	if err != nil {
		if revertErr := m.store.RevertPendingExit(trade.ID); revertErr != nil {
			m.logger.Error("failed to revert pending exit",
				zap.String("trade_id", trade.ID),
				zap.Error(revertErr),
			)
		}

		return ActionNone, err
	}

	if !outcome.Filled {
		// Unfilled exits are retried next tick, never abandoned.
		if err := m.store.RevertPendingExit(trade.ID); err != nil {
			return ActionNone, err
		}

		return ActionExitUnfilled, nil
	}

	pnl := realizedPnL(trade.Credit, outcome.Fill.Price, trade.Quantity)
	day := exchange.DayKey(m.clock.Now())

	if err := m.store.CloseTrade(trade.ID, outcome.Order, outcome.Fill, reason, pnl, day); err != nil {
		return ActionNone, err
	}

	return ActionClosed, nil
}

// realizedPnL returns (credit - debit) * quantity * 100 in dollars.
func realizedPnL(credit, debit float64, quantity int) float64 {
	result := decimal.NewFromFloat(credit).
		Sub(decimal.NewFromFloat(debit)).
		Mul(decimal.NewFromInt(int64(quantity))).
		Mul(decimal.NewFromInt(100))

	pnl, _ := result.Float64()

	return pnl
}

func roundCents(price float64) float64 {
	return math.Round(price*100) / 100
}
