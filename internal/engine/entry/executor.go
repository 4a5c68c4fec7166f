package entry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-options/internal/config"
	"github.com/rxtech-lab/argo-options/internal/engine/risk"
	"github.com/rxtech-lab/argo-options/internal/exchange"
	"github.com/rxtech-lab/argo-options/internal/logger"
	"github.com/rxtech-lab/argo-options/internal/store"
	"github.com/rxtech-lab/argo-options/internal/types"
	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// Result reports what happened to one entry attempt.
type Result struct {
	TradeID string
	// Opened is true when the entry filled and the trade is OPEN. When false
	// the trade ended ABANDONED and Outcome carries the terminal order status.
	Opened  bool
	Outcome Outcome
}

// Executor converts an approved, sized candidate into a trade. It submits the
// opening combo through the bounded retry protocol and persists the result
// atomically.
type Executor struct {
	protocol  *Protocol
	store     *store.Store
	clock     exchange.Clock
	logger    *logger.Logger
	safety    config.SafetyConfig
	execution config.ExecutionConfig
}

// NewExecutor creates an Executor.
func NewExecutor(protocol *Protocol, store *store.Store, clock exchange.Clock, logger *logger.Logger, safety config.SafetyConfig, execution config.ExecutionConfig) *Executor {
	return &Executor{
		protocol:  protocol,
		store:     store,
		clock:     clock,
		logger:    logger,
		safety:    safety,
		execution: execution,
	}
}

// Execute opens a position for the candidate at the size the governor
// approved. The decision must come from the same tick; approvals are never
// cached. Submitting while trading is disabled is an invariant violation and
// aborts the session.
func (e *Executor) Execute(ctx context.Context, candidate types.Candidate, decision risk.Decision, sessionID string) (Result, error) {
	var result Result

	if !e.safety.TradingEnabled {
		return result, errors.New(errors.ErrCodeTradingDisabledOrder, "entry attempted while trading is disabled")
	}

	if !decision.Approved || decision.Quantity < 1 {
		return result, errors.Newf(errors.ErrCodeInvalidParameter, "cannot execute unapproved decision (reason %q)", decision.Reason)
	}

	now := e.clock.Now()
	trade := types.Trade{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Symbol:      candidate.Symbol,
		State:       types.TradeStatePendingEntry,
		Expiration:  candidate.Expiration,
		ShortStrike: candidate.ShortStrike,
		LongStrike:  candidate.LongStrike,
		SpreadWidth: candidate.SpreadWidth,
		Quantity:    decision.Quantity,
		ReasonOpen:  string(candidate.SelectionMethod),
		OpenedAt:    now,
	}

	// The store re-checks symbol uniqueness; tripping it means the governor's
	// duplicate check was bypassed.
	if err := e.store.CreateTrade(trade); err != nil {
		return result, err
	}

	result.TradeID = trade.ID

	startPrice := roundCents(candidate.MidCredit())
	if startPrice <= 0 {
		// A crossed book can put the mid at or below zero; fall back to the
		// natural credit.
		startPrice = roundCents(candidate.Credit)
	}

	combo := BuildOpenCombo(candidate, startPrice, decision.Quantity)

	outcome, err := e.protocol.Run(ctx, combo, ProtocolParams{
		TradeID:        trade.ID,
		Intent:         types.OrderIntentOpen,
		StartPrice:     startPrice,
		Step:           e.execution.EntrySlippageStep,
		MaxSlippage:    e.execution.EntryMaxSlippage,
		MaxAttempts:    e.execution.EntryMaxAttempts,
		AttemptTimeout: time.Duration(e.execution.EntryRetrySeconds) * time.Second,
		PollInterval:   time.Duration(e.execution.OrderPollSeconds) * time.Second,
		Quantity:       decision.Quantity,
	})
	result.Outcome = outcome

	if err != nil {
		// The protocol failed mid-flight (connectivity, store). Abandon the
		// pending trade so the symbol is not locked forever; reconciliation
		// picks up any fill we missed.
		if abandonErr := e.store.AbandonTrade(trade.ID, types.CloseReasonEntryTimeout, e.clock.Now()); abandonErr != nil {
			e.logger.Error("failed to abandon trade after protocol error",
				zap.String("trade_id", trade.ID),
				zap.Error(abandonErr),
			)
		}

		return result, err
	}

	if !outcome.Filled {
		reason := types.CloseReasonEntryTimeout
		if outcome.FinalStatus == types.OrderStatusRejected {
			reason = types.CloseReasonEntryRejected
		}

		if err := e.store.AbandonTrade(trade.ID, reason, e.clock.Now()); err != nil {
			return result, err
		}

		e.logger.Info("entry abandoned",
			zap.String("trade_id", trade.ID),
			zap.String("symbol", candidate.Symbol),
			zap.Int("attempts", outcome.Attempts),
			zap.String("final_status", string(outcome.FinalStatus)),
		)

		return result, nil
	}

	day := exchange.DayKey(e.clock.Now())
	if err := e.store.OpenTrade(trade.ID, outcome.Order, outcome.Fill, day); err != nil {
		return result, err
	}

	result.Opened = true

	return result, nil
}
