// Package session runs the outer trading loop: entry-window scanning, risk
// gated entries, periodic position management, and startup reconciliation
// against the broker, on a single logical control thread.
package session

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-options/internal/broker"
	"github.com/rxtech-lab/argo-options/internal/config"
	"github.com/rxtech-lab/argo-options/internal/engine/entry"
	"github.com/rxtech-lab/argo-options/internal/engine/manager"
	"github.com/rxtech-lab/argo-options/internal/engine/risk"
	"github.com/rxtech-lab/argo-options/internal/engine/scanner"
	"github.com/rxtech-lab/argo-options/internal/exchange"
	"github.com/rxtech-lab/argo-options/internal/logger"
	"github.com/rxtech-lab/argo-options/internal/market"
	"github.com/rxtech-lab/argo-options/internal/store"
	"github.com/rxtech-lab/argo-options/internal/types"
	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// Session owns one orchestrator run. Scanning, risk evaluation, order
// submission, and management are strictly sequential within a tick; the risk
// governor's counters stay correct by serialization, not locking.
type Session struct {
	cfg      config.Config
	store    *store.Store
	provider market.Provider
	gateway  broker.Gateway
	clock    exchange.Clock
	logger   *logger.Logger

	mode     types.SessionMode
	window   exchange.Window
	governor *risk.Governor
	scanner  *scanner.Scanner
	executor *entry.Executor
	manager  *manager.Manager

	record types.SessionRecord
}

// NewSession wires the engine components for the given mode.
func NewSession(cfg config.Config, st *store.Store, provider market.Provider, gateway broker.Gateway, clock exchange.Clock, log *logger.Logger, mode types.SessionMode) (*Session, error) {
	window, err := exchange.NewWindow(cfg.Execution.EntryWindowStart, cfg.Execution.EntryWindowEnd)
	if err != nil {
		return nil, err
	}

	protocol := entry.NewProtocol(gateway, st, clock, log)

	return &Session{
		cfg:      cfg,
		store:    st,
		provider: provider,
		gateway:  gateway,
		clock:    clock,
		logger:   log,
		mode:     mode,
		window:   window,
		governor: risk.NewGovernor(cfg.Safety, window),
		scanner:  scanner.NewScanner(provider, cfg.Strategy, clock, log),
		executor: entry.NewExecutor(protocol, st, clock, log, cfg.Safety, cfg.Execution),
		manager:  manager.NewManager(st, provider, protocol, clock, log, cfg.Exits, cfg.Execution),
	}, nil
}

// Run drives the tick loop for at most the given duration. It returns nil on
// normal completion or external stop; an invariant violation aborts the
// session and is returned. Open trades are never force-closed at session end.
func (s *Session) Run(ctx context.Context, duration time.Duration) error {
	if err := s.start(); err != nil {
		return err
	}

	if err := s.Reconcile(ctx); err != nil {
		s.logger.Warn("startup reconciliation incomplete", zap.Error(err))
	}

	retry := &backoff.Backoff{
		Min:    time.Duration(s.cfg.Execution.TickIntervalSeconds) * time.Second,
		Max:    5 * time.Minute,
		Factor: 2,
		Jitter: true,
	}

	end := s.clock.Now().Add(duration)
	lastManage := time.Time{}

	for {
		// The stop signal is honored between ticks only; an in-flight
		// submission always reaches a terminal order status first.
		if ctx.Err() != nil {
			return s.finish(types.SessionStatusStopped)
		}

		now := s.clock.Now()
		if !now.Before(end) {
			return s.finish(types.SessionStatusCompleted)
		}

		manage := lastManage.IsZero() || now.Sub(lastManage) >= time.Duration(s.cfg.Execution.ManageIntervalSeconds)*time.Second

		err := s.Tick(ctx, manage)

		switch {
		case err == nil:
			if manage {
				lastManage = now
			}

			retry.Reset()
			s.clock.Sleep(s.tickSleep(end))

		case errors.IsInvariantViolation(errors.GetCode(err)):
			s.logger.Error("invariant violation, aborting session", zap.Error(err))

			if finishErr := s.finish(types.SessionStatusAborted); finishErr != nil {
				s.logger.Error("failed to finalize aborted session", zap.Error(finishErr))
			}

			return err

		default:
			// Connectivity and other transient failures never kill the loop.
			wait := retry.Duration()
			s.logger.Warn("tick failed, backing off",
				zap.Error(err),
				zap.Duration("backoff", wait),
			)
			s.clock.Sleep(wait)
		}
	}
}

// Tick runs one pass: entries while inside the window (run mode only), then
// management when due.
func (s *Session) Tick(ctx context.Context, manage bool) error {
	if s.mode == types.SessionModeRun && s.window.Contains(s.clock.Now()) {
		if err := s.tryEntries(ctx); err != nil {
			return err
		}
	}

	if manage {
		if err := s.manager.ManageAll(ctx); err != nil {
			return err
		}
	}

	return nil
}

// tryEntries scans each configured underlying and executes the first approved
// candidate per symbol. Denials are routine log lines, never errors.
func (s *Session) tryEntries(ctx context.Context) error {
	for _, symbol := range s.cfg.Strategy.Underlyings {
		candidates, err := s.scanner.TopCandidates(ctx, symbol)
		if err != nil {
			if errors.HasCode(err, errors.ErrCodeUnknownSymbol) {
				s.logger.Warn("skipping invalid symbol", zap.String("symbol", symbol))

				continue
			}

			return err
		}

		if len(candidates) == 0 {
			continue
		}

		if err := s.tryCandidates(ctx, symbol, candidates); err != nil {
			return err
		}
	}

	return nil
}

// tryCandidates authorizes the ranked candidates in order until one is
// executed. A position-too-small denial falls through to the next candidate
// (a narrower credit may still size); every other denial applies to the whole
// symbol and ends the pass.
func (s *Session) tryCandidates(ctx context.Context, symbol string, candidates []types.Candidate) error {
	// Approval is never cached: the snapshot is rebuilt from the store for
	// every symbol pass.
	stats, err := s.store.GetDailyStats(exchange.DayKey(s.clock.Now()))
	if err != nil {
		return err
	}

	hasActive, err := s.store.HasActiveTradeForSymbol(symbol)
	if err != nil {
		return err
	}

	snapshot := risk.Snapshot{
		Now:                  s.clock.Now(),
		Stats:                stats,
		SymbolHasActiveTrade: hasActive,
	}

	for _, candidate := range candidates {
		decision := s.governor.Authorize(candidate, snapshot)

		if !decision.Approved {
			s.logger.Info("entry denied",
				zap.String("symbol", symbol),
				zap.Float64("short_strike", candidate.ShortStrike),
				zap.String("reason", decision.Reason),
			)

			if decision.Reason == risk.DenyPositionTooSmall {
				continue
			}

			return nil
		}

		result, err := s.executor.Execute(ctx, candidate, decision, s.record.ID)
		if err != nil {
			return err
		}

		if result.Opened {
			s.logger.Info("position opened",
				zap.String("symbol", symbol),
				zap.String("trade_id", result.TradeID),
				zap.Int("quantity", decision.Quantity),
			)
		}

		// One entry attempt per symbol per tick, filled or not.
		return nil
	}

	return nil
}

// Reconcile diffs persisted open trades against the broker's position list.
// The broker is authoritative after a crash: untracked broker positions are
// adopted into the book, and locally-open trades the broker no longer holds
// are flagged for the operator.
func (s *Session) Reconcile(ctx context.Context) error {
	positions, err := s.gateway.ListOpenPositions(ctx)
	if err != nil {
		return err
	}

	trades, err := s.store.ListTradesByState(types.TradeStatePendingEntry, types.TradeStateOpen, types.TradeStatePendingExit)
	if err != nil {
		return err
	}

	tracked := make(map[string]types.Trade, len(trades))
	for _, trade := range trades {
		tracked[positionKeyFor(trade.Symbol, trade.Expiration, trade.ShortStrike, trade.LongStrike)] = trade
	}

	seen := make(map[string]bool, len(positions))

	for _, pos := range positions {
		key := positionKeyFor(pos.Symbol, pos.Expiration, pos.ShortStrike, pos.LongStrike)
		seen[key] = true

		trade, ok := tracked[key]
		if !ok {
			s.logger.Warn("untracked broker position, adopting",
				zap.String("symbol", pos.Symbol),
				zap.Float64("short_strike", pos.ShortStrike),
				zap.Float64("long_strike", pos.LongStrike),
			)

			if err := s.adoptPosition(ctx, pos); err != nil {
				return err
			}

			continue
		}

		// A pending entry whose position the broker holds means the opening
		// fill was confirmed but never persisted; promote it to OPEN.
		if trade.State == types.TradeStatePendingEntry {
			s.logger.Warn("broker holds position for pending entry, promoting",
				zap.String("trade_id", trade.ID),
				zap.String("symbol", trade.Symbol),
			)

			credit := s.currentMidCredit(ctx, trade.Symbol, trade.Expiration, trade.ShortStrike, trade.LongStrike)
			if err := s.store.PromoteEntry(trade.ID, credit, s.clock.Now()); err != nil {
				return err
			}
		}
	}

	for key, trade := range tracked {
		if seen[key] {
			continue
		}

		// A pending entry the broker does not hold never filled; abandon it so
		// the symbol frees up.
		if trade.State == types.TradeStatePendingEntry {
			s.logger.Warn("pending entry has no broker position, abandoning",
				zap.String("trade_id", trade.ID),
				zap.String("symbol", trade.Symbol),
			)

			if err := s.store.AbandonTrade(trade.ID, types.CloseReasonEntryTimeout, s.clock.Now()); err != nil {
				return err
			}

			continue
		}

		s.logger.Warn("open trade has no broker position, leaving for operator review",
			zap.String("trade_id", trade.ID),
			zap.String("symbol", trade.Symbol),
		)
	}

	return nil
}

// currentMidCredit returns the spread's mid-quote debit as a stand-in entry
// credit, clamped below at one cent. Exit thresholds then behave as if the
// position were opened here and now. Returns zero when either leg is unquoted.
func (s *Session) currentMidCredit(ctx context.Context, symbol string, expiration time.Time, shortStrike, longStrike float64) float64 {
	shortQuote, shortErr := s.provider.GetOptionQuote(ctx, symbol, expiration, shortStrike)
	longQuote, longErr := s.provider.GetOptionQuote(ctx, symbol, expiration, longStrike)

	if shortErr != nil || longErr != nil {
		return 0
	}

	mid := (shortQuote.Bid+shortQuote.Ask)/2 - (longQuote.Bid+longQuote.Ask)/2

	return math.Max(math.Round(mid*100)/100, 0.01)
}

// adoptPosition books an untracked broker position as an OPEN trade. The entry
// credit was never observed, so the current mid debit stands in for it.
func (s *Session) adoptPosition(ctx context.Context, pos broker.Position) error {
	credit := s.currentMidCredit(ctx, pos.Symbol, pos.Expiration, pos.ShortStrike, pos.LongStrike)

	trade := types.Trade{
		ID:          uuid.New().String(),
		SessionID:   s.record.ID,
		Symbol:      pos.Symbol,
		State:       types.TradeStateOpen,
		Expiration:  pos.Expiration,
		ShortStrike: pos.ShortStrike,
		LongStrike:  pos.LongStrike,
		SpreadWidth: pos.ShortStrike - pos.LongStrike,
		Quantity:    pos.Quantity,
		Credit:      credit,
		ReasonOpen:  "reconciled",
		OpenedAt:    s.clock.Now(),
	}

	return s.store.AdoptTrade(trade)
}

// start creates the session record.
func (s *Session) start() error {
	snapshot, err := s.cfg.Snapshot()
	if err != nil {
		return err
	}

	s.record = types.SessionRecord{
		ID:             uuid.New().String(),
		Mode:           s.mode,
		Status:         types.SessionStatusRunning,
		StartedAt:      s.clock.Now(),
		ConfigSnapshot: snapshot,
	}

	if err := s.store.CreateSession(s.record); err != nil {
		return errors.Wrap(errors.ErrCodeSessionInitFailed, "failed to create session record", err)
	}

	s.logger.Info("session started",
		zap.String("session_id", s.record.ID),
		zap.String("mode", string(s.mode)),
		zap.Bool("trading_enabled", s.cfg.Safety.TradingEnabled),
	)

	return nil
}

// finish records the terminal session status.
func (s *Session) finish(status types.SessionStatus) error {
	s.logger.Info("session finished",
		zap.String("session_id", s.record.ID),
		zap.String("status", string(status)),
	)

	return s.store.FinishSession(s.record.ID, status, s.clock.Now())
}

// tickSleep bounds the tick interval by the remaining session time.
func (s *Session) tickSleep(end time.Time) time.Duration {
	interval := time.Duration(s.cfg.Execution.TickIntervalSeconds) * time.Second

	remaining := end.Sub(s.clock.Now())
	if remaining < interval {
		return remaining
	}

	return interval
}

// ID returns the session record ID; empty before Run starts the session.
func (s *Session) ID() string {
	return s.record.ID
}

func positionKeyFor(symbol string, expiration time.Time, shortStrike, longStrike float64) string {
	return symbol + "/" + expiration.Format("2006-01-02") + "/" +
		strconv.FormatFloat(shortStrike, 'f', 2, 64) + "/" +
		strconv.FormatFloat(longStrike, 'f', 2, 64)
}
