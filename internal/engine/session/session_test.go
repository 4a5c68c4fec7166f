package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-options/internal/broker"
	"github.com/rxtech-lab/argo-options/internal/config"
	"github.com/rxtech-lab/argo-options/internal/logger"
	"github.com/rxtech-lab/argo-options/internal/market"
	"github.com/rxtech-lab/argo-options/internal/store"
	"github.com/rxtech-lab/argo-options/internal/types"
	"github.com/rxtech-lab/argo-options/pkg/errors"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

// chainProvider serves one expiration of put quotes keyed by strike.
type chainProvider struct {
	spot       float64
	expiration time.Time
	quotes     map[float64]market.OptionQuote
}

var _ market.Provider = (*chainProvider)(nil)

func (p *chainProvider) setQuote(strike, bid, ask float64, delta float64) {
	p.quotes[strike] = market.OptionQuote{
		Symbol:     "SPY",
		Expiration: p.expiration,
		Strike:     strike,
		Right:      "P",
		Bid:        bid,
		Ask:        ask,
		Delta:      optional.Some(delta),
	}
}

func (p *chainProvider) GetQuote(_ context.Context, symbol string) (market.Quote, error) {
	return market.Quote{Symbol: symbol, Bid: p.spot - 0.01, Ask: p.spot + 0.01, Last: p.spot}, nil
}

func (p *chainProvider) GetOptionChain(_ context.Context, symbol string) (market.OptionChain, error) {
	strikes := make([]float64, 0, len(p.quotes))
	for strike := range p.quotes {
		strikes = append(strikes, strike)
	}

	return market.OptionChain{
		Symbol:      symbol,
		Expirations: []market.ChainExpiration{{Date: p.expiration, Strikes: strikes}},
	}, nil
}

func (p *chainProvider) GetOptionQuote(_ context.Context, _ string, _ time.Time, strike float64) (market.OptionQuote, error) {
	quote, ok := p.quotes[strike]
	if !ok {
		return market.OptionQuote{}, errors.Newf(errors.ErrCodeNoMarketData, "no quote for strike %.2f", strike)
	}

	return quote, nil
}

// fillGateway fills everything at the limit and reports a scripted position
// book for reconciliation.
type fillGateway struct {
	states      map[string]*broker.OrderState
	positions   []broker.Position
	submissions int
}

var _ broker.Gateway = (*fillGateway)(nil)

func newFillGateway() *fillGateway {
	return &fillGateway{states: map[string]*broker.OrderState{}}
}

func (g *fillGateway) SubmitCombo(_ context.Context, combo types.ComboOrder) (string, error) {
	g.submissions++
	id := uuid.New().String()
	g.states[id] = &broker.OrderState{
		BrokerOrderID:  id,
		Status:         types.OrderStatusFilled,
		FillPrice:      combo.LimitPrice,
		FilledQuantity: combo.Quantity,
	}

	return id, nil
}

func (g *fillGateway) GetOrderState(_ context.Context, brokerOrderID string) (broker.OrderState, error) {
	state, ok := g.states[brokerOrderID]
	if !ok {
		return broker.OrderState{}, errors.Newf(errors.ErrCodeOrderNotFound, "broker order %s not found", brokerOrderID)
	}

	return *state, nil
}

func (g *fillGateway) Cancel(_ context.Context, brokerOrderID string) error {
	state := g.states[brokerOrderID]
	if !state.Status.IsTerminal() {
		state.Status = types.OrderStatusCancelled
	}

	return nil
}

func (g *fillGateway) ListOpenPositions(_ context.Context) ([]broker.Position, error) {
	return g.positions, nil
}

type SessionTestSuite struct {
	suite.Suite
	store    *store.Store
	provider *chainProvider
	gateway  *fillGateway
	clock    *manualClock
	logger   *logger.Logger
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) SetupTest() {
	log, err := logger.NewLogger()
	s.Require().NoError(err)
	s.logger = log

	s.store, err = store.NewStore(":memory:", log)
	s.Require().NoError(err)

	s.clock = &manualClock{now: time.Date(2024, 6, 10, 10, 30, 0, 0, time.UTC)}
	s.gateway = newFillGateway()
	s.provider = &chainProvider{
		spot:       100,
		expiration: time.Date(2024, 6, 21, 16, 0, 0, 0, time.UTC),
		quotes:     map[float64]market.OptionQuote{},
	}

	// One qualifying spread: short 95 (delta 0.22) over long 94.
	s.provider.setQuote(95, 0.60, 0.64, 0.22)
	s.provider.setQuote(94, 0.42, 0.46, 0.17)
}

func (s *SessionTestSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *SessionTestSuite) cfg(enabled bool) config.Config {
	cfg := config.Default()
	cfg.Timezone = "UTC"
	cfg.Safety.TradingEnabled = enabled
	cfg.Safety.AccountSize = 10000
	cfg.Strategy.Underlyings = []string{"SPY"}
	cfg.Store.Path = ":memory:"

	return cfg
}

func (s *SessionTestSuite) newSession(cfg config.Config, mode types.SessionMode) *Session {
	sess, err := NewSession(cfg, s.store, s.provider, s.gateway, s.clock, s.logger, mode)
	s.Require().NoError(err)

	return sess
}

func (s *SessionTestSuite) TestRunOpensTradeAndCompletes() {
	sess := s.newSession(s.cfg(true), types.SessionModeRun)

	err := sess.Run(context.Background(), time.Minute)
	s.Require().NoError(err)

	trades, err := s.store.ListAllTrades()
	s.Require().NoError(err)
	s.Require().Len(trades, 1)
	s.Equal(types.TradeStateOpen, trades[0].State)
	s.Equal("SPY", trades[0].Symbol)
	s.Equal(sess.ID(), trades[0].SessionID)

	rec, err := s.store.GetSession(sess.ID())
	s.Require().NoError(err)
	s.Require().True(rec.IsSome())
	s.Equal(types.SessionStatusCompleted, rec.Unwrap().Status)
	s.Contains(rec.Unwrap().ConfigSnapshot, "trading_enabled: true")
}

func (s *SessionTestSuite) TestOnlyOneTradePerSymbol() {
	sess := s.newSession(s.cfg(true), types.SessionModeRun)

	// Several ticks elapse; the open SPY trade blocks re-entry.
	err := sess.Run(context.Background(), 3*time.Minute)
	s.Require().NoError(err)

	trades, err := s.store.ListAllTrades()
	s.Require().NoError(err)
	s.Len(trades, 1)
}

func (s *SessionTestSuite) TestTradingDisabledOpensNothing() {
	sess := s.newSession(s.cfg(false), types.SessionModeRun)

	err := sess.Run(context.Background(), time.Minute)
	s.Require().NoError(err)

	trades, err := s.store.ListAllTrades()
	s.Require().NoError(err)
	s.Empty(trades)
	s.Equal(0, s.gateway.submissions)
}

func (s *SessionTestSuite) TestStopSignalFinalizesAsStopped() {
	sess := s.newSession(s.cfg(true), types.SessionModeRun)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sess.Run(ctx, time.Hour)
	s.Require().NoError(err)

	rec, err := s.store.GetSession(sess.ID())
	s.Require().NoError(err)
	s.Equal(types.SessionStatusStopped, rec.Unwrap().Status)
}

func (s *SessionTestSuite) TestManageModeClosesButNeverOpens() {
	// Seed an open trade rich enough to take profit.
	trade := types.Trade{
		ID:          uuid.New().String(),
		SessionID:   "session-0",
		Symbol:      "SPY",
		State:       types.TradeStateOpen,
		Expiration:  s.provider.expiration,
		ShortStrike: 95,
		LongStrike:  94,
		SpreadWidth: 1.0,
		Quantity:    1,
		Credit:      0.50,
		OpenedAt:    s.clock.now.Add(-24 * time.Hour),
	}
	s.Require().NoError(s.store.AdoptTrade(trade))

	// Cheap to close: natural debit 0.22 - 0.02 = 0.20 <= 0.25.
	s.provider.setQuote(95, 0.20, 0.22, 0.10)
	s.provider.setQuote(94, 0.02, 0.04, 0.05)

	sess := s.newSession(s.cfg(true), types.SessionModeManage)

	err := sess.Run(context.Background(), time.Minute)
	s.Require().NoError(err)

	got, err := s.store.GetTrade(trade.ID)
	s.Require().NoError(err)
	s.Equal(types.TradeStateClosed, got.Unwrap().State)
	s.Equal(types.CloseReasonTakeProfit, got.Unwrap().ReasonClose)

	// No entries in manage mode.
	trades, err := s.store.ListAllTrades()
	s.Require().NoError(err)
	s.Len(trades, 1)
}

func (s *SessionTestSuite) TestDuplicateSymbolDeniedInTick() {
	trade := types.Trade{
		ID:          uuid.New().String(),
		SessionID:   "session-0",
		Symbol:      "SPY",
		State:       types.TradeStateOpen,
		Expiration:  s.provider.expiration,
		ShortStrike: 95,
		LongStrike:  94,
		SpreadWidth: 1.0,
		Quantity:    1,
		Credit:      0.50,
		OpenedAt:    s.clock.now.Add(-time.Hour),
	}
	s.Require().NoError(s.store.AdoptTrade(trade))

	sess := s.newSession(s.cfg(true), types.SessionModeRun)

	// The governor denies duplicate-symbol; nothing reaches the broker.
	s.Require().NoError(sess.Tick(context.Background(), false))

	s.Equal(0, s.gateway.submissions)

	trades, err := s.store.ListAllTrades()
	s.Require().NoError(err)
	s.Len(trades, 1)
}

func (s *SessionTestSuite) TestFallsThroughWhenTopCandidateTooSmall() {
	// Best-credit spread 96/95 collects more than the width, so its defined
	// risk is non-positive and it cannot be sized; 95/94 still qualifies.
	s.provider.setQuote(96, 1.66, 1.70, 0.24)

	sess := s.newSession(s.cfg(true), types.SessionModeRun)

	err := sess.Run(context.Background(), time.Minute)
	s.Require().NoError(err)

	trades, err := s.store.ListAllTrades()
	s.Require().NoError(err)
	s.Require().Len(trades, 1)
	s.Equal(types.TradeStateOpen, trades[0].State)
	s.Equal(95.0, trades[0].ShortStrike)
	s.Equal(2, trades[0].Quantity)
}

func (s *SessionTestSuite) TestReconcilePromotesPendingEntryWithPosition() {
	trade := types.Trade{
		ID:          uuid.New().String(),
		SessionID:   "session-0",
		Symbol:      "SPY",
		State:       types.TradeStatePendingEntry,
		Expiration:  s.provider.expiration,
		ShortStrike: 95,
		LongStrike:  94,
		SpreadWidth: 1.0,
		Quantity:    1,
	}
	s.Require().NoError(s.store.CreateTrade(trade))

	s.gateway.positions = []broker.Position{
		{
			Symbol:      "SPY",
			Expiration:  s.provider.expiration,
			ShortStrike: 95,
			LongStrike:  94,
			Quantity:    1,
		},
	}

	sess := s.newSession(s.cfg(false), types.SessionModeManage)

	s.Require().NoError(sess.Reconcile(context.Background()))

	got, err := s.store.GetTrade(trade.ID)
	s.Require().NoError(err)
	s.Require().True(got.IsSome())
	s.Equal(types.TradeStateOpen, got.Unwrap().State)
	// Credit stands in from the current mid: (0.62 - 0.44) = 0.18.
	s.InDelta(0.18, got.Unwrap().Credit, 1e-9)

	// A second reconciliation finds the trade tracked and changes nothing.
	s.Require().NoError(sess.Reconcile(context.Background()))

	trades, err := s.store.ListAllTrades()
	s.Require().NoError(err)
	s.Len(trades, 1)
}

func (s *SessionTestSuite) TestReconcileAbandonsStalePendingEntry() {
	trade := types.Trade{
		ID:          uuid.New().String(),
		SessionID:   "session-0",
		Symbol:      "SPY",
		State:       types.TradeStatePendingEntry,
		Expiration:  s.provider.expiration,
		ShortStrike: 95,
		LongStrike:  94,
		SpreadWidth: 1.0,
		Quantity:    1,
	}
	s.Require().NoError(s.store.CreateTrade(trade))

	sess := s.newSession(s.cfg(false), types.SessionModeManage)

	s.Require().NoError(sess.Reconcile(context.Background()))

	got, err := s.store.GetTrade(trade.ID)
	s.Require().NoError(err)
	s.Equal(types.TradeStateAbandoned, got.Unwrap().State)
	s.Equal(types.CloseReasonEntryTimeout, got.Unwrap().ReasonClose)

	// The symbol frees up for fresh entries.
	has, err := s.store.HasActiveTradeForSymbol("SPY")
	s.Require().NoError(err)
	s.False(has)
}

func (s *SessionTestSuite) TestReconcileAdoptsUntrackedPosition() {
	s.gateway.positions = []broker.Position{
		{
			Symbol:      "SPY",
			Expiration:  s.provider.expiration,
			ShortStrike: 95,
			LongStrike:  94,
			Quantity:    1,
		},
	}

	sess := s.newSession(s.cfg(false), types.SessionModeManage)

	s.Require().NoError(sess.Reconcile(context.Background()))

	trades, err := s.store.ListAllTrades()
	s.Require().NoError(err)
	s.Require().Len(trades, 1)
	s.Equal(types.TradeStateOpen, trades[0].State)
	s.Equal("reconciled", trades[0].ReasonOpen)
	// Credit adopted from the current mid: (0.62 - 0.44) = 0.18.
	s.InDelta(0.18, trades[0].Credit, 1e-9)

	// Re-running reconciliation adopts nothing new.
	s.Require().NoError(sess.Reconcile(context.Background()))

	trades, err = s.store.ListAllTrades()
	s.Require().NoError(err)
	s.Len(trades, 1)
}
