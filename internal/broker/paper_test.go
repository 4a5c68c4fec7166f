package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-options/internal/logger"
	"github.com/rxtech-lab/argo-options/internal/market"
	"github.com/rxtech-lab/argo-options/internal/types"
	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// stubProvider serves option quotes from a mutable table keyed by strike.
type stubProvider struct {
	mu     sync.Mutex
	quotes map[float64]market.OptionQuote
}

var _ market.Provider = (*stubProvider)(nil)

func (p *stubProvider) setQuote(strike, bid, ask float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.quotes == nil {
		p.quotes = make(map[float64]market.OptionQuote)
	}

	p.quotes[strike] = market.OptionQuote{
		Symbol: "SPY",
		Strike: strike,
		Right:  "P",
		Bid:    bid,
		Ask:    ask,
		Delta:  optional.None[float64](),
	}
}

func (p *stubProvider) GetQuote(_ context.Context, symbol string) (market.Quote, error) {
	return market.Quote{Symbol: symbol, Last: 100}, nil
}

func (p *stubProvider) GetOptionChain(_ context.Context, symbol string) (market.OptionChain, error) {
	return market.OptionChain{Symbol: symbol}, nil
}

func (p *stubProvider) GetOptionQuote(_ context.Context, _ string, _ time.Time, strike float64) (market.OptionQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	quote, ok := p.quotes[strike]
	if !ok {
		return market.OptionQuote{}, errors.Newf(errors.ErrCodeNoMarketData, "no quote for strike %.2f", strike)
	}

	return quote, nil
}

type PaperGatewayTestSuite struct {
	suite.Suite
	provider *stubProvider
	gateway  *PaperGateway
}

func TestPaperGatewayTestSuite(t *testing.T) {
	suite.Run(t, new(PaperGatewayTestSuite))
}

func (s *PaperGatewayTestSuite) SetupTest() {
	log, err := logger.NewLogger()
	s.Require().NoError(err)

	s.provider = &stubProvider{}
	s.provider.setQuote(95, 0.60, 0.64)
	s.provider.setQuote(94, 0.40, 0.44)
	s.gateway = NewPaperGateway(s.provider, log)
}

func (s *PaperGatewayTestSuite) creditCombo(limit float64) types.ComboOrder {
	expiration := time.Date(2024, 6, 21, 16, 0, 0, 0, time.UTC)

	return types.ComboOrder{
		Symbol: "SPY",
		Legs: []types.ComboLeg{
			{Symbol: "SPY", Expiration: expiration, Strike: 95, Right: "P", Action: types.LegActionSell, Ratio: 1},
			{Symbol: "SPY", Expiration: expiration, Strike: 94, Right: "P", Action: types.LegActionBuy, Ratio: 1},
		},
		LimitPrice: limit,
		Quantity:   1,
		Credit:     true,
	}
}

func (s *PaperGatewayTestSuite) closeCombo(limit float64) types.ComboOrder {
	combo := s.creditCombo(limit)
	combo.Legs[0].Action = types.LegActionBuy
	combo.Legs[1].Action = types.LegActionSell
	combo.Credit = false
	combo.LimitPrice = limit

	return combo
}

func (s *PaperGatewayTestSuite) TestCreditOrderFillsWhenMarketable() {
	// Natural credit is 0.60 - 0.44 = 0.16.
	id, err := s.gateway.SubmitCombo(context.Background(), s.creditCombo(0.15))
	s.Require().NoError(err)

	state, err := s.gateway.GetOrderState(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(types.OrderStatusFilled, state.Status)
	s.Equal(0.15, state.FillPrice)

	positions, err := s.gateway.ListOpenPositions(context.Background())
	s.Require().NoError(err)
	s.Require().Len(positions, 1)
	s.Equal(95.0, positions[0].ShortStrike)
	s.Equal(94.0, positions[0].LongStrike)
}

func (s *PaperGatewayTestSuite) TestCreditOrderRestsWhenLimitTooHigh() {
	id, err := s.gateway.SubmitCombo(context.Background(), s.creditCombo(0.25))
	s.Require().NoError(err)

	state, err := s.gateway.GetOrderState(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(types.OrderStatusSubmitted, state.Status)

	// Quotes improve; the resting order becomes marketable.
	s.provider.setQuote(95, 0.72, 0.76)

	state, err = s.gateway.GetOrderState(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(types.OrderStatusFilled, state.Status)
}

func (s *PaperGatewayTestSuite) TestCloseOrderFillsAndRemovesPosition() {
	openID, err := s.gateway.SubmitCombo(context.Background(), s.creditCombo(0.15))
	s.Require().NoError(err)

	_, err = s.gateway.GetOrderState(context.Background(), openID)
	s.Require().NoError(err)

	// Natural debit is 0.64 - 0.40 = 0.24; a 0.30 limit is marketable.
	closeID, err := s.gateway.SubmitCombo(context.Background(), s.closeCombo(0.30))
	s.Require().NoError(err)

	state, err := s.gateway.GetOrderState(context.Background(), closeID)
	s.Require().NoError(err)
	s.Equal(types.OrderStatusFilled, state.Status)

	positions, err := s.gateway.ListOpenPositions(context.Background())
	s.Require().NoError(err)
	s.Empty(positions)
}

func (s *PaperGatewayTestSuite) TestCancelWorkingOrder() {
	id, err := s.gateway.SubmitCombo(context.Background(), s.creditCombo(0.25))
	s.Require().NoError(err)

	s.Require().NoError(s.gateway.Cancel(context.Background(), id))

	state, err := s.gateway.GetOrderState(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(types.OrderStatusCancelled, state.Status)
}

func (s *PaperGatewayTestSuite) TestCancelFilledOrderFails() {
	id, err := s.gateway.SubmitCombo(context.Background(), s.creditCombo(0.15))
	s.Require().NoError(err)

	_, err = s.gateway.GetOrderState(context.Background(), id)
	s.Require().NoError(err)

	err = s.gateway.Cancel(context.Background(), id)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeCancelFailed))
}

func (s *PaperGatewayTestSuite) TestRejectNext() {
	s.gateway.RejectNext(1)

	id, err := s.gateway.SubmitCombo(context.Background(), s.creditCombo(0.15))
	s.Require().NoError(err)

	state, err := s.gateway.GetOrderState(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(types.OrderStatusRejected, state.Status)

	// Rejection applies once.
	id, err = s.gateway.SubmitCombo(context.Background(), s.creditCombo(0.15))
	s.Require().NoError(err)

	state, err = s.gateway.GetOrderState(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(types.OrderStatusFilled, state.Status)
}

func (s *PaperGatewayTestSuite) TestUnknownOrder() {
	_, err := s.gateway.GetOrderState(context.Background(), "missing")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeOrderNotFound))
}
