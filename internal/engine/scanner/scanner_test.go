package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-options/internal/config"
	"github.com/rxtech-lab/argo-options/internal/logger"
	"github.com/rxtech-lab/argo-options/internal/market"
	"github.com/rxtech-lab/argo-options/internal/types"
	"github.com/rxtech-lab/argo-options/pkg/errors"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(_ time.Duration) {}

// fakeProvider serves a single-expiration put chain from fixed quote tables.
type fakeProvider struct {
	spot       float64
	expiration time.Time
	strikes    []float64
	quotes     map[float64]market.OptionQuote
	quoteErr   error
}

var _ market.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) GetQuote(_ context.Context, symbol string) (market.Quote, error) {
	if p.quoteErr != nil {
		return market.Quote{}, p.quoteErr
	}

	return market.Quote{Symbol: symbol, Bid: p.spot - 0.01, Ask: p.spot + 0.01, Last: p.spot}, nil
}

func (p *fakeProvider) GetOptionChain(_ context.Context, symbol string) (market.OptionChain, error) {
	return market.OptionChain{
		Symbol: symbol,
		Expirations: []market.ChainExpiration{
			{Date: p.expiration, Strikes: p.strikes},
		},
	}, nil
}

func (p *fakeProvider) GetOptionQuote(_ context.Context, _ string, _ time.Time, strike float64) (market.OptionQuote, error) {
	quote, ok := p.quotes[strike]
	if !ok {
		return market.OptionQuote{}, errors.Newf(errors.ErrCodeNoMarketData, "no quote for strike %.2f", strike)
	}

	return quote, nil
}

type ScannerTestSuite struct {
	suite.Suite
	provider *fakeProvider
	clock    *fakeClock
	logger   *logger.Logger
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}

func (s *ScannerTestSuite) SetupTest() {
	log, err := logger.NewLogger()
	s.Require().NoError(err)
	s.logger = log

	s.clock = &fakeClock{now: time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)}
	s.provider = &fakeProvider{
		spot:       100,
		expiration: time.Date(2024, 6, 21, 16, 0, 0, 0, time.UTC),
		strikes:    []float64{92, 93, 94, 95, 96},
		quotes:     map[float64]market.OptionQuote{},
	}

	// A ladder where 95 and 94 have deltas in range and decent liquidity.
	s.setQuote(96, 0.80, 0.84, optional.Some(0.30))
	s.setQuote(95, 0.60, 0.64, optional.Some(0.22))
	s.setQuote(94, 0.42, 0.46, optional.Some(0.17))
	s.setQuote(93, 0.30, 0.34, optional.Some(0.12))
	s.setQuote(92, 0.20, 0.24, optional.Some(0.08))
}

func (s *ScannerTestSuite) setQuote(strike, bid, ask float64, delta optional.Option[float64]) {
	s.provider.quotes[strike] = market.OptionQuote{
		Symbol:     "SPY",
		Expiration: s.provider.expiration,
		Strike:     strike,
		Right:      "P",
		Bid:        bid,
		Ask:        ask,
		Delta:      delta,
	}
}

func (s *ScannerTestSuite) strategy() config.StrategyConfig {
	return config.StrategyConfig{
		Underlyings:    []string{"SPY"},
		DTEMin:         7,
		DTEMax:         21,
		DeltaMin:       0.15,
		DeltaMax:       0.25,
		SpreadWidth:    1.0,
		LegMaxBidAsk:   0.10,
		RequireGreeks:  true,
		OTMTargetPct:   0.05,
		CandidateLimit: 5,
	}
}

func (s *ScannerTestSuite) newScanner(strategy config.StrategyConfig) *Scanner {
	return NewScanner(s.provider, strategy, s.clock, s.logger)
}

func (s *ScannerTestSuite) TestFindsCandidatesRankedByCredit() {
	candidates, err := s.newScanner(s.strategy()).FindCandidates(context.Background(), "SPY")
	s.Require().NoError(err)

	// 95/94 (delta 0.22) and 94/93 (delta 0.17) qualify; 96, 93, 92 are out of
	// delta range as short strikes.
	s.Require().Len(candidates, 2)
	s.Equal(95.0, candidates[0].ShortStrike)
	s.Equal(94.0, candidates[0].LongStrike)
	s.Equal(94.0, candidates[1].ShortStrike)

	// Ranked by descending credit: 0.60-0.46=0.14 over 0.42-0.34=0.08.
	s.InDelta(0.14, candidates[0].Credit, 1e-9)
	s.InDelta(0.08, candidates[1].Credit, 1e-9)
	s.Greater(candidates[0].RankScore(), candidates[1].RankScore())

	s.Equal(types.SelectionMethodDelta, candidates[0].SelectionMethod)
	s.True(candidates[0].HasGreeks)
	s.InDelta(0.86, candidates[0].MaxLoss, 1e-9)
}

func (s *ScannerTestSuite) TestDTEOutOfRange() {
	strategy := s.strategy()
	strategy.DTEMin = 20
	strategy.DTEMax = 45

	candidates, err := s.newScanner(strategy).FindCandidates(context.Background(), "SPY")
	s.Require().NoError(err)
	s.Empty(candidates)
}

func (s *ScannerTestSuite) TestWideLegFiltered() {
	// Widen the short leg's book beyond the liquidity cap.
	s.setQuote(95, 0.50, 0.75, optional.Some(0.22))

	candidates, err := s.newScanner(s.strategy()).FindCandidates(context.Background(), "SPY")
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(94.0, candidates[0].ShortStrike)
}

func (s *ScannerTestSuite) TestMissingLongStrikeSkipped() {
	s.provider.strikes = []float64{93, 95}

	candidates, err := s.newScanner(s.strategy()).FindCandidates(context.Background(), "SPY")
	s.Require().NoError(err)
	s.Empty(candidates)
}

func (s *ScannerTestSuite) TestMissingQuoteIsIneligibleNotFatal() {
	delete(s.provider.quotes, 94)

	candidates, err := s.newScanner(s.strategy()).FindCandidates(context.Background(), "SPY")
	s.Require().NoError(err)
	// 95/94 loses its long leg quote and 94/93 its short leg quote.
	s.Empty(candidates)
}

func (s *ScannerTestSuite) TestGreeksRequiredFailsClosed() {
	for strike := range s.provider.quotes {
		quote := s.provider.quotes[strike]
		quote.Delta = optional.None[float64]()
		s.provider.quotes[strike] = quote
	}

	candidates, err := s.newScanner(s.strategy()).FindCandidates(context.Background(), "SPY")
	s.Require().NoError(err)
	s.Empty(candidates)
}

func (s *ScannerTestSuite) TestOTMFallbackSelection() {
	for strike := range s.provider.quotes {
		quote := s.provider.quotes[strike]
		quote.Delta = optional.None[float64]()
		s.provider.quotes[strike] = quote
	}

	strategy := s.strategy()
	strategy.RequireGreeks = false
	strategy.OTMTargetPct = 0.055

	candidates, err := s.newScanner(strategy).FindCandidates(context.Background(), "SPY")
	s.Require().NoError(err)

	// Target 5.5% OTM with a 20% band accepts 4.4%..6.6%: strikes 95 and 94
	// on a 100 spot.
	s.Require().Len(candidates, 2)

	for _, candidate := range candidates {
		s.Equal(types.SelectionMethodOTMFallback, candidate.SelectionMethod)
		s.False(candidate.HasGreeks)
		s.True(candidate.ShortDelta.IsNone())
	}
}

func (s *ScannerTestSuite) TestNegativeCreditFiltered() {
	// Long ask above short bid: no credit to collect.
	s.setQuote(94, 0.42, 0.70, optional.Some(0.17))
	s.setQuote(95, 0.60, 0.64, optional.Some(0.22))

	strategy := s.strategy()
	strategy.LegMaxBidAsk = 0.50

	candidates, err := s.newScanner(strategy).FindCandidates(context.Background(), "SPY")
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(94.0, candidates[0].ShortStrike)
}

func (s *ScannerTestSuite) TestUnknownSymbolPropagates() {
	s.provider.quoteErr = errors.New(errors.ErrCodeUnknownSymbol, "unknown symbol")

	_, err := s.newScanner(s.strategy()).FindCandidates(context.Background(), "SPY")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeUnknownSymbol))
}

func (s *ScannerTestSuite) TestNoQuoteReturnsEmpty() {
	s.provider.quoteErr = errors.New(errors.ErrCodeNoMarketData, "no data yet")

	candidates, err := s.newScanner(s.strategy()).FindCandidates(context.Background(), "SPY")
	s.Require().NoError(err)
	s.Empty(candidates)
}

func (s *ScannerTestSuite) TestTopCandidatesHonorsLimit() {
	strategy := s.strategy()
	strategy.CandidateLimit = 1

	candidates, err := s.newScanner(strategy).TopCandidates(context.Background(), "SPY")
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(95.0, candidates[0].ShortStrike)
}
