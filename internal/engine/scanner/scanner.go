// Package scanner discovers eligible put credit spread candidates for a
// symbol. Scanning is read-only: missing quotes make a strike ineligible, not
// an error, and no state is written anywhere.
package scanner

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-options/internal/config"
	"github.com/rxtech-lab/argo-options/internal/exchange"
	"github.com/rxtech-lab/argo-options/internal/logger"
	"github.com/rxtech-lab/argo-options/internal/market"
	"github.com/rxtech-lab/argo-options/internal/types"
	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// otmFallbackBand is the tolerated deviation around the OTM target when
// strikes are selected without Greeks.
const otmFallbackBand = 0.2

const strikeEpsilon = 1e-6

// Scanner finds candidates against a market data provider.
type Scanner struct {
	provider market.Provider
	strategy config.StrategyConfig
	clock    exchange.Clock
	logger   *logger.Logger
}

// NewScanner creates a Scanner.
func NewScanner(provider market.Provider, strategy config.StrategyConfig, clock exchange.Clock, logger *logger.Logger) *Scanner {
	return &Scanner{
		provider: provider,
		strategy: strategy,
		clock:    clock,
		logger:   logger,
	}
}

// TopCandidates returns up to the configured candidate limit, best first.
func (s *Scanner) TopCandidates(ctx context.Context, symbol string) ([]types.Candidate, error) {
	candidates, err := s.FindCandidates(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if len(candidates) > s.strategy.CandidateLimit {
		candidates = candidates[:s.strategy.CandidateLimit]
	}

	return candidates, nil
}

// FindCandidates returns every qualifying spread for the symbol, ordered by
// descending credit. A symbol with no usable quote returns an empty list;
// unknown symbols and connectivity failures return the provider's error.
func (s *Scanner) FindCandidates(ctx context.Context, symbol string) ([]types.Candidate, error) {
	quote, err := s.provider.GetQuote(ctx, symbol)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNoMarketData) {
			s.logger.Warn("no quote for symbol", zap.String("symbol", symbol))

			return nil, nil
		}

		return nil, err
	}

	spot := quote.Mid()
	if spot <= 0 {
		s.logger.Warn("cannot determine price for symbol", zap.String("symbol", symbol))

		return nil, nil
	}

	chain, err := s.provider.GetOptionChain(ctx, symbol)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNoOptionChain) || errors.HasCode(err, errors.ErrCodeNoMarketData) {
			s.logger.Warn("no option chain for symbol", zap.String("symbol", symbol))

			return nil, nil
		}

		return nil, err
	}

	now := s.clock.Now()

	var candidates []types.Candidate

	for _, expiration := range chain.Expirations {
		dte := exchange.DaysToExpiration(expiration.Date, now)
		if dte < s.strategy.DTEMin || dte > s.strategy.DTEMax {
			continue
		}

		for _, shortStrike := range expiration.Strikes {
			longStrike := shortStrike - s.strategy.SpreadWidth
			if !containsStrike(expiration.Strikes, longStrike) {
				continue
			}

			candidate, ok := s.buildCandidate(ctx, symbol, spot, expiration.Date, dte, shortStrike, longStrike)
			if !ok {
				continue
			}

			candidates = append(candidates, candidate)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RankScore() > candidates[j].RankScore()
	})

	return candidates, nil
}

// buildCandidate quotes both legs and applies the liquidity, delta (or OTM
// fallback), and positive-credit filters. A false return means the strike pair
// is ineligible.
func (s *Scanner) buildCandidate(ctx context.Context, symbol string, spot float64, expiration time.Time, dte int, shortStrike, longStrike float64) (types.Candidate, bool) {
	shortQuote, ok := s.legQuote(ctx, symbol, expiration, shortStrike)
	if !ok {
		return types.Candidate{}, false
	}

	longQuote, ok := s.legQuote(ctx, symbol, expiration, longStrike)
	if !ok {
		return types.Candidate{}, false
	}

	if shortQuote.BidAskSpread() > s.strategy.LegMaxBidAsk || longQuote.BidAskSpread() > s.strategy.LegMaxBidAsk {
		return types.Candidate{}, false
	}

	method := types.SelectionMethodDelta
	hasGreeks := shortQuote.Delta.IsSome()

	if hasGreeks {
		delta := math.Abs(shortQuote.Delta.Unwrap())
		if delta < s.strategy.DeltaMin || delta > s.strategy.DeltaMax {
			return types.Candidate{}, false
		}
	} else {
		// Greeks-required fails the strike closed; otherwise fall back to
		// distance from the OTM target.
		if s.strategy.RequireGreeks {
			return types.Candidate{}, false
		}

		otmPct := (spot - shortStrike) / spot
		target := s.strategy.OTMTargetPct

		if otmPct < target*(1-otmFallbackBand) || otmPct > target*(1+otmFallbackBand) {
			return types.Candidate{}, false
		}

		method = types.SelectionMethodOTMFallback
		s.logger.Info("using OTM fallback selection",
			zap.String("symbol", symbol),
			zap.Float64("short_strike", shortStrike),
			zap.Float64("otm_pct", otmPct),
		)
	}

	// Credit at the natural price: sell the short leg at its bid, buy the
	// long leg at its ask.
	credit := shortQuote.Bid - longQuote.Ask
	if credit <= 0 {
		return types.Candidate{}, false
	}

	return types.Candidate{
		Symbol:            symbol,
		Expiration:        expiration,
		DTE:               dte,
		ShortStrike:       shortStrike,
		LongStrike:        longStrike,
		SpreadWidth:       s.strategy.SpreadWidth,
		Credit:            credit,
		MaxLoss:           s.strategy.SpreadWidth - credit,
		ShortBid:          shortQuote.Bid,
		ShortAsk:          shortQuote.Ask,
		LongBid:           longQuote.Bid,
		LongAsk:           longQuote.Ask,
		ShortBidAskSpread: shortQuote.BidAskSpread(),
		LongBidAskSpread:  longQuote.BidAskSpread(),
		ShortDelta:        shortQuote.Delta,
		HasGreeks:         hasGreeks,
		SelectionMethod:   method,
	}, true
}

// legQuote fetches one leg's quote, treating any data gap as ineligibility.
func (s *Scanner) legQuote(ctx context.Context, symbol string, expiration time.Time, strike float64) (market.OptionQuote, bool) {
	quote, err := s.provider.GetOptionQuote(ctx, symbol, expiration, strike)
	if err != nil {
		return market.OptionQuote{}, false
	}

	if quote.Bid <= 0 || quote.Ask <= 0 {
		return market.OptionQuote{}, false
	}

	return quote, true
}

func containsStrike(strikes []float64, strike float64) bool {
	for _, s := range strikes {
		if math.Abs(s-strike) < strikeEpsilon {
			return true
		}
	}

	return false
}
