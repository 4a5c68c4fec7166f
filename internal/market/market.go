// Package market defines the market data surface the bot consumes: underlying
// quotes, option chains, and per-contract option quotes.
package market

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
)

// Quote is a top-of-book quote for an underlying.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid-ask midpoint, falling back to the last price when the
// book is empty.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}

	return q.Last
}

// OptionQuote is a top-of-book quote for a single option contract. Delta is
// absent when the data source does not supply Greeks.
type OptionQuote struct {
	Symbol     string                   `json:"symbol"`
	Expiration time.Time                `json:"expiration"`
	Strike     float64                  `json:"strike"`
	Right      string                   `json:"right"`
	Bid        float64                  `json:"bid"`
	Ask        float64                  `json:"ask"`
	Delta      optional.Option[float64] `json:"delta"`
}

// BidAskSpread returns the quoted spread width for liquidity filtering.
func (q OptionQuote) BidAskSpread() float64 {
	return q.Ask - q.Bid
}

// ChainExpiration is one expiration's strike ladder within a chain.
type ChainExpiration struct {
	Date    time.Time `json:"date"`
	Strikes []float64 `json:"strikes"`
}

// OptionChain lists the tradable expirations and strikes for an underlying.
type OptionChain struct {
	Symbol      string            `json:"symbol"`
	Expirations []ChainExpiration `json:"expirations"`
}

// Provider supplies market data. Implementations must return an error carrying
// ErrCodeUnknownSymbol for symbols they do not serve, ErrCodeNoMarketData for
// known symbols with no usable quote, and ErrCodeMarketUnavailable for
// connectivity failures.
type Provider interface {
	// GetQuote returns the underlying quote for symbol.
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	// GetOptionChain returns the put chain for symbol.
	GetOptionChain(ctx context.Context, symbol string) (OptionChain, error)
	// GetOptionQuote returns the quote for one put contract.
	GetOptionQuote(ctx context.Context, symbol string, expiration time.Time, strike float64) (OptionQuote, error)
}
