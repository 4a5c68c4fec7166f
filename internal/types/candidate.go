package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// SelectionMethod identifies how a candidate's short strike was chosen.
type SelectionMethod string

const (
	// SelectionMethodDelta means the short strike passed the configured delta range.
	SelectionMethodDelta SelectionMethod = "delta"
	// SelectionMethodOTMFallback means Greeks were unavailable and the strike was
	// chosen by distance to the configured OTM target percentage.
	SelectionMethodOTMFallback SelectionMethod = "otm_fallback"
)

// Candidate is an unopened, filterable put-credit-spread opportunity.
// Candidates are produced fresh on every scan and are never persisted; they are
// consumed by the risk governor and entry executor or discarded.
type Candidate struct {
	Symbol     string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Expiration time.Time `yaml:"expiration" json:"expiration" csv:"expiration"`
	DTE        int       `yaml:"dte" json:"dte" csv:"dte"`
	// ShortStrike is the strike of the put sold; LongStrike the put bought.
	ShortStrike float64 `yaml:"short_strike" json:"short_strike" csv:"short_strike"`
	LongStrike  float64 `yaml:"long_strike" json:"long_strike" csv:"long_strike"`
	SpreadWidth float64 `yaml:"spread_width" json:"spread_width" csv:"spread_width"`
	// Credit is the estimated net premium received per share (short bid - long ask).
	Credit float64 `yaml:"credit" json:"credit" csv:"credit"`
	// MaxLoss is the defined risk per share: spread width - credit.
	MaxLoss float64 `yaml:"max_loss" json:"max_loss" csv:"max_loss"`

	ShortBid float64 `yaml:"short_bid" json:"short_bid" csv:"short_bid"`
	ShortAsk float64 `yaml:"short_ask" json:"short_ask" csv:"short_ask"`
	LongBid  float64 `yaml:"long_bid" json:"long_bid" csv:"long_bid"`
	LongAsk  float64 `yaml:"long_ask" json:"long_ask" csv:"long_ask"`

	ShortBidAskSpread float64 `yaml:"short_bidask_spread" json:"short_bidask_spread" csv:"short_bidask_spread"`
	LongBidAskSpread  float64 `yaml:"long_bidask_spread" json:"long_bidask_spread" csv:"long_bidask_spread"`

	// ShortDelta is absent when the market data feed reports no Greeks.
	ShortDelta optional.Option[float64] `yaml:"short_delta" json:"short_delta" csv:"short_delta"`
	HasGreeks  bool                     `yaml:"has_greeks" json:"has_greeks" csv:"has_greeks"`

	SelectionMethod SelectionMethod `yaml:"selection_method" json:"selection_method" csv:"selection_method"`
}

// MidCredit returns the mid-quote credit for the spread, the reference price
// for entry limit orders.
func (c Candidate) MidCredit() float64 {
	return (c.ShortBid+c.ShortAsk)/2 - (c.LongBid+c.LongAsk)/2
}

// RankScore orders candidates within a scan; higher is better. Candidates are
// ranked by credit received, matching the scan sort order.
func (c Candidate) RankScore() float64 {
	return c.Credit
}
