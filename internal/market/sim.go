package market

import (
	"context"
	"math"
	"time"

	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// SimProvider is a deterministic synthetic market used by the doctor command
// and tests. Quotes are derived from a fixed spot price per symbol with weekly
// Friday expirations, so the same inputs always produce the same chain.
type SimProvider struct {
	spots      map[string]float64
	now        func() time.Time
	withGreeks bool
	halfSpread float64
}

var _ Provider = (*SimProvider)(nil)

// SimOption configures a SimProvider.
type SimOption func(*SimProvider)

// WithoutGreeks makes the provider omit delta from option quotes, simulating a
// data source without a Greeks feed.
func WithoutGreeks() SimOption {
	return func(p *SimProvider) {
		p.withGreeks = false
	}
}

// WithHalfSpread sets the half bid-ask spread applied to every option quote.
func WithHalfSpread(halfSpread float64) SimOption {
	return func(p *SimProvider) {
		p.halfSpread = halfSpread
	}
}

// WithSimClock overrides the time source used for expiration generation.
func WithSimClock(now func() time.Time) SimOption {
	return func(p *SimProvider) {
		p.now = now
	}
}

// NewSimProvider creates a simulated market serving the given symbols at the
// given spot prices.
func NewSimProvider(spots map[string]float64, opts ...SimOption) *SimProvider {
	p := &SimProvider{
		spots:      spots,
		now:        time.Now,
		withGreeks: true,
		halfSpread: 0.02,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// GetQuote implements Provider.
func (p *SimProvider) GetQuote(_ context.Context, symbol string) (Quote, error) {
	spot, ok := p.spots[symbol]
	if !ok {
		return Quote{}, errors.Newf(errors.ErrCodeUnknownSymbol, "unknown symbol %s", symbol)
	}

	return Quote{
		Symbol:    symbol,
		Bid:       spot - 0.01,
		Ask:       spot + 0.01,
		Last:      spot,
		Timestamp: p.now(),
	}, nil
}

// GetOptionChain implements Provider. The chain holds the next six weekly
// Friday expirations with $1 strikes spanning 70% to 110% of spot.
func (p *SimProvider) GetOptionChain(_ context.Context, symbol string) (OptionChain, error) {
	spot, ok := p.spots[symbol]
	if !ok {
		return OptionChain{}, errors.Newf(errors.ErrCodeUnknownSymbol, "unknown symbol %s", symbol)
	}

	low := math.Floor(spot * 0.70)
	high := math.Ceil(spot * 1.10)

	strikes := make([]float64, 0, int(high-low)+1)
	for k := low; k <= high; k++ {
		strikes = append(strikes, k)
	}

	expirations := make([]ChainExpiration, 0, 6)
	for _, date := range p.weeklyFridays(6) {
		expirations = append(expirations, ChainExpiration{Date: date, Strikes: strikes})
	}

	return OptionChain{Symbol: symbol, Expirations: expirations}, nil
}

// GetOptionQuote implements Provider.
func (p *SimProvider) GetOptionQuote(_ context.Context, symbol string, expiration time.Time, strike float64) (OptionQuote, error) {
	spot, ok := p.spots[symbol]
	if !ok {
		return OptionQuote{}, errors.Newf(errors.ErrCodeUnknownSymbol, "unknown symbol %s", symbol)
	}

	dte := expiration.Sub(p.now()).Hours() / 24
	if dte < 0 {
		return OptionQuote{}, errors.Newf(errors.ErrCodeNoMarketData, "expiration %s is in the past", expiration.Format("2006-01-02"))
	}

	mid := p.putMid(spot, strike, dte)

	quote := OptionQuote{
		Symbol:     symbol,
		Expiration: expiration,
		Strike:     strike,
		Right:      "P",
		Bid:        math.Max(mid-p.halfSpread, 0.01),
		Ask:        mid + p.halfSpread,
		Delta:      optional.None[float64](),
	}

	if p.withGreeks {
		quote.Delta = optional.Some(putDeltaMagnitude(spot, strike))
	}

	return quote, nil
}

// putMid prices a put as intrinsic value plus a time value that decays with
// distance from the money and grows with time to expiration. It is not a real
// pricing model, only a monotonic stand-in.
func (p *SimProvider) putMid(spot, strike, dte float64) float64 {
	intrinsic := math.Max(strike-spot, 0)
	timeValue := strike * 0.02 * putDeltaMagnitude(spot, strike) * math.Sqrt(math.Max(dte, 1)/30)

	return math.Max(intrinsic+timeValue, 0.05)
}

// putDeltaMagnitude approximates |delta| for a put: 0.5 at the money, decaying
// exponentially as the strike moves out of the money.
func putDeltaMagnitude(spot, strike float64) float64 {
	otm := (spot - strike) / spot
	if otm < 0 {
		// In the money.
		return math.Min(0.5*math.Exp(-25*otm), 0.98)
	}

	return 0.5 * math.Exp(-25*otm)
}

// weeklyFridays returns the next n Fridays after today.
func (p *SimProvider) weeklyFridays(n int) []time.Time {
	now := p.now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 16, 0, 0, 0, now.Location())

	days := make([]time.Time, 0, n)
	for len(days) < n {
		day = day.AddDate(0, 0, 1)
		if day.Weekday() == time.Friday {
			days = append(days, day)
		}
	}

	return days
}
