package entry

import (
	"time"

	"github.com/rxtech-lab/argo-options/internal/types"
)

// BuildOpenCombo builds the opening credit combo for a candidate: sell the
// short put, buy the long put, as one net-credit order.
func BuildOpenCombo(candidate types.Candidate, limitPrice float64, quantity int) types.ComboOrder {
	return types.ComboOrder{
		Symbol: candidate.Symbol,
		Legs: []types.ComboLeg{
			newPutLeg(candidate.Symbol, candidate.Expiration, candidate.ShortStrike, types.LegActionSell),
			newPutLeg(candidate.Symbol, candidate.Expiration, candidate.LongStrike, types.LegActionBuy),
		},
		LimitPrice: limitPrice,
		Quantity:   quantity,
		Credit:     true,
	}
}

// BuildCloseCombo builds the closing debit combo for an open trade: buy back
// the short put, sell the long put.
func BuildCloseCombo(trade types.Trade, limitPrice float64) types.ComboOrder {
	return types.ComboOrder{
		Symbol: trade.Symbol,
		Legs: []types.ComboLeg{
			newPutLeg(trade.Symbol, trade.Expiration, trade.ShortStrike, types.LegActionBuy),
			newPutLeg(trade.Symbol, trade.Expiration, trade.LongStrike, types.LegActionSell),
		},
		LimitPrice: limitPrice,
		Quantity:   trade.Quantity,
		Credit:     false,
	}
}

func newPutLeg(symbol string, expiration time.Time, strike float64, action types.LegAction) types.ComboLeg {
	return types.ComboLeg{
		Symbol:     symbol,
		Expiration: expiration,
		Strike:     strike,
		Right:      "P",
		Action:     action,
		Ratio:      1,
	}
}
