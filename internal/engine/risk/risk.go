// Package risk authorizes trade entries. Authorize is a pure function of the
// candidate and an account snapshot so every denial path is directly testable.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/argo-options/internal/config"
	"github.com/rxtech-lab/argo-options/internal/exchange"
	"github.com/rxtech-lab/argo-options/internal/types"
)

// Denial reasons, in the order they are checked. The first failing check wins.
const (
	DenyTradingDisabled    = "trading-disabled"
	DenyOutsideEntryWindow = "outside-entry-window"
	DenyMaxTradesReached   = "max-trades-reached"
	DenyDailyLossLimit     = "daily-loss-limit"
	DenyDuplicateSymbol    = "duplicate-symbol"
	DenyPositionTooSmall   = "position-too-small"
)

// Snapshot is the account state an authorization decision depends on.
type Snapshot struct {
	Now time.Time
	// Stats are today's aggregates; the day boundary is exchange-timezone midnight.
	Stats types.DailyStats
	// SymbolHasActiveTrade is true when the candidate's symbol already has a
	// trade in a non-terminal state.
	SymbolHasActiveTrade bool
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Approved bool
	// Quantity is the contract count to trade; zero unless approved.
	Quantity int
	// Reason is the denial reason; empty when approved.
	Reason string
}

// Governor evaluates entry authorizations against the safety configuration.
type Governor struct {
	safety config.SafetyConfig
	window exchange.Window
}

// NewGovernor creates a Governor for the given safety settings and entry window.
func NewGovernor(safety config.SafetyConfig, window exchange.Window) *Governor {
	return &Governor{safety: safety, window: window}
}

// Authorize decides whether the candidate may be traded right now and at what
// size. Checks run in a fixed order and the first failure is the denial
// reason; a disabled kill switch always wins.
func (g *Governor) Authorize(candidate types.Candidate, snap Snapshot) Decision {
	if !g.safety.TradingEnabled {
		return deny(DenyTradingDisabled)
	}

	if !g.window.Contains(snap.Now) {
		return deny(DenyOutsideEntryWindow)
	}

	if snap.Stats.TradesCount >= g.safety.MaxTradesPerDay {
		return deny(DenyMaxTradesReached)
	}

	if snap.Stats.RealizedLoss() >= g.DailyLossLimit() {
		return deny(DenyDailyLossLimit)
	}

	if snap.SymbolHasActiveTrade {
		return deny(DenyDuplicateSymbol)
	}

	quantity := g.size(candidate)
	if quantity < 1 {
		return deny(DenyPositionTooSmall)
	}

	return Decision{Approved: true, Quantity: quantity, Reason: ""}
}

// DailyLossLimit returns the dollar loss that halts entries for the day.
func (g *Governor) DailyLossLimit() float64 {
	return g.safety.AccountSize * g.safety.MaxDailyLossPct
}

// size returns floor(riskBudget / maxLossPerContract) where the per-contract
// max loss of a credit spread is 100 * (width - credit).
func (g *Governor) size(candidate types.Candidate) int {
	perContract := decimal.NewFromInt(100).
		Mul(decimal.NewFromFloat(candidate.SpreadWidth).Sub(decimal.NewFromFloat(candidate.Credit)))
	if perContract.Sign() <= 0 {
		return 0
	}

	budget := decimal.NewFromFloat(g.safety.AccountSize).
		Mul(decimal.NewFromFloat(g.safety.RiskPerTradePct))

	return int(budget.Div(perContract).IntPart())
}

func deny(reason string) Decision {
	return Decision{Approved: false, Quantity: 0, Reason: reason}
}
