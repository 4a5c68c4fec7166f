package types

import (
	"time"
)

// TradeState is the lifecycle state of a trade.
type TradeState string

const (
	// TradeStatePendingEntry means the opening order has been submitted and is awaiting a fill.
	TradeStatePendingEntry TradeState = "PENDING_ENTRY"
	// TradeStateOpen means the opening order filled and the position is actively monitored.
	TradeStateOpen TradeState = "OPEN"
	// TradeStatePendingExit means a closing order has been submitted.
	TradeStatePendingExit TradeState = "PENDING_EXIT"
	// TradeStateClosed is terminal; P/L has been realized.
	TradeStateClosed TradeState = "CLOSED"
	// TradeStateAbandoned is terminal; the entry never filled.
	TradeStateAbandoned TradeState = "ABANDONED"
)

// CloseReason records why a trade was closed or abandoned.
type CloseReason string

const (
	CloseReasonTakeProfit    CloseReason = "take-profit"
	CloseReasonStopLoss      CloseReason = "stop-loss"
	CloseReasonTime          CloseReason = "time"
	CloseReasonEntryTimeout  CloseReason = "entry-timeout"
	CloseReasonEntryRejected CloseReason = "entry-rejected"
)

// Trade is a put credit spread position through its full lifecycle. At most one
// non-terminal Trade may exist per symbol at any time.
type Trade struct {
	ID        string     `yaml:"id" json:"id" csv:"id"`
	SessionID string     `yaml:"session_id" json:"session_id" csv:"session_id"`
	Symbol    string     `yaml:"symbol" json:"symbol" csv:"symbol"`
	State     TradeState `yaml:"state" json:"state" csv:"state"`

	Expiration  time.Time `yaml:"expiration" json:"expiration" csv:"expiration"`
	ShortStrike float64   `yaml:"short_strike" json:"short_strike" csv:"short_strike"`
	LongStrike  float64   `yaml:"long_strike" json:"long_strike" csv:"long_strike"`
	SpreadWidth float64   `yaml:"spread_width" json:"spread_width" csv:"spread_width"`
	Quantity    int       `yaml:"quantity" json:"quantity" csv:"quantity"`
	// Credit is the per-share premium received at entry.
	Credit float64 `yaml:"credit" json:"credit" csv:"credit"`
	// DebitToClose is the per-share cost paid to exit; zero until closed.
	DebitToClose float64 `yaml:"debit_to_close" json:"debit_to_close" csv:"debit_to_close"`
	// PnL is realized profit/loss in dollars: (credit - debit) * quantity * 100.
	PnL float64 `yaml:"pnl" json:"pnl" csv:"pnl"`

	ReasonOpen  string      `yaml:"reason_open" json:"reason_open" csv:"reason_open"`
	ReasonClose CloseReason `yaml:"reason_close" json:"reason_close" csv:"reason_close"`

	OpenedAt time.Time `yaml:"opened_at" json:"opened_at" csv:"opened_at"`
	ClosedAt time.Time `yaml:"closed_at" json:"closed_at" csv:"closed_at"`
}

// IsTerminal reports whether the state admits no further transitions.
func (s TradeState) IsTerminal() bool {
	return s == TradeStateClosed || s == TradeStateAbandoned
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. No transition skips intermediate states; an unfilled exit order
// returns the trade from PENDING_EXIT to OPEN for retry on the next tick.
func (s TradeState) CanTransition(next TradeState) bool {
	switch s {
	case TradeStatePendingEntry:
		return next == TradeStateOpen || next == TradeStateAbandoned
	case TradeStateOpen:
		return next == TradeStatePendingExit
	case TradeStatePendingExit:
		return next == TradeStateClosed || next == TradeStateOpen
	case TradeStateClosed, TradeStateAbandoned:
		return false
	default:
		return false
	}
}
