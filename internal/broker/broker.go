// Package broker defines the order execution surface and a paper-trading
// gateway that fills marketable limit orders against the market data feed.
package broker

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-options/internal/types"
)

// OrderState is the broker-side view of a submitted order.
type OrderState struct {
	BrokerOrderID  string            `json:"broker_order_id"`
	Status         types.OrderStatus `json:"status"`
	FillPrice      float64           `json:"fill_price"`
	FilledQuantity int               `json:"filled_quantity"`
}

// Position is a spread position as the broker reports it, used to reconcile
// the local trade book at session start.
type Position struct {
	Symbol      string    `json:"symbol"`
	Expiration  time.Time `json:"expiration"`
	ShortStrike float64   `json:"short_strike"`
	LongStrike  float64   `json:"long_strike"`
	Quantity    int       `json:"quantity"`
}

// Gateway submits and tracks combo orders. Implementations must return an
// error carrying ErrCodeOrderNotFound for unknown broker order IDs and
// ErrCodeBrokerUnavailable for connectivity failures.
type Gateway interface {
	// SubmitCombo places a multi-leg limit order and returns the broker order ID.
	SubmitCombo(ctx context.Context, combo types.ComboOrder) (string, error)
	// GetOrderState returns the current state of a working or terminal order.
	GetOrderState(ctx context.Context, brokerOrderID string) (OrderState, error)
	// Cancel cancels a working order. Cancelling a filled order is an error.
	Cancel(ctx context.Context, brokerOrderID string) error
	// ListOpenPositions returns the spread positions currently held.
	ListOpenPositions(ctx context.Context) ([]Position, error)
}
