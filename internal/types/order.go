package types

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// OrderIntent distinguishes opening orders from closing orders.
type OrderIntent string

// OrderStatus is the terminal-or-working status of a submitted order.
type OrderStatus string

// LegAction is the side of a single combo leg.
type LegAction string

const (
	OrderIntentOpen  OrderIntent = "OPEN"
	OrderIntentClose OrderIntent = "CLOSE"
)

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusTimedOut  OrderStatus = "TIMED_OUT"
)

const (
	LegActionBuy  LegAction = "BUY"
	LegActionSell LegAction = "SELL"
)

// IsTerminal reports whether the order status admits no further changes.
// An order is immutable once filled or terminally failed; retries create new
// Order records rather than mutating history.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusTimedOut:
		return true
	default:
		return false
	}
}

// Order is one submission attempt for a trade. Each retry within the
// slippage-bounded protocol is a distinct Order row.
type Order struct {
	ID      string      `yaml:"id" json:"id" csv:"id" validate:"required,uuid"`
	TradeID string      `yaml:"trade_id" json:"trade_id" csv:"trade_id" validate:"required"`
	Intent  OrderIntent `yaml:"intent" json:"intent" csv:"intent" validate:"required,oneof=OPEN CLOSE"`
	Status  OrderStatus `yaml:"status" json:"status" csv:"status" validate:"required"`
	// LimitPrice is the per-share credit (open) or debit (close) limit.
	LimitPrice float64 `yaml:"limit_price" json:"limit_price" csv:"limit_price" validate:"required,gt=0"`
	Quantity   int     `yaml:"quantity" json:"quantity" csv:"quantity" validate:"required,gt=0"`
	// Attempt is the 1-based position of this order within its retry protocol.
	Attempt       int       `yaml:"attempt" json:"attempt" csv:"attempt" validate:"required,gte=1"`
	BrokerOrderID string    `yaml:"broker_order_id" json:"broker_order_id" csv:"broker_order_id"`
	SubmittedAt   time.Time `yaml:"submitted_at" json:"submitted_at" csv:"submitted_at"`
	FillPrice     float64   `yaml:"fill_price" json:"fill_price" csv:"fill_price"`
}

// Fill is an append-only execution record for an order.
type Fill struct {
	ID       string    `yaml:"id" json:"id" csv:"id"`
	OrderID  string    `yaml:"order_id" json:"order_id" csv:"order_id"`
	Price    float64   `yaml:"price" json:"price" csv:"price"`
	Quantity int       `yaml:"quantity" json:"quantity" csv:"quantity"`
	FilledAt time.Time `yaml:"filled_at" json:"filled_at" csv:"filled_at"`
}

// ComboLeg is one leg of a multi-leg spread order.
type ComboLeg struct {
	Symbol     string    `yaml:"symbol" json:"symbol"`
	Expiration time.Time `yaml:"expiration" json:"expiration"`
	Strike     float64   `yaml:"strike" json:"strike"`
	// Right is "P" for puts; calls are not traded by this strategy.
	Right  string    `yaml:"right" json:"right"`
	Action LegAction `yaml:"action" json:"action"`
	Ratio  int       `yaml:"ratio" json:"ratio"`
}

// ComboOrder is a multi-leg spread submission: a put credit spread sells the
// short leg and buys the long leg as a single net-credit combo.
type ComboOrder struct {
	Symbol     string     `yaml:"symbol" json:"symbol" validate:"required"`
	Legs       []ComboLeg `yaml:"legs" json:"legs" validate:"required,min=2"`
	LimitPrice float64    `yaml:"limit_price" json:"limit_price" validate:"required,gt=0"`
	Quantity   int        `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	// Credit is true when the combo is sold for a net credit (entry); false
	// when bought to close for a net debit.
	Credit bool `yaml:"credit" json:"credit"`
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	return nil
}

// Validate validates the ComboOrder struct.
func (c *ComboOrder) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid combo order", err)
	}

	return nil
}
