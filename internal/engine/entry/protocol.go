// Package entry turns approved candidates into filled positions. It owns the
// slippage-bounded order submission protocol, which the position manager
// reuses for closing orders.
package entry

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-options/internal/broker"
	"github.com/rxtech-lab/argo-options/internal/exchange"
	"github.com/rxtech-lab/argo-options/internal/logger"
	"github.com/rxtech-lab/argo-options/internal/store"
	"github.com/rxtech-lab/argo-options/internal/types"
	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// ProtocolParams bounds one run of the submission protocol. Each attempt
// submits a fresh Order row; an unfilled attempt is cancelled and resubmitted
// with the limit stepped toward the market until the slippage bound or the
// attempt cap is hit.
type ProtocolParams struct {
	TradeID string
	Intent  types.OrderIntent
	// StartPrice is the reference limit; the slippage bound is measured from it.
	StartPrice float64
	// Step is the per-retry price adjustment. Credit orders step down
	// (accept less), debit orders step up (pay more).
	Step        float64
	MaxSlippage float64
	MaxAttempts int
	// AttemptTimeout is how long one submission may rest before cancellation.
	AttemptTimeout time.Duration
	PollInterval   time.Duration
	Quantity       int
}

// Outcome reports how a protocol run ended.
type Outcome struct {
	// Filled is true when some attempt filled; Order and Fill are then set and
	// not yet persisted as a unit (the caller owns the atomic trade update).
	Filled      bool
	Order       types.Order
	Fill        types.Fill
	FinalStatus types.OrderStatus
	Attempts    int
}

// Protocol drives combo orders to a terminal status against a broker gateway.
type Protocol struct {
	gateway broker.Gateway
	store   *store.Store
	clock   exchange.Clock
	logger  *logger.Logger
}

// NewProtocol creates a Protocol.
func NewProtocol(gateway broker.Gateway, store *store.Store, clock exchange.Clock, logger *logger.Logger) *Protocol {
	return &Protocol{
		gateway: gateway,
		store:   store,
		clock:   clock,
		logger:  logger,
	}
}

// Run executes the bounded retry loop for the given combo. It terminates with
// a fill, a rejection, or attempt/slippage exhaustion; it never leaves an
// order working at the broker. Connectivity errors abort the run and surface
// to the caller.
func (p *Protocol) Run(ctx context.Context, combo types.ComboOrder, params ProtocolParams) (Outcome, error) {
	var outcome Outcome
	outcome.FinalStatus = types.OrderStatusPending

	for attempt := 1; attempt <= params.MaxAttempts; attempt++ {
		price := p.attemptPrice(params, combo.Credit, attempt)
		if price <= 0 || math.Abs(price-params.StartPrice) > params.MaxSlippage+1e-9 {
			// The next adjustment would leave the slippage bound.
			break
		}

		outcome.Attempts = attempt
		combo.LimitPrice = price

		brokerOrderID, err := p.gateway.SubmitCombo(ctx, combo)
		if err != nil {
			return outcome, err
		}

		order := types.Order{
			ID:            uuid.New().String(),
			TradeID:       params.TradeID,
			Intent:        params.Intent,
			Status:        types.OrderStatusSubmitted,
			LimitPrice:    price,
			Quantity:      params.Quantity,
			Attempt:       attempt,
			BrokerOrderID: brokerOrderID,
			SubmittedAt:   p.clock.Now(),
			FillPrice:     0,
		}
		if err := p.store.RecordOrder(order); err != nil {
			return outcome, err
		}

		p.logger.Info("order submitted",
			zap.String("trade_id", params.TradeID),
			zap.String("intent", string(params.Intent)),
			zap.Int("attempt", attempt),
			zap.Float64("limit_price", price),
		)

		status, state, err := p.awaitFill(ctx, brokerOrderID, params)
		if err != nil {
			return outcome, err
		}

		switch status {
		case types.OrderStatusFilled:
			p.fillOutcome(&outcome, order, state)

			return outcome, nil

		case types.OrderStatusRejected:
			if err := p.store.UpdateOrderStatus(order.ID, types.OrderStatusRejected); err != nil {
				return outcome, err
			}

			outcome.FinalStatus = types.OrderStatusRejected
			p.logger.Warn("order rejected",
				zap.String("trade_id", params.TradeID),
				zap.Int("attempt", attempt),
			)

			return outcome, nil

		default:
			// Unfilled at the deadline: cancel and step the price. The cancel
			// can lose the race against a fill, in which case the fill wins.
			if err := p.gateway.Cancel(ctx, brokerOrderID); err != nil {
				if !errors.HasCode(err, errors.ErrCodeCancelFailed) {
					return outcome, err
				}

				state, stateErr := p.gateway.GetOrderState(ctx, brokerOrderID)
				if stateErr != nil {
					return outcome, stateErr
				}

				if state.Status != types.OrderStatusFilled {
					return outcome, err
				}

				p.fillOutcome(&outcome, order, state)

				return outcome, nil
			}

			if err := p.store.UpdateOrderStatus(order.ID, types.OrderStatusTimedOut); err != nil {
				return outcome, err
			}

			outcome.FinalStatus = types.OrderStatusTimedOut
		}
	}

	return outcome, nil
}

// fillOutcome finalizes the outcome for a filled order.
func (p *Protocol) fillOutcome(outcome *Outcome, order types.Order, state broker.OrderState) {
	order.Status = types.OrderStatusFilled
	order.FillPrice = state.FillPrice
	outcome.Filled = true
	outcome.Order = order
	outcome.Fill = types.Fill{
		ID:       uuid.New().String(),
		OrderID:  order.ID,
		Price:    state.FillPrice,
		Quantity: state.FilledQuantity,
		FilledAt: p.clock.Now(),
	}
	outcome.FinalStatus = types.OrderStatusFilled
}

// attemptPrice returns the limit for the given 1-based attempt.
func (p *Protocol) attemptPrice(params ProtocolParams, credit bool, attempt int) float64 {
	adjust := params.Step * float64(attempt-1)
	if credit {
		return roundCents(params.StartPrice - adjust)
	}

	return roundCents(params.StartPrice + adjust)
}

// awaitFill polls the order until it fills, terminally fails, or the attempt
// deadline passes. The returned status is the last observed one.
func (p *Protocol) awaitFill(ctx context.Context, brokerOrderID string, params ProtocolParams) (types.OrderStatus, broker.OrderState, error) {
	deadline := p.clock.Now().Add(params.AttemptTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return types.OrderStatusSubmitted, broker.OrderState{}, errors.Wrap(errors.ErrCodeSessionAborted, "order polling cancelled", err)
		}

		state, err := p.gateway.GetOrderState(ctx, brokerOrderID)
		if err != nil {
			return types.OrderStatusSubmitted, broker.OrderState{}, err
		}

		if state.Status.IsTerminal() {
			return state.Status, state, nil
		}

		if !p.clock.Now().Before(deadline) {
			return state.Status, state, nil
		}

		p.clock.Sleep(params.PollInterval)
	}
}

func roundCents(price float64) float64 {
	return math.Round(price*100) / 100
}
