package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-options/internal/logger"
	"github.com/rxtech-lab/argo-options/internal/market"
	"github.com/rxtech-lab/argo-options/internal/types"
	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// PaperGateway simulates a broker. An order fills at its limit price when the
// limit is marketable against the provider's current quotes: a credit combo
// fills when the natural credit is at least the limit, a debit combo fills
// when the natural debit is at most the limit. Fill evaluation happens on each
// GetOrderState call, so price movement between polls changes the outcome.
type PaperGateway struct {
	mu        sync.Mutex
	provider  market.Provider
	logger    *logger.Logger
	orders    map[string]*paperOrder
	positions map[string]Position
	// rejectNext makes the next submissions come back rejected; test knob.
	rejectNext int
}

type paperOrder struct {
	combo types.ComboOrder
	state OrderState
}

var _ Gateway = (*PaperGateway)(nil)

// NewPaperGateway creates a paper broker filling against the given provider.
func NewPaperGateway(provider market.Provider, logger *logger.Logger) *PaperGateway {
	return &PaperGateway{
		provider:  provider,
		logger:    logger,
		orders:    make(map[string]*paperOrder),
		positions: make(map[string]Position),
	}
}

// RejectNext makes the next n submissions come back rejected.
func (g *PaperGateway) RejectNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectNext = n
}

// SubmitCombo implements Gateway.
func (g *PaperGateway) SubmitCombo(_ context.Context, combo types.ComboOrder) (string, error) {
	if err := combo.Validate(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	brokerOrderID := uuid.New().String()

	if g.rejectNext > 0 {
		g.rejectNext--
		g.orders[brokerOrderID] = &paperOrder{
			combo: combo,
			state: OrderState{
				BrokerOrderID:  brokerOrderID,
				Status:         types.OrderStatusRejected,
				FillPrice:      0,
				FilledQuantity: 0,
			},
		}

		return brokerOrderID, nil
	}

	g.orders[brokerOrderID] = &paperOrder{
		combo: combo,
		state: OrderState{
			BrokerOrderID:  brokerOrderID,
			Status:         types.OrderStatusSubmitted,
			FillPrice:      0,
			FilledQuantity: 0,
		},
	}

	g.logger.Debug("paper order submitted",
		zap.String("broker_order_id", brokerOrderID),
		zap.String("symbol", combo.Symbol),
		zap.Float64("limit_price", combo.LimitPrice),
		zap.Bool("credit", combo.Credit),
	)

	return brokerOrderID, nil
}

// GetOrderState implements Gateway.
func (g *PaperGateway) GetOrderState(ctx context.Context, brokerOrderID string) (OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[brokerOrderID]
	if !ok {
		return OrderState{}, errors.Newf(errors.ErrCodeOrderNotFound, "broker order %s not found", brokerOrderID)
	}

	if order.state.Status.IsTerminal() {
		return order.state, nil
	}

	marketable, err := g.isMarketable(ctx, order.combo)
	if err != nil {
		return OrderState{}, err
	}

	if marketable {
		order.state.Status = types.OrderStatusFilled
		order.state.FillPrice = order.combo.LimitPrice
		order.state.FilledQuantity = order.combo.Quantity
		g.applyFill(order.combo)
	}

	return order.state, nil
}

// Cancel implements Gateway.
func (g *PaperGateway) Cancel(_ context.Context, brokerOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[brokerOrderID]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "broker order %s not found", brokerOrderID)
	}

	if order.state.Status == types.OrderStatusFilled {
		return errors.Newf(errors.ErrCodeCancelFailed, "broker order %s already filled", brokerOrderID)
	}

	if !order.state.Status.IsTerminal() {
		order.state.Status = types.OrderStatusCancelled
	}

	return nil
}

// ListOpenPositions implements Gateway.
func (g *PaperGateway) ListOpenPositions(_ context.Context) ([]Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	positions := make([]Position, 0, len(g.positions))
	for _, pos := range g.positions {
		positions = append(positions, pos)
	}

	return positions, nil
}

// isMarketable checks the combo's limit against the current natural price.
func (g *PaperGateway) isMarketable(ctx context.Context, combo types.ComboOrder) (bool, error) {
	natural, err := g.naturalPrice(ctx, combo)
	if err != nil {
		return false, err
	}

	if combo.Credit {
		return natural >= combo.LimitPrice, nil
	}

	return natural <= combo.LimitPrice, nil
}

// naturalPrice returns the immediately-executable combo price: for a credit
// combo the short leg's bid minus the long leg's ask, for a debit combo the
// buy leg's ask minus the sell leg's bid.
func (g *PaperGateway) naturalPrice(ctx context.Context, combo types.ComboOrder) (float64, error) {
	var sellQuote, buyQuote market.OptionQuote

	for _, leg := range combo.Legs {
		quote, err := g.provider.GetOptionQuote(ctx, leg.Symbol, leg.Expiration, leg.Strike)
		if err != nil {
			return 0, err
		}

		switch leg.Action {
		case types.LegActionSell:
			sellQuote = quote
		case types.LegActionBuy:
			buyQuote = quote
		}
	}

	if combo.Credit {
		return sellQuote.Bid - buyQuote.Ask, nil
	}

	return buyQuote.Ask - sellQuote.Bid, nil
}

// applyFill updates the simulated position book. An opening credit combo adds
// the spread; a closing debit combo removes it.
func (g *PaperGateway) applyFill(combo types.ComboOrder) {
	key := positionKey(combo)

	if combo.Credit {
		shortStrike, longStrike := comboStrikes(combo, true)
		g.positions[key] = Position{
			Symbol:      combo.Symbol,
			Expiration:  comboExpiration(combo),
			ShortStrike: shortStrike,
			LongStrike:  longStrike,
			Quantity:    combo.Quantity,
		}

		return
	}

	delete(g.positions, key)
}

func positionKey(combo types.ComboOrder) string {
	return combo.Symbol + "/" + comboExpiration(combo).Format("2006-01-02")
}

func comboExpiration(combo types.ComboOrder) time.Time {
	if len(combo.Legs) == 0 {
		return time.Time{}
	}

	return combo.Legs[0].Expiration
}

// comboStrikes returns (shortStrike, longStrike). In an opening credit combo
// the SELL leg is the short strike; in a closing combo the BUY leg is.
func comboStrikes(combo types.ComboOrder, credit bool) (float64, float64) {
	var shortStrike, longStrike float64

	for _, leg := range combo.Legs {
		isShort := (credit && leg.Action == types.LegActionSell) || (!credit && leg.Action == types.LegActionBuy)
		if isShort {
			shortStrike = leg.Strike
		} else {
			longStrike = leg.Strike
		}
	}

	return shortStrike, longStrike
}
