// Package marketmaker settles order remainders left unmatched after an
// engine pass against the designated liquidity counterparty.
package marketmaker

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantora/fundmatch/internal/navfeed"
	"github.com/quantora/fundmatch/internal/orderstore"
	"github.com/quantora/fundmatch/internal/pricing"
	"github.com/quantora/fundmatch/pkg/errors"
	"github.com/quantora/fundmatch/pkg/metrics"
	"github.com/quantora/fundmatch/pkg/models"
)

// Handler fills remainders with synthetic counter-orders owned by the market
// maker party. It is re-entrant: the outstanding balance is re-read from the
// store on every invocation, never tracked in a separate flag.
type Handler struct {
	logger *zap.Logger
	store  orderstore.Store
	calc   *pricing.Calculator
	gate   *pricing.Gate
	nav    navfeed.Source
	party  uuid.UUID
}

// NewHandler creates a market maker handler for the given counterparty.
func NewHandler(
	logger *zap.Logger,
	store orderstore.Store,
	calc *pricing.Calculator,
	gate *pricing.Gate,
	nav navfeed.Source,
	party uuid.UUID,
) *Handler {
	return &Handler{logger: logger, store: store, calc: calc, gate: gate, nav: nav, party: party}
}

// Settlement is the per-order outcome of a handling pass.
type Settlement struct {
	OrderID          uuid.UUID       `json:"order_id"`
	SettledUnits     decimal.Decimal `json:"settled_units"`
	OutstandingUnits decimal.Decimal `json:"outstanding_units"`
	Reason           string          `json:"reason,omitempty"`
}

// Result reports a full handling pass.
type Result struct {
	Buys         []Settlement          `json:"buys"`
	Sells        []Settlement          `json:"sells"`
	MatchedPairs []*models.MatchedPair `json:"matched_pairs"`
}

// HandleRemaining offers a synthetic counter-fill for every listed order.
// Each order is settled for its current outstanding balance, re-priced and
// re-gated against the fund's NAV at settlement time. One order's failure
// never aborts the rest of the batch.
func (h *Handler) HandleRemaining(ctx context.Context, remainingBuys, remainingSells []uuid.UUID) (*Result, error) {
	result := &Result{
		Buys:         make([]Settlement, 0, len(remainingBuys)),
		Sells:        make([]Settlement, 0, len(remainingSells)),
		MatchedPairs: []*models.MatchedPair{},
	}
	for _, id := range remainingBuys {
		settlement, pair := h.settleOne(ctx, id)
		result.Buys = append(result.Buys, settlement)
		if pair != nil {
			result.MatchedPairs = append(result.MatchedPairs, pair)
		}
	}
	for _, id := range remainingSells {
		settlement, pair := h.settleOne(ctx, id)
		result.Sells = append(result.Sells, settlement)
		if pair != nil {
			result.MatchedPairs = append(result.MatchedPairs, pair)
		}
	}
	return result, nil
}

func (h *Handler) settleOne(ctx context.Context, orderID uuid.UUID) (Settlement, *models.MatchedPair) {
	order, err := h.store.GetOrder(ctx, orderID)
	if err != nil {
		return Settlement{OrderID: orderID, Reason: err.Error()}, nil
	}

	// The store's remaining balance is the only re-entrancy guard.
	remaining := order.Remaining()
	if remaining.IsZero() || order.Status == models.OrderStatusCancelled {
		return Settlement{
			OrderID:          orderID,
			SettledUnits:     decimal.Zero,
			OutstandingUnits: decimal.Zero,
		}, nil
	}

	nav, err := h.nav.CurrentNAV(ctx, order.FundID)
	if err != nil {
		return Settlement{OrderID: orderID, OutstandingUnits: remaining, Reason: err.Error()}, nil
	}

	quote, err := h.calc.QuoteAtNAV(remaining, nav, order.InterestRate, order.TermMonths)
	if err != nil {
		return Settlement{OrderID: orderID, OutstandingUnits: remaining, Reason: err.Error()}, nil
	}
	accepted, err := h.gate.Evaluate(quote.Delta)
	if err != nil {
		return Settlement{OrderID: orderID, OutstandingUnits: remaining, Reason: err.Error()}, nil
	}
	if !accepted {
		metrics.GateRejections.WithLabelValues("market_maker").Inc()
		reason := errors.New(errors.KindGateRejected,
			"delta %s outside tolerance band at current NAV", quote.Delta).Error()
		return Settlement{OrderID: orderID, OutstandingUnits: remaining, Reason: reason}, nil
	}

	counter := &models.Order{
		ID:           uuid.New(),
		FundID:       order.FundID,
		PartyID:      h.party,
		Side:         counterSide(order.Side),
		UnitPrice:    nav,
		Units:        remaining,
		TermMonths:   order.TermMonths,
		InterestRate: order.InterestRate,
	}
	if err := h.store.CreateOrder(ctx, counter); err != nil {
		return Settlement{OrderID: orderID, OutstandingUnits: remaining, Reason: err.Error()}, nil
	}

	buyID, sellID := order.ID, counter.ID
	if counterSide(order.Side) == models.OrderSideBuy {
		buyID, sellID = counter.ID, order.ID
	}
	pair, err := h.store.ApplyMatch(ctx, buyID, sellID, remaining, quote.Price2)
	if err != nil {
		return Settlement{OrderID: orderID, OutstandingUnits: remaining, Reason: err.Error()}, nil
	}

	metrics.PairsMatched.WithLabelValues("market_maker").Inc()
	h.logger.Info("Remainder settled against market maker",
		zap.String("order_id", orderID.String()),
		zap.String("units", remaining.String()),
		zap.String("price", quote.Price2.String()))
	return Settlement{
		OrderID:          orderID,
		SettledUnits:     remaining,
		OutstandingUnits: decimal.Zero,
	}, pair
}

// counterSide returns the market maker's side opposite the order. Exchange
// orders surrender units, so the market maker buys them.
func counterSide(side string) string {
	if side == models.OrderSideBuy {
		return models.OrderSideSell
	}
	return models.OrderSideBuy
}
