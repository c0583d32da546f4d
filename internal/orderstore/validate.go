package orderstore

import (
	"github.com/shopspring/decimal"

	"github.com/quantora/fundmatch/pkg/errors"
	"github.com/quantora/fundmatch/pkg/models"
)

func validateNewOrder(order *models.Order) error {
	switch order.Side {
	case models.OrderSideBuy, models.OrderSideSell, models.OrderSideExchange:
	default:
		return errors.New(errors.KindInvalidOrder, "unsupported side %q", order.Side)
	}
	if !order.Units.IsPositive() {
		return errors.New(errors.KindInvalidOrder, "units must be positive")
	}
	if !order.UnitPrice.IsPositive() {
		return errors.New(errors.KindInvalidOrder, "unit price must be positive")
	}
	if order.InterestRate.IsNegative() {
		return errors.New(errors.KindInvalidOrder, "interest rate must not be negative")
	}
	return nil
}

// claimFailure diagnoses why a conditional claim update matched no rows.
func claimFailure(order *models.Order) error {
	switch {
	case order.Status == models.OrderStatusCancelled:
		return errors.New(errors.KindInvalidOrder, "order %s is cancelled", order.ID)
	case order.Remaining().IsZero():
		return errors.New(errors.KindAlreadySettled, "order %s is fully matched", order.ID)
	case order.ClaimedBy != nil:
		return errors.New(errors.KindDuplicateAdmission, "order %s already admitted to engine %s", order.ID, *order.ClaimedBy)
	default:
		return errors.New(errors.KindInvalidOrder, "order %s is not claimable", order.ID)
	}
}

// fillable checks an order can absorb the requested fill.
func fillable(order *models.Order, units decimal.Decimal) error {
	if order.Status == models.OrderStatusCancelled {
		return errors.New(errors.KindInvalidOrder, "order %s is cancelled", order.ID)
	}
	remaining := order.Remaining()
	if remaining.IsZero() {
		return errors.New(errors.KindAlreadySettled, "order %s is fully matched", order.ID)
	}
	if units.GreaterThan(remaining) {
		return errors.New(errors.KindInsufficientUnits,
			"fill of %s exceeds remaining %s on order %s", units, remaining, order.ID)
	}
	return nil
}
