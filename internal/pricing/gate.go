package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/quantora/fundmatch/pkg/errors"
)

// ToleranceBand bounds the acceptable deviation between an order's converted
// rate and its contracted rate.
type ToleranceBand struct {
	Lower decimal.Decimal
	Upper decimal.Decimal
}

// Gate is the profitability admission predicate. It fails closed: without a
// configured band it refuses to evaluate rather than defaulting to accept.
type Gate struct {
	band *ToleranceBand
}

// NewGate creates a gate for the given band. band may be nil, in which case
// every evaluation returns ConfigurationMissing.
func NewGate(band *ToleranceBand) *Gate {
	return &Gate{band: band}
}

// Evaluate reports whether delta lies within the configured band.
func (g *Gate) Evaluate(delta decimal.Decimal) (bool, error) {
	if g.band == nil {
		return false, errors.New(errors.KindConfigurationMissing, "profitability tolerance band not configured")
	}
	return delta.GreaterThanOrEqual(g.band.Lower) && delta.LessThanOrEqual(g.band.Upper), nil
}

// EvaluateWith applies an explicit band, bypassing the configured one. Used
// by NAV reporting where callers supply the band per request.
func EvaluateWith(delta, lower, upper decimal.Decimal) bool {
	return delta.GreaterThanOrEqual(lower) && delta.LessThanOrEqual(upper)
}
