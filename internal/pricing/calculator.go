// Package pricing implements the NAV pricing calculator and the
// profitability gate. Both are pure: no I/O, no shared mutable state, and
// identical inputs always produce identical outputs.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantora/fundmatch/pkg/errors"
)

// DefaultPriceStep is the rounding step applied to price2 when none is
// configured.
var DefaultPriceStep = decimal.NewFromInt(50)

var (
	hundred     = decimal.NewFromInt(100)
	daysPerYear = decimal.NewFromInt(365)
	one         = decimal.NewFromInt(1)
)

// Quote is the full pricing result for one order.
type Quote struct {
	OrderValue    decimal.Decimal `json:"order_value"`
	Days          int64           `json:"days"`
	SellValue     decimal.Decimal `json:"sell_value"`
	Price1        decimal.Decimal `json:"price1"`
	Price2        decimal.Decimal `json:"price2"`
	BasePrice     decimal.Decimal `json:"base_price"`
	ConvertedRate decimal.Decimal `json:"converted_rate"`
	Delta         decimal.Decimal `json:"delta"`
}

// Calculator computes maturity-adjusted transaction prices from order terms.
type Calculator struct {
	step decimal.Decimal
	now  func() time.Time
}

// NewCalculator creates a calculator rounding price2 to multiples of step.
// A non-positive step falls back to DefaultPriceStep.
func NewCalculator(step decimal.Decimal) *Calculator {
	if !step.IsPositive() {
		step = DefaultPriceStep
	}
	return &Calculator{step: step, now: time.Now}
}

// WithNow overrides the clock. Used by tests to pin the term-day calendar.
func (c *Calculator) WithNow(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// Step returns the configured price step.
func (c *Calculator) Step() decimal.Decimal { return c.step }

// TermDays returns the calendar distance in days from today to
// today+termMonths, floored at 1.
func (c *Calculator) TermDays(termMonths int) int64 {
	today := c.now().Truncate(24 * time.Hour)
	maturity := today.AddDate(0, termMonths, 0)
	days := int64(maturity.Sub(today).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days
}

// Quote prices an order of the given value, annual rate (percent) and term.
// orderValue is units x NAV, or an explicitly supplied amount.
func (c *Calculator) Quote(orderValue, units, rate decimal.Decimal, termMonths int) (*Quote, error) {
	if !units.IsPositive() {
		return nil, errors.New(errors.KindInvalidOrder, "units must be positive")
	}
	if !orderValue.IsPositive() {
		return nil, errors.New(errors.KindInvalidOrder, "order value must be positive")
	}

	days := c.TermDays(termMonths)
	daysDec := decimal.NewFromInt(days)

	// sell_value = order_value * (rate/100) / 365 * days + order_value
	accrual := orderValue.Mul(rate).Div(hundred).Div(daysPerYear).Mul(daysDec)
	sellValue := accrual.Add(orderValue)

	price1 := sellValue.Div(units).Round(0)
	price2 := price1.Div(c.step).Round(0).Mul(c.step)
	basePrice := orderValue.Div(units)

	// converted_rate = (price2/base_price - 1) * 365 / days * 100
	convertedRate := price2.Div(basePrice).Sub(one).Mul(daysPerYear).Div(daysDec).Mul(hundred)

	return &Quote{
		OrderValue:    orderValue,
		Days:          days,
		SellValue:     sellValue,
		Price1:        price1,
		Price2:        price2,
		BasePrice:     basePrice,
		ConvertedRate: convertedRate,
		Delta:         convertedRate.Sub(rate),
	}, nil
}

// QuoteAtNAV prices an order against a given NAV per unit.
func (c *Calculator) QuoteAtNAV(units, nav, rate decimal.Decimal, termMonths int) (*Quote, error) {
	if !nav.IsPositive() {
		return nil, errors.New(errors.KindInvalidOrder, "nav must be positive")
	}
	return c.Quote(units.Mul(nav), units, rate, termMonths)
}
