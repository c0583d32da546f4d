package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantora/fundmatch/pkg/errors"
)

// fixedNow pins the calendar so a one-month term spans exactly 30 days
// (2025-04-15 -> 2025-05-15).
func fixedNow() time.Time {
	return time.Date(2025, 4, 15, 10, 30, 0, 0, time.UTC)
}

func newTestCalculator() *Calculator {
	return NewCalculator(decimal.NewFromInt(50)).WithNow(fixedNow)
}

func TestQuoteReferenceCase(t *testing.T) {
	// order_value = 10,000,000; rate = 6%; term = 1 month (30 days); units = 200
	calc := newTestCalculator()

	q, err := calc.Quote(
		decimal.NewFromInt(10_000_000),
		decimal.NewFromInt(200),
		decimal.NewFromInt(6),
		1,
	)
	require.NoError(t, err)

	assert.Equal(t, int64(30), q.Days)
	assert.True(t, q.SellValue.Round(2).Equal(decimal.RequireFromString("10049315.07")),
		"sell_value = %s", q.SellValue)
	assert.True(t, q.Price1.Equal(decimal.NewFromInt(50247)), "price1 = %s", q.Price1)
	assert.True(t, q.Price2.Equal(decimal.NewFromInt(50250)), "price2 = %s", q.Price2)
	assert.True(t, q.BasePrice.Equal(decimal.NewFromInt(50000)), "base_price = %s", q.BasePrice)
	assert.True(t, q.Delta.Round(4).Equal(decimal.RequireFromString("0.0833")),
		"delta = %s", q.Delta)
}

func TestQuoteDeterministic(t *testing.T) {
	calc := newTestCalculator()

	first, err := calc.Quote(
		decimal.RequireFromString("12345678.91"),
		decimal.NewFromInt(317),
		decimal.RequireFromString("5.75"),
		7,
	)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		q, err := calc.Quote(
			decimal.RequireFromString("12345678.91"),
			decimal.NewFromInt(317),
			decimal.RequireFromString("5.75"),
			7,
		)
		require.NoError(t, err)
		assert.True(t, q.SellValue.Equal(first.SellValue))
		assert.True(t, q.Price2.Equal(first.Price2))
		assert.True(t, q.ConvertedRate.Equal(first.ConvertedRate))
		assert.True(t, q.Delta.Equal(first.Delta))
	}
}

func TestPrice2IsStepMultiple(t *testing.T) {
	cases := []struct {
		value string
		units int64
		rate  string
		term  int
	}{
		{"10000000", 200, "6", 1},
		{"5000001", 99, "4.25", 3},
		{"777777.77", 13, "12", 12},
		{"100000", 7, "0.5", 6},
	}

	for _, tc := range cases {
		for _, step := range []int64{50, 100, 10} {
			calc := NewCalculator(decimal.NewFromInt(step)).WithNow(fixedNow)
			q, err := calc.Quote(
				decimal.RequireFromString(tc.value),
				decimal.NewFromInt(tc.units),
				decimal.RequireFromString(tc.rate),
				tc.term,
			)
			require.NoError(t, err)
			assert.True(t, q.Price2.Mod(decimal.NewFromInt(step)).IsZero(),
				"price2 %s not a multiple of %d", q.Price2, step)
		}
	}
}

func TestTermDaysFlooredAtOne(t *testing.T) {
	calc := newTestCalculator()
	assert.Equal(t, int64(1), calc.TermDays(0))
	assert.Equal(t, int64(1), calc.TermDays(-3))
	assert.Equal(t, int64(30), calc.TermDays(1))
}

func TestQuoteRejectsNonPositiveInputs(t *testing.T) {
	calc := newTestCalculator()

	_, err := calc.Quote(decimal.NewFromInt(1000), decimal.Zero, decimal.NewFromInt(6), 1)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidOrder))

	_, err = calc.Quote(decimal.Zero, decimal.NewFromInt(10), decimal.NewFromInt(6), 1)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidOrder))

	_, err = calc.QuoteAtNAV(decimal.NewFromInt(10), decimal.Zero, decimal.NewFromInt(6), 1)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidOrder))
}

func TestQuoteAtNAV(t *testing.T) {
	calc := newTestCalculator()
	q, err := calc.QuoteAtNAV(
		decimal.NewFromInt(200),
		decimal.NewFromInt(50000),
		decimal.NewFromInt(6),
		1,
	)
	require.NoError(t, err)
	assert.True(t, q.OrderValue.Equal(decimal.NewFromInt(10_000_000)))
	assert.True(t, q.Price2.Equal(decimal.NewFromInt(50250)))
}
