package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantora/fundmatch/pkg/errors"
)

func testBand(lower, upper string) *ToleranceBand {
	return &ToleranceBand{
		Lower: decimal.RequireFromString(lower),
		Upper: decimal.RequireFromString(upper),
	}
}

func TestGateEvaluate(t *testing.T) {
	gate := NewGate(testBand("-0.5", "0.5"))

	cases := []struct {
		delta  string
		accept bool
	}{
		{"0.3", true},
		{"0.8", false},
		{"-0.5", true},
		{"0.5", true},
		{"-0.51", false},
		{"0", true},
	}

	for _, tc := range cases {
		t.Run(tc.delta, func(t *testing.T) {
			ok, err := gate.Evaluate(decimal.RequireFromString(tc.delta))
			require.NoError(t, err)
			assert.Equal(t, tc.accept, ok)
		})
	}
}

func TestGateIsPure(t *testing.T) {
	gate := NewGate(testBand("-0.5", "0.5"))
	delta := decimal.RequireFromString("0.3")
	for i := 0; i < 50; i++ {
		ok, err := gate.Evaluate(delta)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestGateFailsClosedWithoutBand(t *testing.T) {
	gate := NewGate(nil)
	ok, err := gate.Evaluate(decimal.Zero)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfigurationMissing))
}

func TestEvaluateWith(t *testing.T) {
	lower := decimal.RequireFromString("-1")
	upper := decimal.RequireFromString("1")
	assert.True(t, EvaluateWith(decimal.Zero, lower, upper))
	assert.False(t, EvaluateWith(decimal.RequireFromString("1.01"), lower, upper))
}
