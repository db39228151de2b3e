package connector

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceToPrecision_HalfUp(t *testing.T) {
	tick := decimal.NewFromFloat(0.01)
	assert.Equal(t, "100.12", PriceToPrecision(decimal.NewFromFloat(100.124), tick))
	assert.Equal(t, "100.13", PriceToPrecision(decimal.NewFromFloat(100.125), tick))
}

func TestAmountToPrecision_FloorsDown(t *testing.T) {
	step := decimal.NewFromFloat(0.001)
	out, err := AmountToPrecision(decimal.NewFromFloat(1.2348), step)
	require.NoError(t, err)
	assert.Equal(t, "1.234", out)
}

func TestAmountToPrecision_RejectsZeroFloor(t *testing.T) {
	step := decimal.NewFromFloat(0.001)
	_, err := AmountToPrecision(decimal.NewFromFloat(0.0001), step)
	assert.Error(t, err)
}
