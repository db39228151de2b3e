package croupier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeNotional_FixedNotionalIgnoresSLPct(t *testing.T) {
	notional := computeNotional(SizingFixedNotional, 1000, 0.1, 0.02)
	assert.Equal(t, 100.0, notional)
}

func TestComputeNotional_FixedRiskScalesBySLDistance(t *testing.T) {
	notional := computeNotional(SizingFixedRisk, 1000, 0.01, 0.02)
	assert.InDelta(t, 500.0, notional, 0.0001)
}

func TestComputeNotional_FixedRiskFallsBackWithoutSLPct(t *testing.T) {
	notional := computeNotional(SizingFixedRisk, 1000, 0.1, 0)
	assert.Equal(t, 100.0, notional)
}
