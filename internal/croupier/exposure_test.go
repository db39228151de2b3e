package croupier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExposureGuard_BlocksBeyondMaxConcurrent(t *testing.T) {
	g := NewExposureGuard(1, 0)
	assert.NoError(t, g.CanEnter("BTCUSDT", 100))
	g.register("BTCUSDT", 100)
	assert.Error(t, g.CanEnter("ETHUSDT", 100))
	assert.NoError(t, g.CanEnter("BTCUSDT", 100), "same symbol may resize without tripping the concurrent cap")
}

func TestExposureGuard_BlocksBeyondTotalNotional(t *testing.T) {
	g := NewExposureGuard(0, 1000)
	g.register("BTCUSDT", 700)
	assert.Error(t, g.CanEnter("ETHUSDT", 400))
	assert.NoError(t, g.CanEnter("SOLUSDT", 200))
}

func TestExposureGuard_ReleaseFreesRoom(t *testing.T) {
	g := NewExposureGuard(1, 0)
	g.register("BTCUSDT", 100)
	assert.Error(t, g.CanEnter("ETHUSDT", 100))
	g.release("BTCUSDT")
	assert.NoError(t, g.CanEnter("ETHUSDT", 100))
}

func TestTracker_WiresExposureGuardOnRegisterAndRemove(t *testing.T) {
	g := NewExposureGuard(1, 0)
	tracker := NewTracker(nil)
	tracker.SetExposureGuard(g)

	tracker.Register(&OpenPosition{TradeID: "T1", Symbol: "BTCUSDT", Notional: 500})
	assert.Error(t, g.CanEnter("ETHUSDT", 1))

	tracker.Remove("T1")
	assert.NoError(t, g.CanEnter("ETHUSDT", 1))
}
