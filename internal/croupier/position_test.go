package croupier

import (
	"testing"

	"github.com/sentinel-systems/croupier/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RegisterAndGet(t *testing.T) {
	var notified int
	tracker := NewTracker(func() { notified++ })

	tracker.Register(&OpenPosition{TradeID: "T1", Symbol: "BTCUSDT"})
	assert.Equal(t, 1, notified)

	got := tracker.Get("T1")
	require.NotNil(t, got)
	assert.Equal(t, "BTCUSDT", got.Symbol)
}

func TestTracker_RemoveDropsPosition(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Register(&OpenPosition{TradeID: "T1", Symbol: "BTCUSDT"})
	tracker.Remove("T1")
	assert.Nil(t, tracker.Get("T1"))
}

func TestTracker_ForSymbolFindsOpenPosition(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Register(&OpenPosition{TradeID: "T1", Symbol: "BTCUSDT"})
	pos := tracker.ForSymbol("BTCUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, "T1", pos.TradeID)
	assert.Nil(t, tracker.ForSymbol("ETHUSDT"))
}

func TestTracker_IncrementBarsHeldOnlyAffectsMatchingSymbol(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Register(&OpenPosition{TradeID: "T1", Symbol: "BTCUSDT"})
	tracker.Register(&OpenPosition{TradeID: "T2", Symbol: "ETHUSDT"})

	tracker.IncrementBarsHeld("BTCUSDT")

	assert.Equal(t, 1, tracker.Get("T1").BarsHeld)
	assert.Equal(t, 0, tracker.Get("T2").BarsHeld)
}

func TestTracker_IntegrityCheckFailedFlag(t *testing.T) {
	tracker := NewTracker(nil)
	assert.False(t, tracker.IntegrityCheckFailed())
	tracker.SetIntegrityCheckFailed(true)
	assert.True(t, tracker.IntegrityCheckFailed())
}

func TestTracker_SymbolsReturnsUniqueSet(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Register(&OpenPosition{TradeID: "T1", Symbol: "BTCUSDT", Side: events.SideLong})
	tracker.Register(&OpenPosition{TradeID: "T2", Symbol: "BTCUSDT", Side: events.SideShort})
	symbols := tracker.Symbols()
	assert.Len(t, symbols, 1)
}
