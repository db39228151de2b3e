package croupier

import (
	"context"
	"testing"

	"github.com/sentinel-systems/croupier/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloser struct {
	closed  map[string]string
	tpCalls map[string]float64
	slCalls map[string]float64
}

func newFakeCloser() *fakeCloser {
	return &fakeCloser{closed: map[string]string{}, tpCalls: map[string]float64{}, slCalls: map[string]float64{}}
}

func (f *fakeCloser) ClosePosition(ctx context.Context, tradeID, reason string) error {
	f.closed[tradeID] = reason
	return nil
}
func (f *fakeCloser) ModifyTP(ctx context.Context, tradeID string, newTP float64) error {
	f.tpCalls[tradeID] = newTP
	return nil
}
func (f *fakeCloser) ModifySL(ctx context.Context, tradeID string, newSL float64) error {
	f.slCalls[tradeID] = newSL
	return nil
}

func baseCfg() ExitConfig {
	return ExitConfig{
		SignalReversalEnabled:   true,
		SignalReversalThreshold: 0.6,
		MaxHoldBars:             10,
		SoftExitTPMult:          0.5,
		BreakevenActivationPct:  0.01,
		TrailingActivationPct:   0.02,
		TrailingDistancePct:     0.005,
		DrainAggressiveFraction: 0.5,
	}
}

func TestExitManager_SignalReversalClosesPosition(t *testing.T) {
	closer := newFakeCloser()
	tracker := NewTracker(nil)
	tracker.Register(&OpenPosition{TradeID: "T1", Symbol: "BTCUSDT", Side: events.SideLong, EntryPrice: 100})
	mgr := NewExitManager(baseCfg(), tracker, closer)

	mgr.OnSignal(context.Background(), events.AggregatedSignal{Symbol: "BTCUSDT", Side: events.SideShort, Confidence: 0.9})

	reason, ok := closer.closed["T1"]
	require.True(t, ok)
	assert.Equal(t, "SIGNAL_REVERSAL", reason)
}

func TestExitManager_SignalReversalIgnoredBelowThreshold(t *testing.T) {
	closer := newFakeCloser()
	tracker := NewTracker(nil)
	tracker.Register(&OpenPosition{TradeID: "T1", Symbol: "BTCUSDT", Side: events.SideLong, EntryPrice: 100})
	mgr := NewExitManager(baseCfg(), tracker, closer)

	mgr.OnSignal(context.Background(), events.AggregatedSignal{Symbol: "BTCUSDT", Side: events.SideShort, Confidence: 0.3})

	_, ok := closer.closed["T1"]
	assert.False(t, ok)
}

func TestExitManager_TimeExitTriggersSoftExitThenHardClose(t *testing.T) {
	closer := newFakeCloser()
	tracker := NewTracker(nil)
	pos := &OpenPosition{TradeID: "T1", Symbol: "BTCUSDT", Side: events.SideLong, EntryPrice: 100, TPLevel: 110, BarsHeld: 10}
	tracker.Register(pos)
	mgr := NewExitManager(baseCfg(), tracker, closer)

	mgr.OnCandle(context.Background(), events.Candle{Symbol: "BTCUSDT", Close: 100})
	assert.True(t, pos.SoftExitTriggered)
	_, tpModified := closer.tpCalls["T1"]
	assert.True(t, tpModified)

	pos.BarsHeld = 20
	mgr.OnCandle(context.Background(), events.Candle{Symbol: "BTCUSDT", Close: 100})
	assert.Equal(t, "HARD_TIME_EXIT", closer.closed["T1"])
}

func TestExitManager_BreakevenMovesSLOncePastActivation(t *testing.T) {
	closer := newFakeCloser()
	tracker := NewTracker(nil)
	pos := &OpenPosition{TradeID: "T1", Symbol: "BTCUSDT", Side: events.SideLong, EntryPrice: 100, SLLevel: 95}
	tracker.Register(pos)
	mgr := NewExitManager(baseCfg(), tracker, closer)

	mgr.OnCandle(context.Background(), events.Candle{Symbol: "BTCUSDT", Close: 101.5})

	newSL, ok := closer.slCalls["T1"]
	require.True(t, ok)
	assert.InDelta(t, 100.1, newSL, 0.001)
}

func TestExitManager_TriggerAggressiveExitsClosesWorstFraction(t *testing.T) {
	closer := newFakeCloser()
	tracker := NewTracker(nil)
	tracker.Register(&OpenPosition{TradeID: "OLD", Symbol: "ETHUSDT", Side: events.SideLong, EntryPrice: 100, BarsHeld: 50})
	tracker.Register(&OpenPosition{TradeID: "NEW", Symbol: "SOLUSDT", Side: events.SideLong, EntryPrice: 100, BarsHeld: 1})
	mgr := NewExitManager(baseCfg(), tracker, closer)

	mgr.TriggerAggressiveExits(context.Background(), 0.5)

	assert.Equal(t, "DRAIN_AGGRESSIVE", closer.closed["OLD"])
	_, newClosed := closer.closed["NEW"]
	assert.False(t, newClosed)
}
