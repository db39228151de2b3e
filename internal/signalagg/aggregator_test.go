package signalagg

import (
	"testing"
	"time"

	"github.com/sentinel-systems/croupier/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedScores struct{ scores map[string]float64 }

func (f fixedScores) SensorScore(id string) float64 {
	if v, ok := f.scores[id]; ok {
		return v
	}
	return 0.5
}

func TestAggregator_WeightedConsensusPicksHigherSum(t *testing.T) {
	bus := events.NewBus(8)
	tracker := fixedScores{scores: map[string]float64{"a": 0.6, "b": 0.6, "c": 0.9}}
	agg := New(Config{}, tracker, bus)
	aggCh := bus.SubscribeAggregatedSignals()

	agg.OnCandle("BTCUSDT", 100)
	agg.OnSignal(events.RawSignal{SensorID: "a", Symbol: "BTCUSDT", Side: events.SideLong, Score: 0.5})
	agg.OnSignal(events.RawSignal{SensorID: "b", Symbol: "BTCUSDT", Side: events.SideLong, Score: 0.5})
	agg.OnSignal(events.RawSignal{SensorID: "c", Symbol: "BTCUSDT", Side: events.SideShort, Score: 0.5})

	select {
	case out := <-aggCh:
		assert.Equal(t, events.SideLong, out.Side)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for aggregated signal")
	}
}

func TestAggregator_ExactTieSkips(t *testing.T) {
	bus := events.NewBus(8)
	tracker := fixedScores{scores: map[string]float64{"a": 0.6, "b": 0.6}}
	agg := New(Config{}, tracker, bus)
	aggCh := bus.SubscribeAggregatedSignals()

	agg.OnCandle("BTCUSDT", 100)
	agg.OnSignal(events.RawSignal{SensorID: "a", Symbol: "BTCUSDT", Side: events.SideLong, Score: 1.0})
	agg.OnSignal(events.RawSignal{SensorID: "b", Symbol: "BTCUSDT", Side: events.SideShort, Score: 1.0})

	select {
	case out := <-aggCh:
		assert.Equal(t, events.SideSkip, out.Side)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for aggregated signal")
	}
}

func TestAggregator_LowMarginSkipsWithoutOrderFlow(t *testing.T) {
	bus := events.NewBus(8)
	tracker := fixedScores{scores: map[string]float64{"a": 0.55, "b": 0.5}}
	agg := New(Config{}, tracker, bus)
	aggCh := bus.SubscribeAggregatedSignals()

	agg.OnCandle("BTCUSDT", 100)
	agg.OnSignal(events.RawSignal{SensorID: "a", Symbol: "BTCUSDT", Side: events.SideLong, Score: 1.0})
	agg.OnSignal(events.RawSignal{SensorID: "b", Symbol: "BTCUSDT", Side: events.SideShort, Score: 1.0})

	select {
	case out := <-aggCh:
		assert.Equal(t, events.SideSkip, out.Side)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for aggregated signal")
	}
}

func TestAggregator_OrderFlowBypassesMarginGate(t *testing.T) {
	bus := events.NewBus(8)
	tracker := fixedScores{scores: map[string]float64{"a": 0.55, "b": 0.5}}
	agg := New(Config{OrderFlowSensors: map[string]bool{"a": true}}, tracker, bus)
	aggCh := bus.SubscribeAggregatedSignals()

	agg.OnCandle("BTCUSDT", 100)
	agg.OnSignal(events.RawSignal{SensorID: "a", Symbol: "BTCUSDT", Side: events.SideLong, Score: 1.0})
	agg.OnSignal(events.RawSignal{SensorID: "b", Symbol: "BTCUSDT", Side: events.SideShort, Score: 1.0})

	select {
	case out := <-aggCh:
		assert.Equal(t, events.SideLong, out.Side)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for aggregated signal")
	}
}

func TestAggregator_HTFMisalignmentSkips(t *testing.T) {
	bus := events.NewBus(8)
	tracker := fixedScores{scores: map[string]float64{"trend": 0.9, "a": 0.9, "b": 0.5}}
	agg := New(Config{ContextSensors: map[string]bool{"trend": true}}, tracker, bus)
	aggCh := bus.SubscribeAggregatedSignals()

	agg.OnCandle("BTCUSDT", 100)
	agg.OnSignal(events.RawSignal{SensorID: "trend", Symbol: "BTCUSDT", Side: events.SideShort, Score: 1.0})
	agg.OnSignal(events.RawSignal{SensorID: "a", Symbol: "BTCUSDT", Side: events.SideLong, Score: 1.0})

	select {
	case out := <-aggCh:
		assert.Equal(t, events.SideSkip, out.Side)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for aggregated signal")
	}
}

func TestAggregator_QualityGateFiltersLowScoreSensors(t *testing.T) {
	bus := events.NewBus(8)
	tracker := fixedScores{scores: map[string]float64{"weak": 0.2}}
	agg := New(Config{}, tracker, bus)
	aggCh := bus.SubscribeAggregatedSignals()

	agg.OnCandle("BTCUSDT", 100)
	agg.OnSignal(events.RawSignal{SensorID: "weak", Symbol: "BTCUSDT", Side: events.SideLong, Score: 1.0})

	select {
	case out := <-aggCh:
		assert.Equal(t, events.SideSkip, out.Side)
		require.Equal(t, "None", out.SelectedSensor)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for aggregated signal")
	}
}
