package sensor

import (
	"testing"
	"time"

	"github.com/sentinel-systems/croupier/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeoutCh() <-chan time.Time { return time.After(time.Second) }

func TestCooldownGate_BlocksWithinWindow(t *testing.T) {
	g := NewCooldownGate(5)
	assert.True(t, g.Allow("BTCUSDT", "order_flow_pressure", 100))
	assert.False(t, g.Allow("BTCUSDT", "order_flow_pressure", 102))
	assert.True(t, g.Allow("BTCUSDT", "order_flow_pressure", 105))
}

func TestCooldownGate_IndependentPerSymbolAndSensor(t *testing.T) {
	g := NewCooldownGate(5)
	assert.True(t, g.Allow("BTCUSDT", "order_flow_pressure", 100))
	assert.True(t, g.Allow("ETHUSDT", "order_flow_pressure", 100))
	assert.True(t, g.Allow("BTCUSDT", "higher_tf_trend", 100))
}

func TestOrderFlowPressureSensor_FlagsAggressiveDelta(t *testing.T) {
	s := NewOrderFlowPressureSensor()
	ctx := events.MTFContext{
		Symbol: "BTCUSDT",
		Timeframe: map[string]*events.Candle{
			"1m": {Timestamp: 0, Symbol: "BTCUSDT", Volume: 100, Delta: 60},
		},
	}
	sigs := s.Calculate(ctx)
	require.Len(t, sigs, 1)
	assert.Equal(t, events.SideLong, sigs[0].Side)
	assert.True(t, sigs[0].Score > 0)
}

func TestOrderFlowPressureSensor_QuietBelowThreshold(t *testing.T) {
	s := NewOrderFlowPressureSensor()
	ctx := events.MTFContext{
		Symbol: "BTCUSDT",
		Timeframe: map[string]*events.Candle{
			"1m": {Timestamp: 0, Symbol: "BTCUSDT", Volume: 100, Delta: 5},
		},
	}
	assert.Nil(t, s.Calculate(ctx))
}

func TestHigherTFTrendSensor_RequiresEnoughHistory(t *testing.T) {
	s := NewHigherTFTrendSensor()
	ctx := events.MTFContext{Symbol: "BTCUSDT", History: map[string][]*events.Candle{"1h": nil}}
	assert.Nil(t, s.Calculate(ctx))
}

func TestHigherTFTrendSensor_VotesLongOnUptrend(t *testing.T) {
	s := NewHigherTFTrendSensor()
	hist := make([]*events.Candle, 30)
	for i := range hist {
		hist[i] = &events.Candle{Close: 100 + float64(i)}
	}
	ctx := events.MTFContext{Symbol: "BTCUSDT", History: map[string][]*events.Candle{"1h": hist}}
	sigs := s.Calculate(ctx)
	require.Len(t, sigs, 1)
	assert.Equal(t, events.SideLong, sigs[0].Side)
}

func TestPool_WorkerIndexIsConsistentPerSymbol(t *testing.T) {
	reg := NewRegistry([]Factory{NewOrderFlowPressureSensor}, nil)
	p := NewPool(4, reg)
	first := p.workerIndex("BTCUSDT")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.workerIndex("BTCUSDT"))
	}
	assert.True(t, first >= 0 && first < 4)
}

func TestPool_DispatchesAndCollectsSignals(t *testing.T) {
	reg := NewRegistry([]Factory{NewOrderFlowPressureSensor}, nil)
	p := NewPool(2, reg)
	p.Start()
	defer p.Stop()

	p.Dispatch(events.MTFContext{
		Symbol: "BTCUSDT",
		Timeframe: map[string]*events.Candle{
			"1m": {Timestamp: 0, Symbol: "BTCUSDT", Volume: 100, Delta: 60},
		},
	})

	select {
	case sig := <-p.Output():
		assert.Equal(t, "order_flow_pressure", sig.SensorID)
	case <-timeoutCh():
		t.Fatal("timed out waiting for signal")
	}
}
