package baragg

import (
	"testing"

	"github.com/sentinel-systems/croupier/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCandle(ts int64, open, high, low, close, vol float64) events.Candle {
	return events.Candle{Timestamp: ts, Symbol: "BTCUSDT", Timeframe: "1m", Open: open, High: high, Low: low, Close: close, Volume: vol}
}

func TestAggregator_PartialThenComplete5m(t *testing.T) {
	a := NewAggregator()

	var last events.MTFContext
	for i := 0; i < 5; i++ {
		c := makeCandle(int64(i*60), 100+float64(i), 101+float64(i), 99+float64(i), 100+float64(i), 10)
		last = a.OnCandle(c)
		if i < 4 {
			require.NotNil(t, last.Timeframe["5m"])
			assert.False(t, last.Timeframe["5m"].IsComplete)
		}
	}

	fiveMin := last.Timeframe["5m"]
	require.NotNil(t, fiveMin)
	assert.True(t, fiveMin.IsComplete)
	assert.Equal(t, 100.0, fiveMin.Open)
	assert.Equal(t, 104.0, fiveMin.Close)
	assert.Equal(t, 50.0, fiveMin.Volume)
}

func TestAggregator_HistoryBounded(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < 5*150; i++ {
		c := makeCandle(int64(i*60), 1, 1, 1, 1, 1)
		a.OnCandle(c)
	}
	hist := a.GetHistory("BTCUSDT", "5m", 1000)
	assert.LessOrEqual(t, len(hist), 100)
}
