package candle

import (
	"sync"
	"testing"
	"time"

	"github.com/sentinel-systems/croupier/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeValueArea_MatchesSpecExample(t *testing.T) {
	profile := map[float64]events.FootprintLevel{
		100: {Bid: 1, Ask: 4},
		101: {Bid: 2, Ask: 3},
		102: {Bid: 1, Ask: 1},
	}
	poc, vah, val := computeValueArea(profile, 12)
	assert.Equal(t, 100.0, poc)
	assert.Equal(t, 100.0, val)
	assert.Equal(t, 101.0, vah)
}

func TestMaker_TickCandleBoundary(t *testing.T) {
	var mu sync.Mutex
	var closed []events.Candle
	done := make(chan struct{}, 2)

	m := NewMaker(60, func(c events.Candle) {
		mu.Lock()
		closed = append(closed, c)
		mu.Unlock()
		done <- struct{}{}
	})

	m.OnTick(events.Tick{Timestamp: 59.9, Symbol: "BTCUSDT", Price: 100, Volume: 1, Side: events.TickASK})
	m.OnTick(events.Tick{Timestamp: 60.1, Symbol: "BTCUSDT", Price: 101, Volume: 1, Side: events.TickASK})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for candle close dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, closed, 1)
	assert.Equal(t, 100.0, closed[0].Close)

	m.mu.Lock()
	cur := m.current["BTCUSDT"]
	m.mu.Unlock()
	require.NotNil(t, cur)
	assert.Equal(t, 101.0, cur.Open)
}
