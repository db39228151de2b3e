package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishCandleFansOutToEverySubscriber(t *testing.T) {
	bus := NewBus(4)
	a := bus.SubscribeCandles()
	b := bus.SubscribeCandles()

	bus.PublishCandle(Candle{Symbol: "BTCUSDT", Close: 100})

	for _, ch := range []<-chan Candle{a, b} {
		select {
		case c := <-ch:
			require.Equal(t, "BTCUSDT", c.Symbol)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for candle on subscriber channel")
		}
	}
}

func TestBus_TicksDropsOldestOnBackpressure(t *testing.T) {
	bus := NewBus(1)
	bus.PublishTick(Tick{Symbol: "A"})
	bus.PublishTick(Tick{Symbol: "B"})

	select {
	case tick := <-bus.Ticks():
		require.Equal(t, "B", tick.Symbol)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestBus_SubscribeOrderUpdatesDeliversIndependently(t *testing.T) {
	bus := NewBus(4)
	sub1 := bus.SubscribeOrderUpdates()
	sub2 := bus.SubscribeOrderUpdates()

	bus.PublishOrderUpdate(OrderUpdate{Symbol: "BTCUSDT", Status: "FILLED"})

	select {
	case u := <-sub1:
		require.Equal(t, "FILLED", u.Status)
	case <-time.After(time.Second):
		t.Fatal("sub1 timed out")
	}
	select {
	case u := <-sub2:
		require.Equal(t, "FILLED", u.Status)
	case <-time.After(time.Second):
		t.Fatal("sub2 timed out")
	}
}
