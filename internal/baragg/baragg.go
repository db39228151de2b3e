// Package baragg folds 1-minute candles into higher timeframes, a direct
// port of original_source/core/bar_aggregator.py's buffer/completed/history
// per-timeframe state machine.
package baragg

import (
	"sync"

	"github.com/sentinel-systems/croupier/internal/events"
)

// timeframeMinutes mirrors TIMEFRAME_MINUTES from the original.
var timeframeMinutes = map[string]int{
	"1m": 1,
	"5m": 5,
	"15m": 15,
	"1h": 60,
	"4h": 240,
}

const historyLimit = 100

type tfState struct {
	buffer    []events.Candle
	history   []*events.Candle
}

// Aggregator holds per-symbol, per-timeframe folding state.
type Aggregator struct {
	mu         sync.Mutex
	timeframes []string // all TFs above 1m, in ascending order
	state      map[string]map[string]*tfState // symbol -> tf -> state
}

// NewAggregator builds an Aggregator for the standard ladder
// {5m, 15m, 1h, 4h} above the always-present 1m base candle.
func NewAggregator() *Aggregator {
	return &Aggregator{
		timeframes: []string{"5m", "15m", "1h", "4h"},
		state:      make(map[string]map[string]*tfState),
	}
}

func (a *Aggregator) symbolState(symbol string) map[string]*tfState {
	s, ok := a.state[symbol]
	if !ok {
		s = make(map[string]*tfState)
		for _, tf := range a.timeframes {
			s[tf] = &tfState{}
		}
		a.state[symbol] = s
	}
	return s
}

// OnCandle folds a closed 1m candle into every higher timeframe and returns
// the multi-timeframe context: 1m is always present; each higher TF is
// either the just-completed aggregate (is_complete=true) or, mid-window, a
// partial aggregate over whatever is buffered so far (is_complete=false),
// exactly matching bar_aggregator.py's on_candle().
func (a *Aggregator) OnCandle(c events.Candle) events.MTFContext {
	a.mu.Lock()
	defer a.mu.Unlock()

	sym := a.symbolState(c.Symbol)
	ctx := events.MTFContext{
		Symbol:    c.Symbol,
		Timeframe: map[string]*events.Candle{"1m": &c},
		History:   map[string][]*events.Candle{},
	}

	for _, tf := range a.timeframes {
		st := sym[tf]
		st.buffer = append(st.buffer, c)

		minutes := timeframeMinutes[tf]
		if len(st.buffer) >= minutes {
			agg := aggregateCandles(st.buffer[:minutes], c.Symbol, tf)
			st.buffer = st.buffer[minutes:]
			st.history = append(st.history, agg)
			if len(st.history) > historyLimit {
				st.history = st.history[len(st.history)-historyLimit:]
			}
			ctx.Timeframe[tf] = agg
		} else if len(st.buffer) > 0 {
			partial := aggregateCandles(st.buffer, c.Symbol, tf)
			partial.IsComplete = false
			ctx.Timeframe[tf] = partial
		} else {
			ctx.Timeframe[tf] = nil
		}

		histCopy := make([]*events.Candle, len(st.history))
		copy(histCopy, st.history)
		ctx.History[tf] = histCopy
	}

	return ctx
}

func aggregateCandles(candles []events.Candle, symbol, tf string) *events.Candle {
	if len(candles) == 0 {
		return nil
	}
	agg := &events.Candle{
		Timestamp:  candles[0].Timestamp,
		Symbol:     symbol,
		Timeframe:  tf,
		Open:       candles[0].Open,
		High:       candles[0].High,
		Low:        candles[0].Low,
		Close:      candles[len(candles)-1].Close,
		IsComplete: true,
	}
	for _, c := range candles {
		if c.High > agg.High {
			agg.High = c.High
		}
		if c.Low < agg.Low {
			agg.Low = c.Low
		}
		agg.Volume += c.Volume
		agg.Delta += c.Delta
	}
	return agg
}

// GetHistory returns up to `lookback` most recent completed candles for a
// (symbol, timeframe) pair, mirroring get_history().
func (a *Aggregator) GetHistory(symbol, timeframe string, lookback int) []*events.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	sym, ok := a.state[symbol]
	if !ok {
		return nil
	}
	st, ok := sym[timeframe]
	if !ok || lookback <= 0 {
		return nil
	}
	if lookback > len(st.history) {
		lookback = len(st.history)
	}
	out := make([]*events.Candle, lookback)
	copy(out, st.history[len(st.history)-lookback:])
	return out
}

// Reset clears all buffered and historical state for a symbol, mirroring reset().
func (a *Aggregator) Reset(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.state, symbol)
}
