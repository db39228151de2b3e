// Package candle builds per-symbol footprint candles from ticks, a direct
// port of original_source/core/candle_maker.py's current_candles /
// last_candle_times state machine with POC/VAH/VAL computed by the
// dual-auction Value Area rule.
package candle

import (
	"math"
	"sort"
	"sync"

	"github.com/sentinel-systems/croupier/internal/events"
)

const valueAreaTarget = 0.70

// Maker holds per-symbol in-progress candle state.
type Maker struct {
	mu           sync.Mutex
	periodSecs   float64
	current      map[string]*events.Candle
	lastStart    map[string]int64
	onCandle     func(events.Candle)
}

// NewMaker builds a Maker for the given candle period (60s for 1m candles
// per spec.md §3's "floored timestamp − timestamp mod 60s").
func NewMaker(periodSecs float64, onCandle func(events.Candle)) *Maker {
	return &Maker{
		periodSecs: periodSecs,
		current:    make(map[string]*events.Candle),
		lastStart:  make(map[string]int64),
		onCandle:   onCandle,
	}
}

func floorToPeriod(ts, period float64) int64 {
	return int64(math.Floor(ts/period)) * int64(period)
}

// OnTick folds one tick into the current candle for its symbol. If the
// tick's floored timestamp differs from the open candle's start, the
// previous candle is finalized and dispatched fire-and-forget (so the tick
// loop never blocks on downstream aggregation, per spec.md §4.3/§5), and a
// new candle opens.
func (m *Maker) OnTick(t events.Tick) {
	start := floorToPeriod(t.Timestamp, m.periodSecs)

	m.mu.Lock()
	last, seen := m.lastStart[t.Symbol]
	if seen && start > last {
		finished := m.current[t.Symbol]
		delete(m.current, t.Symbol)
		m.finalizeLocked(finished)
	}

	cur, ok := m.current[t.Symbol]
	if !ok {
		cur = &events.Candle{
			Timestamp: start,
			Symbol:    t.Symbol,
			Timeframe: "1m",
			Open:      t.Price,
			High:      t.Price,
			Low:       t.Price,
			Close:     t.Price,
			Profile:   make(map[float64]events.FootprintLevel),
		}
		m.current[t.Symbol] = cur
		m.lastStart[t.Symbol] = start
	}

	cur.High = math.Max(cur.High, t.Price)
	cur.Low = math.Min(cur.Low, t.Price)
	cur.Close = t.Price
	cur.Volume += t.Volume

	level := cur.Profile[t.Price]
	switch t.Side {
	case events.TickASK:
		level.Ask += t.Volume
		cur.Delta += t.Volume
	case events.TickBID:
		level.Bid += t.Volume
		cur.Delta -= t.Volume
	}
	cur.Profile[t.Price] = level
	m.mu.Unlock()
}

// finalizeLocked computes POC/VAH/VAL and dispatches the closed candle.
// Caller must hold m.mu; the dispatch itself happens on a goroutine so the
// lock is never held across the callback.
func (m *Maker) finalizeLocked(c *events.Candle) {
	if c == nil {
		return
	}
	c.POC, c.VAH, c.VAL = computeValueArea(c.Profile, c.Volume)
	c.IsComplete = true
	if m.onCandle != nil {
		go m.onCandle(*c)
	}
}

// computeValueArea finds POC (max-volume level) then expands a
// contiguous Value Area via the dual-auction rule: at each step, extend to
// whichever adjacent level (above or below the current band) carries more
// volume; ties expand downward. This matches
// core/candle_maker.py's _calculate_footprint_stats exactly, resolving
// spec.md's Open Question on VA tie-break.
func computeValueArea(profile map[float64]events.FootprintLevel, totalVolume float64) (poc, vah, val float64) {
	if len(profile) == 0 {
		return 0, 0, 0
	}

	levels := make([]float64, 0, len(profile))
	volAt := make(map[float64]float64, len(profile))
	for price, lvl := range profile {
		levels = append(levels, price)
		volAt[price] = lvl.Bid + lvl.Ask
	}
	sort.Float64s(levels)

	pocIdx := 0
	maxVol := -1.0
	for i, p := range levels {
		if volAt[p] > maxVol {
			maxVol = volAt[p]
			pocIdx = i
		}
	}
	poc = levels[pocIdx]

	target := totalVolume * valueAreaTarget
	loIdx, hiIdx := pocIdx, pocIdx
	cumVol := volAt[poc]

	for cumVol < target && (loIdx > 0 || hiIdx < len(levels)-1) {
		var volDown, volUp float64
		canDown := loIdx > 0
		canUp := hiIdx < len(levels)-1
		if canDown {
			volDown = volAt[levels[loIdx-1]]
		}
		if canUp {
			volUp = volAt[levels[hiIdx+1]]
		}

		switch {
		case canUp && (!canDown || volUp > volDown):
			hiIdx++
			cumVol += volAt[levels[hiIdx]]
		case canDown:
			loIdx--
			cumVol += volAt[levels[loIdx]]
		case canUp:
			hiIdx++
			cumVol += volAt[levels[hiIdx]]
		}
	}

	val = levels[loIdx]
	vah = levels[hiIdx]
	return poc, vah, val
}
