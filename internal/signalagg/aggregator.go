// Package signalagg implements Weighted Consensus signal aggregation, a
// direct port of original_source/decision/aggregator.py's
// SignalAggregatorV3: buffer raw signals per (symbol, candle_ts), wait a
// short settle window, then resolve ΣLONG vs ΣSHORT.
package signalagg

import (
	"sort"
	"sync"
	"time"

	"github.com/sentinel-systems/croupier/internal/events"
)

const (
	// SignalTimeout is how long the aggregator waits for sensors to
	// finish voting on a candle before resolving consensus.
	SignalTimeout = 100 * time.Millisecond

	// MinScoreThreshold is the quality gate: sensors below this
	// historical score don't participate (spec.md §4.6 step 1).
	MinScoreThreshold = 0.5

	// MinMarginRatio is the conviction filter: the winning side must
	// beat the losing side by at least this fraction of total weight,
	// unless an OrderFlow sensor is on the winning side.
	MinMarginRatio = 0.10

	bufferedCandles = 5
)

// ScoreProvider supplies a sensor's historical composite score, backed by
// the sensortracker package.
type ScoreProvider interface {
	SensorScore(sensorID string) float64
}

// Config wires strategy/context/order-flow sensor sets, all driven by the
// sensor registry rather than hardcoded sensor names.
type Config struct {
	ContextSensors    map[string]bool   // sensor id -> is an HTF context sensor
	OrderFlowSensors  map[string]bool   // sensor id -> bypasses margin gate
	StrategySensors   map[string]bool   // non-empty => only these may trigger a trade
	StrategyForSensor map[string]string // sensor id -> strategy label, for reporting
}

type bucket struct {
	signals []events.RawSignal
	timer   *time.Timer
}

// Aggregator buffers RawSignals per symbol/candle and resolves them into
// AggregatedSignal events on the bus.
type Aggregator struct {
	cfg     Config
	tracker ScoreProvider
	bus     *events.Bus

	mu             sync.Mutex
	latestCandleTS map[string]int64
	buffer         map[string]map[int64]*bucket
}

// New builds an Aggregator. tracker supplies per-sensor historical scores.
func New(cfg Config, tracker ScoreProvider, bus *events.Bus) *Aggregator {
	return &Aggregator{
		cfg:            cfg,
		tracker:        tracker,
		bus:            bus,
		latestCandleTS: make(map[string]int64),
		buffer:         make(map[string]map[int64]*bucket),
	}
}

// OnCandle advances the current candle timestamp for a symbol, flushing
// any signals left over from the prior candle and trimming stale buckets.
func (a *Aggregator) OnCandle(symbol string, ts int64) {
	a.mu.Lock()
	last, seen := a.latestCandleTS[symbol]
	a.latestCandleTS[symbol] = ts

	symBuf, ok := a.buffer[symbol]
	if !ok {
		symBuf = make(map[int64]*bucket)
		a.buffer[symbol] = symBuf
	}

	var flush *bucket
	if seen && last != ts {
		if b, present := symBuf[last]; present {
			flush = b
			delete(symBuf, last)
		}
	}

	if len(symBuf) > bufferedCandles {
		keys := make([]int64, 0, len(symBuf))
		for k := range symBuf {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for len(symBuf) > bufferedCandles {
			delete(symBuf, keys[0])
			keys = keys[1:]
		}
	}
	a.mu.Unlock()

	if flush != nil {
		if flush.timer != nil {
			flush.timer.Stop()
		}
		a.processSignals(symbol, last, flush.signals)
	}
}

// OnSignal buffers a raw signal under the symbol's current candle and, on
// the first signal for that candle, arms the settle-window timeout.
func (a *Aggregator) OnSignal(sig events.RawSignal) {
	a.mu.Lock()
	candleTS, ok := a.latestCandleTS[sig.Symbol]
	if !ok {
		a.mu.Unlock()
		return
	}

	symBuf, ok := a.buffer[sig.Symbol]
	if !ok {
		symBuf = make(map[int64]*bucket)
		a.buffer[sig.Symbol] = symBuf
	}
	b, ok := symBuf[candleTS]
	if !ok {
		b = &bucket{}
		symBuf[candleTS] = b
	}
	b.signals = append(b.signals, sig)
	first := len(b.signals) == 1
	if first {
		symbol, ts := sig.Symbol, candleTS
		b.timer = time.AfterFunc(SignalTimeout, func() { a.settle(symbol, ts) })
	}
	a.mu.Unlock()
}

func (a *Aggregator) settle(symbol string, ts int64) {
	a.mu.Lock()
	symBuf, ok := a.buffer[symbol]
	if !ok {
		a.mu.Unlock()
		return
	}
	b, ok := symBuf[ts]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(symBuf, ts)
	a.mu.Unlock()
	a.processSignals(symbol, ts, b.signals)
}

type weighted struct {
	signal   events.RawSignal
	sensorID string
	score    float64
	strength float64
}

// processSignals runs the Weighted Consensus algorithm over one candle's
// buffered signals and emits exactly one AggregatedSignal.
func (a *Aggregator) processSignals(symbol string, candleTS int64, signals []events.RawSignal) {
	if len(signals) == 0 {
		return
	}

	// 1. Quality gate.
	var valid []events.RawSignal
	for _, s := range signals {
		if a.tracker.SensorScore(s.SensorID) >= MinScoreThreshold {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		a.emitSkip(symbol, candleTS, len(signals))
		return
	}

	// 2. HTF context majority vote.
	var htfLong, htfShort int
	for _, s := range valid {
		if a.cfg.ContextSensors[s.SensorID] {
			switch s.Side {
			case events.SideLong:
				htfLong++
			case events.SideShort:
				htfShort++
			}
		}
	}
	var htfContext events.Side
	switch {
	case htfLong > htfShort:
		htfContext = events.SideLong
	case htfShort > htfLong:
		htfContext = events.SideShort
	default:
		htfContext = ""
	}

	// 3. Weighted consensus over non-context trading signals.
	var trading []events.RawSignal
	for _, s := range valid {
		if !a.cfg.ContextSensors[s.SensorID] {
			trading = append(trading, s)
		}
	}
	if len(trading) == 0 {
		a.emitSkip(symbol, candleTS, len(signals))
		return
	}

	var sigmaLong, sigmaShort float64
	var longSignals, shortSignals []weighted

	for _, s := range trading {
		historical := a.tracker.SensorScore(s.SensorID)
		strength := s.Score
		if strength == 0 {
			strength = 1.0
		}
		combined := historical * strength
		w := weighted{signal: s, sensorID: s.SensorID, score: combined, strength: strength}
		switch s.Side {
		case events.SideLong:
			sigmaLong += combined
			longSignals = append(longSignals, w)
		case events.SideShort:
			sigmaShort += combined
			shortSignals = append(shortSignals, w)
		}
	}

	totalWeight := sigmaLong + sigmaShort

	// 4. Winner by weighted sum; exact tie → SKIP.
	if sigmaLong == sigmaShort {
		a.emitSkip(symbol, candleTS, len(signals))
		return
	}

	var consensusSide events.Side
	var winnerSum, loserSum float64
	var winnerSignals []weighted
	if sigmaLong > sigmaShort {
		consensusSide, winnerSum, loserSum, winnerSignals = events.SideLong, sigmaLong, sigmaShort, longSignals
	} else {
		consensusSide, winnerSum, loserSum, winnerSignals = events.SideShort, sigmaShort, sigmaLong, shortSignals
	}

	// 5. Margin / conviction filter, bypassed by OrderFlow sensors.
	var margin float64
	if totalWeight > 0 {
		margin = (winnerSum - loserSum) / totalWeight
	}
	hasOrderFlow := false
	for _, w := range winnerSignals {
		if a.cfg.OrderFlowSensors[w.sensorID] {
			hasOrderFlow = true
			break
		}
	}
	if !hasOrderFlow && margin < MinMarginRatio && loserSum > 0 {
		a.emitSkip(symbol, candleTS, len(signals))
		return
	}

	// 6. HTF alignment.
	if htfContext != "" && consensusSide != htfContext {
		a.emitSkip(symbol, candleTS, len(signals))
		return
	}

	// 7. Strategy trigger filter.
	candidates := winnerSignals
	if len(a.cfg.StrategySensors) > 0 {
		var onStrategy []weighted
		for _, w := range winnerSignals {
			if a.cfg.StrategySensors[w.sensorID] {
				onStrategy = append(onStrategy, w)
			}
		}
		if len(onStrategy) == 0 {
			a.emitSkip(symbol, candleTS, len(signals))
			return
		}
		candidates = onStrategy
	}

	selected := candidates[0]
	for _, w := range candidates[1:] {
		if w.score > selected.score {
			selected = w
		}
	}

	confidence := margin * selected.score
	strategyName := a.cfg.StrategyForSensor[selected.sensorID]
	if strategyName == "" {
		strategyName = "Unknown"
	}

	a.bus.PublishAggregatedSignal(events.AggregatedSignal{
		Symbol:          symbol,
		CandleTimestamp: candleTS,
		SelectedSensor:  selected.sensorID,
		SensorScore:     selected.score,
		Side:            consensusSide,
		Confidence:      confidence,
		TotalSignals:    len(signals),
		StrategyName:    strategyName,
		Metadata: map[string]any{
			"sigma_long":   sigmaLong,
			"sigma_short":  sigmaShort,
			"long_count":   len(longSignals),
			"short_count":  len(shortSignals),
			"margin":       winnerSum - loserSum,
			"total_voters": len(winnerSignals),
		},
	})
}

func (a *Aggregator) emitSkip(symbol string, candleTS int64, totalSignals int) {
	a.bus.PublishAggregatedSignal(events.AggregatedSignal{
		Symbol:          symbol,
		CandleTimestamp: candleTS,
		SelectedSensor:  "None",
		Side:            events.SideSkip,
		TotalSignals:    totalSignals,
	})
}
