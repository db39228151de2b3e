package sensor

import (
	"fmt"
	"time"

	"github.com/sentinel-systems/croupier/internal/events"
)

// orderFlowPressureSensor flags candles whose footprint delta is an outsized
// share of total traded volume — an aggressive-flow read adapted from
// liquidation_monitor.go's GetLiquidationVolume windowed-volume idiom
// (rolling lookback + lazy cleanup), repointed at footprint delta since this
// system has no standalone liquidation feed. It is OrderFlow-tagged so its
// winning-side votes bypass the aggregator's margin gate (spec.md §4.6).
type orderFlowPressureSensor struct {
	window   time.Duration
	deltas   []deltaSample
	minRatio float64
}

type deltaSample struct {
	at    time.Time
	delta float64
	vol   float64
}

// NewOrderFlowPressureSensor builds the sensor with a 5 minute rolling
// window and a 0.35 delta/volume trigger ratio, mirroring the liquidation
// monitor's defaults (window=300s).
func NewOrderFlowPressureSensor() Sensor {
	return &orderFlowPressureSensor{window: 5 * time.Minute, minRatio: 0.35}
}

func (s *orderFlowPressureSensor) ID() string    { return "order_flow_pressure" }
func (s *orderFlowPressureSensor) OrderFlow() bool { return true }

func (s *orderFlowPressureSensor) Calculate(ctx events.MTFContext) []events.RawSignal {
	c := ctx.Timeframe["1m"]
	if c == nil || c.Volume <= 0 {
		return nil
	}

	now := time.Unix(c.Timestamp, 0)
	s.deltas = append(s.deltas, deltaSample{at: now, delta: c.Delta, vol: c.Volume})
	s.cleanup(now)

	var sumDelta, sumVol float64
	for _, d := range s.deltas {
		sumDelta += d.delta
		sumVol += d.vol
	}
	if sumVol <= 0 {
		return nil
	}

	ratio := sumDelta / sumVol
	if ratio > s.minRatio {
		return []events.RawSignal{{
			SensorID: s.ID(), Symbol: ctx.Symbol, Side: events.SideLong,
			Score: clamp01(ratio), Timeframe: "1m",
			Metadata: map[string]any{"delta_ratio": ratio},
		}}
	}
	if ratio < -s.minRatio {
		return []events.RawSignal{{
			SensorID: s.ID(), Symbol: ctx.Symbol, Side: events.SideShort,
			Score: clamp01(-ratio), Timeframe: "1m",
			Metadata: map[string]any{"delta_ratio": ratio},
		}}
	}
	return nil
}

// cleanup drops samples older than the window, mirroring
// LiquidationMonitor.cleanup's lazy prune-on-write.
func (s *orderFlowPressureSensor) cleanup(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.deltas) && s.deltas[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.deltas = s.deltas[i:]
	}
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// higherTFTrendSensor is a context sensor (not a trading sensor): it votes
// on the 1h trend via an EMA9/EMA21 crossover, adapted from
// trend_analyzer.go's analyzeTimeframe. The Signal Aggregator removes
// context-tagged sensors from the weighted trading pool and instead uses
// their votes for HTF-alignment filtering (spec.md §4.6 step 3/5), so this
// sensor is exposed as a plain Sensor and the aggregator is responsible for
// recognizing its ID as a context sensor rather than a trading one.
type higherTFTrendSensor struct {
	fastPeriod int
	slowPeriod int
}

// NewHigherTFTrendSensor builds the sensor with EMA9/EMA21, matching
// trend_analyzer.go's defaults.
func NewHigherTFTrendSensor() Sensor {
	return &higherTFTrendSensor{fastPeriod: 9, slowPeriod: 21}
}

func (s *higherTFTrendSensor) ID() string    { return "higher_tf_trend" }
func (s *higherTFTrendSensor) OrderFlow() bool { return false }

func (s *higherTFTrendSensor) Calculate(ctx events.MTFContext) []events.RawSignal {
	hist := ctx.History["1h"]
	if len(hist) < s.slowPeriod+1 {
		return nil
	}

	closes := make([]float64, len(hist))
	for i, c := range hist {
		closes[i] = c.Close
	}

	fastEMA := calculateEMA(closes, s.fastPeriod)
	slowEMA := calculateEMA(closes, s.slowPeriod)
	if fastEMA == 0 || slowEMA == 0 {
		return nil
	}

	side := events.SideSkip
	if fastEMA > slowEMA {
		side = events.SideLong
	} else if fastEMA < slowEMA {
		side = events.SideShort
	}
	if side == events.SideSkip {
		return nil
	}

	spread := (fastEMA - slowEMA) / slowEMA
	score := clamp01(absFloat(spread) * 20)

	return []events.RawSignal{{
		SensorID: s.ID(), Symbol: ctx.Symbol, Side: side, Score: score, Timeframe: "1h",
		Metadata: map[string]any{"fast_ema": fastEMA, "slow_ema": slowEMA},
	}}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// calculateEMA computes a simple exponential moving average over the last
// `period` closes, ported from trend_analyzer.go's calculateEMA helper.
func calculateEMA(closes []float64, period int) float64 {
	if len(closes) < period {
		return 0
	}
	k := 2.0 / (float64(period) + 1.0)
	window := closes[len(closes)-period:]
	ema := window[0]
	for _, c := range window[1:] {
		ema = c*k + ema*(1-k)
	}
	return ema
}

// DefaultFactories is the illustrative, fixed registry of example sensors
// shipped with this bot. Production deployments extend this slice with
// domain-specific sensors; the registry itself stays a plain Go literal per
// spec.md §9's "compile-time enumeration" guidance — no plugin loading, no
// reflection-based discovery.
var DefaultFactories = []Factory{
	NewOrderFlowPressureSensor,
	NewHigherTFTrendSensor,
}

// ContextSensorIDs names sensors whose votes feed HTF-alignment/majority
// logic in the Signal Aggregator rather than the weighted trading pool.
var ContextSensorIDs = map[string]bool{
	"higher_tf_trend": true,
}

// DescribeRegistry renders a human-readable summary for startup logging,
// matching the teacher's "print what's wired" startup banner idiom.
func DescribeRegistry(r *Registry) string {
	return fmt.Sprintf("sensor registry: %d sensors enabled", len(r.factories))
}
