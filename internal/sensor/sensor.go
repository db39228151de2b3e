// Package sensor defines the compile-time Sensor contract and the
// sharded worker pool that evaluates them, replacing the source system's
// dynamic sensor-class discovery with the "tagged variants of a fixed
// registry" idiom called for in spec.md §9 DESIGN NOTES.
package sensor

import (
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	"github.com/sentinel-systems/croupier/internal/events"
)

// Sensor is the static contract every sensor implements. calculate may
// return nil when it has no opinion for this candle.
type Sensor interface {
	ID() string
	// OrderFlow marks sensors whose winning-side signals bypass the
	// aggregator's margin gate, per spec.md §4.6 step 6.
	OrderFlow() bool
	Calculate(ctx events.MTFContext) []events.RawSignal
}

// Factory constructs a fresh, symbol-scoped Sensor instance. Each worker
// lazily instantiates one set per symbol the first time it sees it,
// preventing cross-symbol state contamination (spec.md §4.5).
type Factory func() Sensor

// Registry is the fixed, compile-time set of enabled sensor factories.
type Registry struct {
	factories []Factory
}

// NewRegistry builds a Registry from an explicit factory list, filtered by
// the enabled map (sensor id -> bool); unlisted ids default to enabled.
func NewRegistry(all []Factory, enabled map[string]bool) *Registry {
	if enabled == nil {
		return &Registry{factories: all}
	}
	var kept []Factory
	for _, f := range all {
		probe := f()
		if on, explicit := enabled[probe.ID()]; explicit && !on {
			continue
		}
		kept = append(kept, f)
	}
	return &Registry{factories: kept}
}

// WorkerCount returns max(2, floor(0.75*NumCPU)) per spec.md §4.5, unless
// overridden.
func WorkerCount(override int) int {
	if override > 0 {
		return override
	}
	w := int(0.75 * float64(runtime.NumCPU()))
	if w < 2 {
		w = 2
	}
	return w
}

// workerState is one worker's symbol -> sensor-instance map.
type workerState struct {
	mu      sync.Mutex
	symbols map[string][]Sensor
}

func (w *workerState) sensorsFor(symbol string, registry *Registry) []Sensor {
	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.symbols[symbol]; ok {
		return existing
	}
	fresh := make([]Sensor, 0, len(registry.factories))
	for _, f := range registry.factories {
		fresh = append(fresh, f())
	}
	w.symbols[symbol] = fresh
	return fresh
}

// Pool fans each candle's MTF context to N sharded workers, one input
// channel per worker keyed by a consistent hash of the symbol, and
// collects RawSignals onto a single output channel — the Go equivalent of
// the source's input_queue/shared_output_queue worker-process model,
// implemented with goroutines + channels instead of processes (a single Go
// binary has no GIL to escape). Routing a symbol's candles to the same
// worker every time is what makes the worker's lazily-built per-symbol
// sensor set (spec.md §4.5) actually stay a single, unfragmented instance.
type Pool struct {
	workers []*workerState
	inputs  []chan events.MTFContext
	registry *Registry
	output  chan events.RawSignal
	wg      sync.WaitGroup
}

// NewPool builds a Pool with the given worker count and registry.
func NewPool(workerCount int, registry *Registry) *Pool {
	p := &Pool{
		registry: registry,
		output:   make(chan events.RawSignal, 1024),
	}
	for i := 0; i < workerCount; i++ {
		p.workers = append(p.workers, &workerState{symbols: make(map[string][]Sensor)})
		p.inputs = append(p.inputs, make(chan events.MTFContext, 256))
	}
	return p
}

// Start launches the worker goroutines. Call Dispatch to feed candles and
// read Output for emitted signals.
func (p *Pool) Start() {
	for i, w := range p.workers {
		p.wg.Add(1)
		go p.runWorker(p.inputs[i], w)
	}
}

func (p *Pool) runWorker(input chan events.MTFContext, w *workerState) {
	defer p.wg.Done()
	for ctx := range input {
		sensors := w.sensorsFor(ctx.Symbol, p.registry)
		for _, s := range sensors {
			signals := s.Calculate(ctx)
			for _, sig := range signals {
				p.output <- sig
			}
		}
	}
}

// workerIndex hashes a symbol (FNV-1a) to a worker slot, so every candle
// for that symbol is routed to the same worker for the life of the pool.
func (p *Pool) workerIndex(symbol string) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(len(p.inputs)))
}

// Dispatch fans one MTF context to the worker responsible for its symbol,
// via a consistent hash so the same symbol always lands on the same
// worker and a given symbol's state never splits across workers.
func (p *Pool) Dispatch(ctx events.MTFContext) {
	p.inputs[p.workerIndex(ctx.Symbol)] <- ctx
}

// Output exposes the merged signal stream.
func (p *Pool) Output() <-chan events.RawSignal { return p.output }

// Stop closes every worker's input channel and waits for workers to drain.
func (p *Pool) Stop() {
	for _, ch := range p.inputs {
		close(ch)
	}
	p.wg.Wait()
	close(p.output)
}

// CooldownGate enforces the 5-bar-per-(symbol,sensor) cooldown from the
// main-process consumer loop (spec.md §4.5), independent of worker sharding.
type CooldownGate struct {
	mu        sync.Mutex
	cooldown  int
	lastBar   map[string]int64 // "symbol|sensor" -> last emitted candle timestamp (bar index)
}

// NewCooldownGate builds a gate with the given bar cooldown (default 5).
func NewCooldownGate(cooldownBars int) *CooldownGate {
	if cooldownBars <= 0 {
		cooldownBars = 5
	}
	return &CooldownGate{cooldown: cooldownBars, lastBar: make(map[string]int64)}
}

// Allow reports whether a signal from (symbol, sensor) at barIndex may pass,
// and records the bar if so.
func (g *CooldownGate) Allow(symbol, sensorID string, barIndex int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := symbol + "|" + sensorID
	last, ok := g.lastBar[key]
	if ok && barIndex-last < int64(g.cooldown) {
		return false
	}
	g.lastBar[key] = barIndex
	return true
}

// PollInterval is the consumer's output-queue poll cadence (≤10ms per
// spec.md §4.5); exposed so main.go can wire a ticker without hardcoding it.
const PollInterval = 10 * time.Millisecond
