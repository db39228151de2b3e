package croupier

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// ExposureGuard caps concurrent positions and aggregate notional exposure
// across the whole account, generalizing predator_engine.go's
// GlobalExposureGuard (there, a hard 2-scalp ceiling against one whale
// feed) to Croupier's config-driven MaxConcurrent/TotalNotionalLimit
// (spec.md §4.12, §9's mandatory-notional-tracking decision). A symbol
// that gets blocked on the notional cap sits in a short cooldown instead
// of being retried every tick.
type ExposureGuard struct {
	mu            sync.Mutex
	maxConcurrent int
	totalLimit    float64
	active        map[string]float64 // symbol -> notional
	blockedUntil  map[string]time.Time
	cooldown      time.Duration
}

// NewExposureGuard builds a guard with the given concurrent-position cap
// and total notional cap. A zero maxConcurrent or totalLimit disables that
// half of the check.
func NewExposureGuard(maxConcurrent int, totalLimit float64) *ExposureGuard {
	return &ExposureGuard{
		maxConcurrent: maxConcurrent,
		totalLimit:    totalLimit,
		active:        make(map[string]float64),
		blockedUntil:  make(map[string]time.Time),
		cooldown:      30 * time.Second,
	}
}

// CanEnter reports whether a new position of requiredNotional on symbol
// would fit within the concurrent-position and total-notional caps. It
// does not reserve the slot — callers register the position's actual
// notional once the fill price is known.
func (g *ExposureGuard) CanEnter(symbol string, requiredNotional float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if until, blocked := g.blockedUntil[symbol]; blocked {
		if time.Now().Before(until) {
			return fmt.Errorf("exposure guard: %s is in cooldown until %s", symbol, until.Format(time.RFC3339))
		}
		delete(g.blockedUntil, symbol)
	}

	if g.maxConcurrent > 0 {
		if _, already := g.active[symbol]; !already && len(g.active) >= g.maxConcurrent {
			return fmt.Errorf("exposure guard: max concurrent positions (%d) reached", g.maxConcurrent)
		}
	}

	if g.totalLimit > 0 {
		total := requiredNotional
		for sym, n := range g.active {
			if sym != symbol {
				total += n
			}
		}
		if total > g.totalLimit {
			log.Printf("🛑 exposure guard: blocked %s, needs $%.2f more room ($%.2f > $%.2f total limit)",
				symbol, total-g.totalLimit, total, g.totalLimit)
			g.blockedUntil[symbol] = time.Now().Add(g.cooldown)
			return fmt.Errorf("exposure guard: total notional limit ($%.2f) exceeded", g.totalLimit)
		}
	}
	return nil
}

// register records symbol's live notional once its position is open.
func (g *ExposureGuard) register(symbol string, notional float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[symbol] = notional
}

// release clears symbol's exposure once its position closes (or is ghosted).
func (g *ExposureGuard) release(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, symbol)
}
