// Package croupier is the execution and state engine: order executor, OCO
// bracket manager, position tracker, reconciliation, exit manager, and the
// order-manager glue, grounded in original_source/croupier/components/ and
// core/portfolio/position_tracker.py.
package croupier

import (
	"log"
	"sync"
	"time"

	"github.com/sentinel-systems/croupier/internal/events"
)

// OpenPosition is the authoritative local view of one live position.
type OpenPosition struct {
	TradeID       string
	Symbol        string
	Side          events.Side
	EntryPrice    float64
	Quantity      float64
	Notional      float64
	TPLevel       float64
	SLLevel       float64
	TPOrderID     int64
	SLOrderID     int64
	SelectedSensor string
	OpenedAt      time.Time
	BarsHeld      int

	OriginalTPDistance float64

	SoftExitTriggered      bool
	DefensiveExitTriggered bool
}

// Tracker holds the authoritative local position set and notifies a
// callback on every state change, which the caller wires to persistence
// (spec.md §4.10's "triggers persistent snapshot").
type Tracker struct {
	mu        sync.Mutex
	positions map[string]*OpenPosition // trade_id -> position
	onChange  func()

	// integrityCheckFailed is set whenever reconciliation performs a
	// repair and cleared by a clean pass. It is reported through metrics
	// and status logging; the Order Manager does not read it.
	integrityCheckFailed bool

	guard *ExposureGuard
}

// NewTracker builds an empty Tracker. onChange may be nil.
func NewTracker(onChange func()) *Tracker {
	return &Tracker{positions: make(map[string]*OpenPosition), onChange: onChange}
}

// SetExposureGuard wires the global exposure guard so every Register/Remove
// keeps its notional accounting in sync with the position set, without
// forcing every caller of NewTracker to thread the guard through. Wired
// once by main after construction; nil is the default (no exposure cap).
func (t *Tracker) SetExposureGuard(g *ExposureGuard) { t.guard = g }

func (t *Tracker) notify() {
	if t.onChange != nil {
		t.onChange()
	}
}

// Register atomically adds a new position, called by the Bracket Manager
// once the entry has filled and the OCO bracket is confirmed (or a
// fallback close has already been issued, in which case the caller should
// not call Register at all).
func (t *Tracker) Register(p *OpenPosition) {
	t.mu.Lock()
	t.positions[p.TradeID] = p
	t.mu.Unlock()
	if t.guard != nil {
		if p.Notional <= 0 {
			log.Printf("⚠️ Tracker: position %s (%s) registered with zero notional; reconciliation bug, not a 100 USDT fallback", p.TradeID, p.Symbol)
		}
		t.guard.register(p.Symbol, p.Notional)
	}
	t.notify()
}

// Remove drops a position (ghost or confirmed close).
func (t *Tracker) Remove(tradeID string) {
	t.mu.Lock()
	p, ok := t.positions[tradeID]
	delete(t.positions, tradeID)
	t.mu.Unlock()
	if ok && t.guard != nil {
		t.guard.release(p.Symbol)
	}
	t.notify()
}

// Get returns the position by trade id, or nil.
func (t *Tracker) Get(tradeID string) *OpenPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positions[tradeID]
}

// ForSymbol returns the first open position for a symbol, or nil. The
// Order Manager refuses a new entry on a symbol that already has an open
// position, so in practice this is unique.
func (t *Tracker) ForSymbol(symbol string) *OpenPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return nil
}

// GetOpenPositions returns a new slice of all open positions, safe to range
// over while the tracker changes; the elements are the tracker's own
// pointers, not copies.
func (t *Tracker) GetOpenPositions() []*OpenPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*OpenPosition, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out
}

// Symbols returns the set of symbols currently carrying an open position.
func (t *Tracker) Symbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, p := range t.positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}

// IncrementBarsHeld bumps bars_held for every open position on a symbol,
// called once per closed candle.
func (t *Tracker) IncrementBarsHeld(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.positions {
		if p.Symbol == symbol {
			p.BarsHeld++
		}
	}
}

// SetIntegrityCheckFailed flags that the last reconciliation pass needed a
// repair, per spec.md §4.10.
func (t *Tracker) SetIntegrityCheckFailed(v bool) {
	t.mu.Lock()
	t.integrityCheckFailed = v
	t.mu.Unlock()
}

// IntegrityCheckFailed reports whether the last reconciliation needed a repair.
func (t *Tracker) IntegrityCheckFailed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.integrityCheckFailed
}
