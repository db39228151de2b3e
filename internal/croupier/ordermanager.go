package croupier

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/sentinel-systems/croupier/internal/connector"
	"github.com/sentinel-systems/croupier/internal/events"
	"github.com/shopspring/decimal"
)

// SizingMode selects the notional formula, per spec.md §4.12.
type SizingMode string

const (
	SizingFixedNotional SizingMode = "FIXED_NOTIONAL"
	SizingFixedRisk     SizingMode = "FIXED_RISK"
)

// OrderManagerConfig carries the sizing defaults.
type OrderManagerConfig struct {
	Mode          SizingMode
	DefaultTPPct  float64
	DefaultSLPct  float64
	MaxConcurrent int
}

// OrderManager is the glue between AggregatedSignal-derived Decisions and
// the Bracket Manager: it sizes the order, guards against duplicate
// execution, and enforces the concurrent-position cap, per spec.md §4.12.
type OrderManager struct {
	cfg     OrderManagerConfig
	conn    *connector.Connector
	bracket *BracketManager
	tracker *Tracker
	guard   *ExposureGuard

	mu               sync.Mutex
	processedDecisions map[string]bool
}

// NewOrderManager builds an OrderManager. guard may be nil to disable the
// concurrent/total-notional exposure cap.
func NewOrderManager(cfg OrderManagerConfig, conn *connector.Connector, bracket *BracketManager, tracker *Tracker, guard *ExposureGuard) *OrderManager {
	return &OrderManager{
		cfg:                cfg,
		conn:               conn,
		bracket:            bracket,
		tracker:            tracker,
		guard:              guard,
		processedDecisions: make(map[string]bool),
	}
}

// Execute sizes and submits the bracket for a Decision, guarding against
// duplicate decision ids and the concurrent-position cap.
func (om *OrderManager) Execute(ctx context.Context, d events.Decision, equity, currentPrice float64) error {
	om.mu.Lock()
	if om.processedDecisions[d.DecisionID] {
		om.mu.Unlock()
		return fmt.Errorf("order manager: decision %s already processed", d.DecisionID)
	}
	om.processedDecisions[d.DecisionID] = true
	om.mu.Unlock()

	if om.cfg.MaxConcurrent > 0 && len(om.tracker.Symbols()) >= om.cfg.MaxConcurrent && om.tracker.ForSymbol(d.Symbol) == nil {
		return fmt.Errorf("order manager: max concurrent positions (%d) reached", om.cfg.MaxConcurrent)
	}
	if om.tracker.ForSymbol(d.Symbol) != nil {
		return fmt.Errorf("order manager: %s already has an open position", d.Symbol)
	}

	slPct := d.SLPct
	if slPct == 0 {
		slPct = om.cfg.DefaultSLPct
	}
	tpPct := d.TPPct
	if tpPct == 0 {
		tpPct = om.cfg.DefaultTPPct
	}

	notional := computeNotional(om.cfg.Mode, equity, d.BetSize, slPct)
	if currentPrice <= 0 {
		return fmt.Errorf("order manager: invalid current price for %s", d.Symbol)
	}
	if om.guard != nil {
		if err := om.guard.CanEnter(d.Symbol, notional); err != nil {
			return fmt.Errorf("order manager: %w", err)
		}
	}
	rawAmount := notional / currentPrice

	filters, ok := om.conn.Filters(d.Symbol)
	if !ok {
		return fmt.Errorf("order manager: no precision filters cached for %s", d.Symbol)
	}
	amountStr, err := connector.AmountToPrecision(decimalFromFloat(rawAmount), filters.StepSize)
	if err != nil {
		return fmt.Errorf("order manager: amount rounds to zero for %s: %w", d.Symbol, err)
	}

	log.Printf("📐 Sizing %s: equity=%.2f bet=%.4f notional=%.2f amount=%s", d.Symbol, equity, d.BetSize, notional, amountStr)

	return om.bracket.OpenFromDecision(ctx, d, amountStr, tpPct, slPct)
}

// computeNotional mirrors the Order Manager's two sizing formulas.
func computeNotional(mode SizingMode, equity, betSize, slPct float64) float64 {
	if mode == SizingFixedRisk && slPct > 0 {
		return (equity * betSize) / slPct
	}
	return equity * betSize
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}
