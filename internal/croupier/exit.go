package croupier

import (
	"context"
	"log"
	"sort"

	"github.com/sentinel-systems/croupier/internal/events"
)

// ExitConfig mirrors config.trading's exit-related constants
// (spec.md §4.11).
type ExitConfig struct {
	SignalReversalEnabled   bool
	SignalReversalThreshold float64
	MaxHoldBars             int
	SoftExitTPMult          float64
	BreakevenActivationPct  float64
	TrailingActivationPct   float64
	TrailingDistancePct     float64
	DrainAggressiveFraction float64
}

// PositionCloser is satisfied by Croupier; ExitManager only needs to
// close/modify positions, not the whole engine.
type PositionCloser interface {
	ClosePosition(ctx context.Context, tradeID, reason string) error
	ModifyTP(ctx context.Context, tradeID string, newTP float64) error
	ModifySL(ctx context.Context, tradeID string, newSL float64) error
}

// ExitManager evaluates signal-reversal, time, breakeven, and trailing-stop
// exits for every open position, a direct port of
// original_source/croupier/components/exit_manager.py.
type ExitManager struct {
	cfg     ExitConfig
	tracker *Tracker
	closer  PositionCloser
}

// NewExitManager builds an ExitManager.
func NewExitManager(cfg ExitConfig, tracker *Tracker, closer PositionCloser) *ExitManager {
	return &ExitManager{cfg: cfg, tracker: tracker, closer: closer}
}

// OnSignal checks every open position for a signal-reversal exit.
func (m *ExitManager) OnSignal(ctx context.Context, sig events.AggregatedSignal) {
	if !m.cfg.SignalReversalEnabled {
		return
	}
	for _, pos := range m.tracker.GetOpenPositions() {
		m.checkSignalReversal(ctx, pos, sig)
	}
}

func (m *ExitManager) checkSignalReversal(ctx context.Context, pos *OpenPosition, sig events.AggregatedSignal) {
	if sig.Symbol != pos.Symbol {
		return
	}
	if sig.Confidence < m.cfg.SignalReversalThreshold {
		return
	}
	reversal := (pos.Side == events.SideLong && sig.Side == events.SideShort) ||
		(pos.Side == events.SideShort && sig.Side == events.SideLong)
	if !reversal {
		return
	}
	log.Printf("🔄 Signal Reversal Detected for %s | Position: %s | Signal: %s (%.2f)",
		pos.TradeID, pos.Side, sig.Side, sig.Confidence)
	if err := m.closer.ClosePosition(ctx, pos.TradeID, "SIGNAL_REVERSAL"); err != nil {
		log.Printf("❌ Failed to close position on reversal: %v", err)
	}
}

// OnCandle checks time-exit, breakeven, and trailing-stop rules for every
// open position on this candle's symbol.
func (m *ExitManager) OnCandle(ctx context.Context, c events.Candle) {
	for _, pos := range m.tracker.GetOpenPositions() {
		if pos.Symbol != c.Symbol {
			continue
		}
		m.checkTimeExit(ctx, pos)
		m.checkBreakeven(ctx, pos, c.Close)
		m.checkTrailingStop(ctx, pos, c.Close)
	}
}

func (m *ExitManager) checkTimeExit(ctx context.Context, pos *OpenPosition) {
	if pos.BarsHeld < m.cfg.MaxHoldBars {
		return
	}
	if !pos.SoftExitTriggered {
		m.executeSoftExit(ctx, pos, "Max Time")
	}
	if pos.BarsHeld >= m.cfg.MaxHoldBars*2 {
		log.Printf("🚨 Double Max Hold Reached for %s. Force closing.", pos.TradeID)
		if err := m.closer.ClosePosition(ctx, pos.TradeID, "HARD_TIME_EXIT"); err != nil {
			log.Printf("❌ Failed to execute hard time exit: %v", err)
		}
	}
}

func (m *ExitManager) executeSoftExit(ctx context.Context, pos *OpenPosition, reason string) {
	if pos.SoftExitTriggered && reason != "Session Drain (Optimistic)" {
		return
	}
	log.Printf("⏳ %s Soft Exit for %s | Narrowing TP", reason, pos.TradeID)
	pos.SoftExitTriggered = true

	currentDiff := absFloat(pos.TPLevel - pos.EntryPrice)
	narrowedDiff := currentDiff * m.cfg.SoftExitTPMult

	var newTP float64
	if pos.Side == events.SideLong {
		newTP = pos.EntryPrice + narrowedDiff
	} else {
		newTP = pos.EntryPrice - narrowedDiff
	}

	if err := m.closer.ModifyTP(ctx, pos.TradeID, newTP); err != nil {
		log.Printf("❌ Failed to apply soft exit: %v", err)
		return
	}
	pos.TPLevel = newTP
}

func (m *ExitManager) checkBreakeven(ctx context.Context, pos *OpenPosition, price float64) {
	if pos.Side == events.SideLong {
		if pos.SLLevel >= pos.EntryPrice {
			return
		}
		profitPct := (price - pos.EntryPrice) / pos.EntryPrice
		if profitPct >= m.cfg.BreakevenActivationPct {
			m.updateSL(ctx, pos, pos.EntryPrice*1.001, "Breakeven")
		}
	} else {
		if pos.SLLevel <= pos.EntryPrice {
			return
		}
		profitPct := (pos.EntryPrice - price) / pos.EntryPrice
		if profitPct >= m.cfg.BreakevenActivationPct {
			m.updateSL(ctx, pos, pos.EntryPrice*0.999, "Breakeven")
		}
	}
}

func (m *ExitManager) checkTrailingStop(ctx context.Context, pos *OpenPosition, price float64) {
	if pos.EntryPrice <= 0 {
		return
	}
	if pos.Side == events.SideLong {
		profitPct := (price - pos.EntryPrice) / pos.EntryPrice
		if profitPct < m.cfg.TrailingActivationPct {
			return
		}
		newSL := price - price*m.cfg.TrailingDistancePct
		if newSL > pos.SLLevel {
			m.updateSL(ctx, pos, newSL, "Trailing Stop")
		}
	} else {
		profitPct := (pos.EntryPrice - price) / pos.EntryPrice
		if profitPct < m.cfg.TrailingActivationPct {
			return
		}
		newSL := price + price*m.cfg.TrailingDistancePct
		if newSL < pos.SLLevel {
			m.updateSL(ctx, pos, newSL, "Trailing Stop")
		}
	}
}

func (m *ExitManager) updateSL(ctx context.Context, pos *OpenPosition, newSL float64, reason string) {
	log.Printf("🔄 %s triggered for %s | Current SL: %.2f -> New SL: %.2f", reason, pos.TradeID, pos.SLLevel, newSL)
	if err := m.closer.ModifySL(ctx, pos.TradeID, newSL); err != nil {
		log.Printf("❌ Failed to update SL (%s): %v", reason, err)
		return
	}
	pos.SLLevel = newSL
}

// TriggerSoftExits narrows every open position's TP (drain phase 1:
// optimistic).
func (m *ExitManager) TriggerSoftExits(ctx context.Context) {
	for _, pos := range m.tracker.GetOpenPositions() {
		m.executeSoftExit(ctx, pos, "Session Drain (Optimistic)")
	}
}

// TriggerDefensiveExits moves TP to near-breakeven and tightens SL for
// every open position (drain phase 2).
func (m *ExitManager) TriggerDefensiveExits(ctx context.Context) {
	for _, pos := range m.tracker.GetOpenPositions() {
		m.executeDefensiveExit(ctx, pos)
	}
}

func (m *ExitManager) executeDefensiveExit(ctx context.Context, pos *OpenPosition) {
	if pos.DefensiveExitTriggered {
		return
	}
	log.Printf("🛡️ Defensive Exit for %s | Targeting Breakeven", pos.TradeID)
	pos.DefensiveExitTriggered = true

	var newTP, newSL float64
	if pos.Side == events.SideLong {
		newTP = pos.EntryPrice * 1.002
		newSL = pos.EntryPrice * 0.995
	} else {
		newTP = pos.EntryPrice * 0.998
		newSL = pos.EntryPrice * 1.005
	}

	if err := m.closer.ModifyTP(ctx, pos.TradeID, newTP); err != nil {
		log.Printf("❌ Failed to apply defensive exit: %v", err)
		return
	}
	pos.TPLevel = newTP

	update := (pos.Side == events.SideLong && newSL > pos.SLLevel) ||
		(pos.Side == events.SideShort && newSL < pos.SLLevel)
	if update {
		m.updateSL(ctx, pos, newSL, "Defensive Drain")
	}
}

// TriggerAggressiveExits force-closes the stalest fraction of positions
// (sorted by bars_held, worst first) and defensive-exits the rest
// (drain phase 3).
func (m *ExitManager) TriggerAggressiveExits(ctx context.Context, fraction float64) {
	positions := m.tracker.GetOpenPositions()
	sort.Slice(positions, func(i, j int) bool { return positions[i].BarsHeld > positions[j].BarsHeld })

	target := 0
	if len(positions) > 0 {
		target = int(float64(len(positions)) * fraction)
		if target < 1 {
			target = 1
		}
	}
	log.Printf("🔥 Aggressive Drain: Targeting %d stale/weak positions.", target)

	for i, pos := range positions {
		if i < target {
			log.Printf("💀 Force Closing %s (Aggressive Drain)", pos.Symbol)
			if err := m.closer.ClosePosition(ctx, pos.TradeID, "DRAIN_AGGRESSIVE"); err != nil {
				log.Printf("❌ Failed aggressive close for %s: %v", pos.Symbol, err)
			}
		} else if !pos.DefensiveExitTriggered {
			m.executeDefensiveExit(ctx, pos)
		}
	}
}
