package croupier

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/sentinel-systems/croupier/internal/connector"
	"github.com/sentinel-systems/croupier/internal/events"
)

// priceBandHigherRe/priceBandLowerRe parse Binance's -4016 "percent price"
// rejection message ("...higher than 12345.60..." / "...lower than
// 12345.60...") to recover the exact price-band boundary, mirroring
// sweep_exchange.py's Tier 2 fallback.
var (
	priceBandHigherRe = regexp.MustCompile(`higher than ([\d.]+)`)
	priceBandLowerRe  = regexp.MustCompile(`lower than ([\d.]+)`)
)

// Croupier is the execution & state engine's top-level orchestrator (spec.md
// §2): it owns the order executor, bracket manager, position tracker,
// reconciler, and exit manager, and satisfies the ExitManager's
// PositionCloser contract by amending/closing positions against the
// exchange. This is the "Croupier" box in the dataflow diagram — everything
// downstream of the Order Manager routes through it.
type Croupier struct {
	conn     *connector.Connector
	executor *OrderExecutor
	bracket  *BracketManager
	tracker  *Tracker
	reconciler *Reconciler
	exitMgr  *ExitManager
	orderMgr *OrderManager

	shutdownMode bool
}

// New wires a Croupier from its already-constructed subcomponents. Callers
// (cmd/croupier) build the executor/bracket/tracker/reconciler first since
// ExitManager needs a PositionCloser that only this struct can provide.
func New(conn *connector.Connector, executor *OrderExecutor, bracket *BracketManager, tracker *Tracker, reconciler *Reconciler) *Croupier {
	return &Croupier{conn: conn, executor: executor, bracket: bracket, tracker: tracker, reconciler: reconciler}
}

// AttachExitManager lets main wiring build the ExitManager after the
// Croupier itself (since the ExitManager's constructor needs this as its
// PositionCloser), without a circular-construction dance.
func (c *Croupier) AttachExitManager(m *ExitManager) { c.exitMgr = m }

// AttachOrderManager records the Order Manager on the Croupier. Nothing in
// the Croupier reads the stored reference.
func (c *Croupier) AttachOrderManager(m *OrderManager) { c.orderMgr = m }

// Tracker exposes the position tracker for read access (status reporting,
// reconciliation loops, notify/statusws snapshots).
func (c *Croupier) Tracker() *Tracker { return c.tracker }

// SetShutdownMode records the shutdown flag on the Croupier only. The
// resilience layer's breaker bypass is a separate flag, set through
// ErrorHandler.SetShutdownMode (cmd/croupier sets both on shutdown).
func (c *Croupier) SetShutdownMode(v bool) { c.shutdownMode = v }

// ClosePosition market-closes a tracked position and removes it, satisfying
// ExitManager's PositionCloser contract.
func (c *Croupier) ClosePosition(ctx context.Context, tradeID, reason string) error {
	pos := c.tracker.Get(tradeID)
	if pos == nil {
		return fmt.Errorf("croupier: no open position %s", tradeID)
	}
	side := futures.SideTypeSell
	if pos.Side == events.SideShort {
		side = futures.SideTypeBuy
	}
	_, err := c.executor.ExecuteMarketOrder(ctx, MarketOrderRequest{
		Symbol: pos.Symbol, Side: side, ClosePosition: true,
	})
	if err != nil {
		return fmt.Errorf("croupier: close %s (%s) failed: %w", tradeID, reason, err)
	}
	log.Printf("✅ Position %s closed (%s)", tradeID, reason)
	c.tracker.Remove(tradeID)
	return nil
}

// ModifyTP cancels the existing TP leg and submits a fresh one at newTP,
// the exchange has no "amend price" verb for algo stop/TP orders.
func (c *Croupier) ModifyTP(ctx context.Context, tradeID string, newTP float64) error {
	pos := c.tracker.Get(tradeID)
	if pos == nil {
		return fmt.Errorf("croupier: no open position %s", tradeID)
	}
	return c.replaceBracketLeg(ctx, pos, &pos.TPOrderID, true, newTP)
}

// ModifySL cancels the existing SL leg and submits a fresh one at newSL.
func (c *Croupier) ModifySL(ctx context.Context, tradeID string, newSL float64) error {
	pos := c.tracker.Get(tradeID)
	if pos == nil {
		return fmt.Errorf("croupier: no open position %s", tradeID)
	}
	return c.replaceBracketLeg(ctx, pos, &pos.SLOrderID, false, newSL)
}

func (c *Croupier) replaceBracketLeg(ctx context.Context, pos *OpenPosition, orderID *int64, takeProfit bool, price float64) error {
	if *orderID != 0 {
		if err := c.conn.CancelOrder(ctx, pos.Symbol, *orderID); err != nil {
			log.Printf("⚠️ Croupier: cancel of old bracket leg %d (%s) failed, submitting replacement anyway: %v", *orderID, pos.Symbol, err)
		}
	}
	side := futures.SideTypeSell
	if pos.Side == events.SideShort {
		side = futures.SideTypeBuy
	}
	qty := formatPrice(pos.Quantity)
	resp, err := c.executor.ExecuteStopOrder(ctx, StopOrderRequest{
		Symbol: pos.Symbol, Side: side, Amount: qty,
		StopPrice: formatPrice(price), TakeProfit: takeProfit, ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("croupier: replace bracket leg failed: %w", err)
	}
	*orderID = resp.OrderID
	return nil
}

// OnOrderUpdate forwards a normalized order-update event to the bracket
// manager (OCO sibling confirmation); it has no other listener.
func (c *Croupier) OnOrderUpdate(ctx context.Context, u events.OrderUpdate) {
	c.bracket.OnOrderUpdate(ctx, u)
}

// RunReconciliationLoop runs one reconciliation pass immediately and then on
// the given interval until ctx is cancelled, per spec.md §4.10 ("on startup
// and periodically (every 5 min)").
func (c *Croupier) RunReconciliationLoop(ctx context.Context, symbols []string, interval time.Duration) {
	c.reconciler.Run(ctx, symbols)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reconciler.Run(ctx, symbols)
			if c.tracker.IntegrityCheckFailed() {
				log.Printf("⚠️ Reconciliation repaired drift; integrity_check_failed=true")
			}
		}
	}
}

// CleanupSymbol cancels the symbol's open orders through the regular
// cancel-all endpoint, without touching the position; no separate algo-order
// cancel call is made.
func (c *Croupier) CleanupSymbol(ctx context.Context, symbol string) error {
	return c.reconciler.CleanupSymbol(ctx, symbol)
}

// DrainPhase runs one phase of the session-ending progressive exit
// described in spec.md §4.11 ("optimistic", "defensive" or "aggressive";
// any other phase name does nothing). It runs only the phase it is given:
// nothing in cmd/croupier calls it or sequences the phases, and the
// configured drain phase length is not read anywhere.
func (c *Croupier) DrainPhase(ctx context.Context, phase string, aggressiveFraction float64) {
	switch phase {
	case "optimistic":
		c.exitMgr.TriggerSoftExits(ctx)
	case "defensive":
		c.exitMgr.TriggerDefensiveExits(ctx)
	case "aggressive":
		c.exitMgr.TriggerAggressiveExits(ctx, aggressiveFraction)
	}
}

// EmergencySweep cancels every order and, if closeOnExit is set,
// market-closes every open position for every symbol the session ever
// touched. Open breakers are bypassed only if the caller has put the
// ErrorHandler into shutdown mode; the Croupier's own flag does not do it.
// No watchdog or timeout bounds the sweep, here or in cmd/croupier.
func (c *Croupier) EmergencySweep(ctx context.Context, symbols []string, closeOnExit bool) {
	c.SetShutdownMode(true)
	for _, sym := range symbols {
		if err := c.CleanupSymbol(ctx, sym); err != nil {
			log.Printf("⚠️ Emergency sweep: cleanup failed for %s: %v", sym, err)
		}
	}
	if !closeOnExit {
		return
	}
	for _, pos := range c.tracker.GetOpenPositions() {
		if err := c.ClosePosition(ctx, pos.TradeID, "EMERGENCY_SWEEP"); err != nil {
			log.Printf("❌ Emergency sweep: close failed for %s, falling back to tiered close: %v", pos.TradeID, err)
			c.fallbackClose(ctx, pos)
		}
	}
}

// fallbackClose implements the tiered fallback from spec.md §7: MARKET ->
// aggressive LIMIT at +-5% of mark -> LIMIT at the parsed price-band
// boundary. Each tier is tried once. The position stays in the tracker
// whatever the limit tiers return; reconciliation removes it once the
// exchange no longer reports a position for the symbol.
func (c *Croupier) fallbackClose(ctx context.Context, pos *OpenPosition) {
	side := futures.SideTypeSell
	if pos.Side == events.SideShort {
		side = futures.SideTypeBuy
	}
	mark, err := c.conn.LastPrice(ctx, pos.Symbol)
	if err != nil {
		log.Printf("❌ fallback close: could not fetch mark price for %s: %v", pos.Symbol, err)
		return
	}
	aggressive := mark * 1.05
	if side == futures.SideTypeSell {
		aggressive = mark * 0.95
	}
	qty := formatPrice(pos.Quantity)
	if _, err := c.executor.ExecuteLimitOrder(ctx, LimitOrderRequest{
		Symbol: pos.Symbol, Side: side, Amount: qty, Price: formatPrice(aggressive), ClientIDPrefix: "LIMIT",
	}); err != nil {
		log.Printf("⚠️ fallback close: Tier 1 aggressive limit failed for %s, trying Tier 2 (price-band): %v", pos.Symbol, err)
		c.fallbackCloseBand(ctx, pos, side, qty, err)
		return
	}
	log.Printf("✅ fallback close: aggressive limit issued for %s @ %.4f", pos.Symbol, aggressive)
}

// fallbackCloseBand is Tier 2 of the emergency-sweep fallback: parse the
// exchange's -4016 percent-price-band rejection message for the exact
// boundary it quotes and retry a LIMIT there with a 0.1% safety margin,
// a direct port of sweep_exchange.py's regex Tier 2.
func (c *Croupier) fallbackCloseBand(ctx context.Context, pos *OpenPosition, side futures.SideType, qty string, tier1Err error) {
	msg := tier1Err.Error()
	match := priceBandHigherRe.FindStringSubmatch(msg)
	higher := match != nil
	if match == nil {
		match = priceBandLowerRe.FindStringSubmatch(msg)
	}
	if match == nil {
		log.Printf("❌ fallback close: could not parse price band from: %s", msg)
		return
	}
	bandPrice, err := strconv.ParseFloat(strings.TrimRight(match[1], "."), 64)
	if err != nil {
		log.Printf("❌ fallback close: could not parse price band value %q: %v", match[1], err)
		return
	}
	target := bandPrice * 1.001
	if higher {
		target = bandPrice * 0.999
	}
	if _, err := c.executor.ExecuteLimitOrder(ctx, LimitOrderRequest{
		Symbol: pos.Symbol, Side: side, Amount: qty, Price: formatPrice(target), ClientIDPrefix: "LIMIT",
	}); err != nil {
		log.Printf("❌ fallback close: Tier 2 price-band limit failed for %s: %v", pos.Symbol, err)
		return
	}
	log.Printf("✅ fallback close: Tier 2 price-band limit issued for %s @ %.4f", pos.Symbol, target)
}
