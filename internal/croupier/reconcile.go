package croupier

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/sentinel-systems/croupier/internal/connector"
	"github.com/sentinel-systems/croupier/internal/events"
	"github.com/sentinel-systems/croupier/internal/resilience"
)

// Reconciler periodically compares the local Tracker against exchange
// truth and repairs drift, a direct port of spec.md §4.10's reconciliation
// contract (adopt / ghost / repair).
type Reconciler struct {
	conn    *connector.Connector
	tracker *Tracker
	limiter *resilience.BinanceRateLimiter
}

// NewReconciler builds a Reconciler over the shared connector and tracker.
// limiter may be nil to disable the account-endpoint token bucket.
func NewReconciler(conn *connector.Connector, tracker *Tracker, limiter *resilience.BinanceRateLimiter) *Reconciler {
	return &Reconciler{conn: conn, tracker: tracker, limiter: limiter}
}

func (r *Reconciler) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Acquire(ctx, resilience.EndpointAccount)
}

// Run executes one reconciliation pass across the given symbols: fetch
// exchange positions/orders, adopt untracked exchange positions, ghost
// tracked positions with no exchange counterpart, and repair tracked
// positions whose bracket order ids no longer match the exchange.
func (r *Reconciler) Run(ctx context.Context, symbols []string) {
	repaired := false

	exchangePositions := make(map[string]*futures.PositionRisk)
	for _, sym := range symbols {
		if err := r.acquire(ctx); err != nil {
			log.Printf("⚠️ Reconcile: rate limiter: %v", err)
			continue
		}
		risks, err := r.conn.GetPositionRisk(ctx, sym)
		if err != nil {
			log.Printf("⚠️ Reconcile: position risk fetch failed for %s: %v", sym, err)
			continue
		}
		for _, p := range risks {
			amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
			if amt != 0 {
				exchangePositions[sym] = p
			}
		}
	}

	tracked := make(map[string]*OpenPosition)
	for _, p := range r.tracker.GetOpenPositions() {
		tracked[p.Symbol] = p
	}

	// Adopt: exchange has a position we don't know about.
	for sym, risk := range exchangePositions {
		if _, ok := tracked[sym]; ok {
			continue
		}
		pos := r.adopt(ctx, sym, risk)
		if pos != nil {
			r.tracker.Register(pos)
			log.Printf("🧩 Adopted orphan position %s from exchange", sym)
			repaired = true
		}
	}

	// Ghost: tracker has a position the exchange no longer carries.
	for sym, pos := range tracked {
		if _, ok := exchangePositions[sym]; !ok {
			log.Printf("👻 Ghosting %s: exchange has no matching position", sym)
			r.tracker.Remove(pos.TradeID)
			repaired = true
		}
	}

	// Repair: bracket order ids no longer found among open orders.
	for sym, pos := range tracked {
		if _, ok := exchangePositions[sym]; !ok {
			continue
		}
		open, err := r.conn.ListOpenOrders(ctx, sym)
		if err != nil {
			continue
		}
		tpFound, slFound := false, false
		var tpOrder, slOrder *futures.Order
		for _, o := range open {
			if o.OrderID == pos.TPOrderID {
				tpFound = true
			}
			if o.OrderID == pos.SLOrderID {
				slFound = true
			}
			if o.Type == futures.OrderTypeTakeProfitMarket {
				tpOrder = o
			}
			if o.Type == futures.OrderTypeStopMarket {
				slOrder = o
			}
		}
		if !tpFound && tpOrder != nil {
			pos.TPOrderID = tpOrder.OrderID
			repaired = true
		}
		if !slFound && slOrder != nil {
			pos.SLOrderID = slOrder.OrderID
			repaired = true
		}
	}

	r.tracker.SetIntegrityCheckFailed(repaired)
}

func (r *Reconciler) adopt(ctx context.Context, symbol string, risk *futures.PositionRisk) *OpenPosition {
	amt, _ := strconv.ParseFloat(risk.PositionAmt, 64)
	entry, _ := strconv.ParseFloat(risk.EntryPrice, 64)

	side := events.SideLong
	if amt < 0 {
		side = events.SideShort
		amt = -amt
	}

	open, err := r.conn.ListOpenOrders(ctx, symbol)
	if err != nil {
		open = nil
	}
	var tpID, slID int64
	var tpPrice, slPrice float64
	for _, o := range open {
		switch o.Type {
		case futures.OrderTypeTakeProfitMarket:
			tpID = o.OrderID
			tpPrice, _ = strconv.ParseFloat(o.StopPrice, 64)
		case futures.OrderTypeStopMarket:
			slID = o.OrderID
			slPrice, _ = strconv.ParseFloat(o.StopPrice, 64)
		}
	}

	return &OpenPosition{
		TradeID:    "ADOPTED_" + symbol,
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		Quantity:   amt,
		Notional:   entry * amt,
		TPLevel:    tpPrice,
		SLLevel:    slPrice,
		TPOrderID:  tpID,
		SLOrderID:  slID,
		OpenedAt:   time.Now(),
	}
}

// CleanupSymbol cancels the symbol's open orders with one CancelAllOpenOrders
// call (the regular endpoint) without touching the position itself; no
// separate algo-order cancel call is made.
func (r *Reconciler) CleanupSymbol(ctx context.Context, symbol string) error {
	if err := r.conn.CancelAllOpenOrders(ctx, symbol); err != nil {
		return err
	}
	return nil
}
