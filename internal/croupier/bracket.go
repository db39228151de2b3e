package croupier

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/sentinel-systems/croupier/internal/connector"
	"github.com/sentinel-systems/croupier/internal/events"
)

// BracketManager submits the entry + native-OCO-equivalent TP/SL legs for
// a Decision and registers the resulting position atomically, per
// spec.md §4.9.
type BracketManager struct {
	conn     *connector.Connector
	executor *OrderExecutor
	tracker  *Tracker
}

// NewBracketManager wires a BracketManager over the shared connector,
// order executor, and position tracker.
func NewBracketManager(conn *connector.Connector, executor *OrderExecutor, tracker *Tracker) *BracketManager {
	return &BracketManager{conn: conn, executor: executor, tracker: tracker}
}

// OpenFromDecision executes the full entry->bracket->register sequence.
// On bracket failure it immediately market-closes the filled quantity
// rather than leaving a naked position.
func (b *BracketManager) OpenFromDecision(ctx context.Context, d events.Decision, amount string, tpPct, slPct float64) error {
	side := futures.SideTypeBuy
	if d.Side == events.SideShort {
		side = futures.SideTypeSell
	}

	entryClientID := fmt.Sprintf("C3_ENTRY_%s", shortUUID())
	entryResp, err := b.executor.ExecuteMarketOrder(ctx, MarketOrderRequest{
		Symbol: d.Symbol, Side: side, Amount: amount, ClientOrderID: entryClientID,
	})
	if err != nil {
		return fmt.Errorf("bracket: entry order failed: %w", err)
	}

	fillPrice, err := b.resolveFillPrice(ctx, d.Symbol, entryResp)
	if err != nil {
		return fmt.Errorf("bracket: could not resolve fill price: %w", err)
	}

	tpPrice, slPrice := computeBracketPrices(d.Side, fillPrice, tpPct, slPct)

	tpClientID := fmt.Sprintf("C3_TP_%s", shortUUID())
	slClientID := fmt.Sprintf("C3_STOP_%s", shortUUID())

	oco, err := b.conn.CreateNativeOCO(ctx, d.Symbol, side, amount,
		formatPrice(tpPrice), formatPrice(slPrice), tpClientID, slClientID)
	if err != nil {
		log.Printf("❌ Bracket submission failed for %s, closing filled entry at market: %v", d.Symbol, err)
		if _, closeErr := b.executor.ExecuteMarketOrder(ctx, MarketOrderRequest{
			Symbol: d.Symbol, Side: oppositeSide(side), ClosePosition: true,
		}); closeErr != nil {
			return fmt.Errorf("bracket: failed AND fallback close failed: %v / %w", err, closeErr)
		}
		return fmt.Errorf("bracket: failed, fallback close issued: %w", err)
	}

	qty, _ := parseAmount(amount)
	pos := &OpenPosition{
		TradeID:            d.DecisionID,
		Symbol:             d.Symbol,
		Side:               d.Side,
		EntryPrice:         fillPrice,
		Quantity:           qty,
		Notional:           qty * fillPrice,
		TPLevel:            tpPrice,
		SLLevel:            slPrice,
		TPOrderID:          oco.ExchangeTPID,
		SLOrderID:          oco.ExchangeSLID,
		SelectedSensor:     d.SelectedSensor,
		OpenedAt:           time.Now(),
		OriginalTPDistance: absFloat(tpPrice - fillPrice),
	}
	b.tracker.Register(pos)
	log.Printf("✅ Position opened: %s %s qty=%s entry=%.4f tp=%.4f sl=%.4f",
		pos.Symbol, pos.Side, amount, fillPrice, tpPrice, slPrice)
	return nil
}

// OnOrderUpdate confirms OCO sibling cancellation: when one bracket child
// fills, the exchange should auto-cancel the other. If it's still open
// after a short grace period, this issues an explicit cancel.
func (b *BracketManager) OnOrderUpdate(ctx context.Context, u events.OrderUpdate) {
	if u.Status != "FILLED" {
		return
	}
	for _, pos := range b.tracker.GetOpenPositions() {
		if pos.Symbol != u.Symbol {
			continue
		}
		var sibling int64
		switch u.ExchangeID {
		case pos.TPOrderID:
			sibling = pos.SLOrderID
		case pos.SLOrderID:
			sibling = pos.TPOrderID
		default:
			continue
		}
		if sibling == 0 {
			continue
		}
		go b.confirmSiblingCanceled(ctx, pos.Symbol, sibling)
		b.tracker.Remove(pos.TradeID)
	}
}

func (b *BracketManager) confirmSiblingCanceled(ctx context.Context, symbol string, siblingOrderID int64) {
	time.Sleep(500 * time.Millisecond)
	open, err := b.conn.ListOpenOrders(ctx, symbol)
	if err != nil {
		return
	}
	for _, o := range open {
		if o.OrderID == siblingOrderID {
			if cancelErr := b.conn.CancelOrder(ctx, symbol, siblingOrderID); cancelErr != nil {
				log.Printf("⚠️ Failed to cancel surviving bracket sibling %d on %s: %v", siblingOrderID, symbol, cancelErr)
			}
			return
		}
	}
}

func (b *BracketManager) resolveFillPrice(ctx context.Context, symbol string, resp *futures.CreateOrderResponse) (float64, error) {
	if resp != nil {
		if p, err := parseAmount(resp.AvgPrice); err == nil && p > 0 {
			return p, nil
		}
	}
	return b.conn.LastPrice(ctx, symbol)
}

func computeBracketPrices(side events.Side, entry float64, tpPct, slPct float64) (tp, sl float64) {
	if side == events.SideLong {
		return entry * (1 + tpPct), entry * (1 - slPct)
	}
	return entry * (1 - tpPct), entry * (1 + slPct)
}

func oppositeSide(side futures.SideType) futures.SideType {
	if side == futures.SideTypeBuy {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func shortUUID() string {
	id := uuid.New().String()
	out := make([]byte, 0, 12)
	for _, c := range id {
		if c == '-' {
			continue
		}
		out = append(out, byte(c))
		if len(out) == 12 {
			break
		}
	}
	return string(out)
}

func formatPrice(p float64) string {
	return fmt.Sprintf("%.8f", p)
}

func parseAmount(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
