package connector

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/sentinel-systems/croupier/internal/events"
)

// OCOResult carries the two child order ids returned by a native bracket
// submission, per spec.md §4.9.
type OCOResult struct {
	ExchangeTPID int64
	ExchangeSLID int64
}

// CreateNativeOCO submits the take-profit/stop-loss pair as a single
// algo-order group. go-binance/v2/futures has no dedicated OCO algo
// endpoint for USDT-M, so this submits TAKE_PROFIT_MARKET and STOP_MARKET
// reduce-only orders back to back and returns both ids — the OCO Manager
// treats the pair as logically linked and cancels the sibling on a fill.
func (c *Connector) CreateNativeOCO(ctx context.Context, symbol string, side futures.SideType, quantity string, tpPrice, slPrice string, tpClientID, slClientID string) (*OCOResult, error) {
	closeSide := futures.SideTypeSell
	if side == futures.SideTypeSell {
		closeSide = futures.SideTypeBuy
	}

	tpOrder, err := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(closeSide).
		Type(futures.OrderTypeTakeProfitMarket).
		StopPrice(tpPrice).
		WorkingType(futures.WorkingTypeMarkPrice).
		ReduceOnly(true).
		Quantity(quantity).
		NewClientOrderID(tpClientID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("create native oco: take-profit leg failed: %w", err)
	}

	slOrder, err := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(closeSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(slPrice).
		WorkingType(futures.WorkingTypeMarkPrice).
		ReduceOnly(true).
		Quantity(quantity).
		NewClientOrderID(slClientID).
		Do(ctx)
	if err != nil {
		// Best-effort cleanup of the orphaned TP leg; caller still treats
		// this as a bracket failure and falls back to a market close.
		_ = c.CancelOrder(ctx, symbol, tpOrder.OrderID)
		return nil, fmt.Errorf("create native oco: stop-loss leg failed: %w", err)
	}

	return &OCOResult{ExchangeTPID: tpOrder.OrderID, ExchangeSLID: slOrder.OrderID}, nil
}

// NormalizeOrderUpdate converts a raw user-data order-trade-update event
// into the bus's typed OrderUpdate record.
func NormalizeOrderUpdate(e futures.WsOrderTradeUpdate) events.OrderUpdate {
	avgPrice, _ := parseFloatSafe(e.AveragePrice)
	filledQty, _ := parseFloatSafe(e.AccumulateFilledQty)
	return events.OrderUpdate{
		Symbol:        e.Symbol,
		ClientOrderID: e.ClientOrderID,
		ExchangeID:    e.ID,
		Status:        string(e.Status),
		Side:          string(e.Side),
		AvgPrice:      avgPrice,
		FilledQty:     filledQty,
	}
}

func parseFloatSafe(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}
