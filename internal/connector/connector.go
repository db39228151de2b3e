// Package connector wraps go-binance/v2/futures with the signed-REST,
// clock-sync, precision, listen-key, and hard-reset contract of spec.md
// §4.1. It generalizes execution_service.go's client/symbolInfo idiom
// (FetchExchangeInfo, setMarginType, RoundToPrecision) from a single-shot
// script into a long-lived, reconnect-capable connector.
package connector

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Connector owns the Binance futures REST/WS surface for one account.
type Connector struct {
	client    *futures.Client
	isTestnet bool

	mu          sync.RWMutex
	localOffset int64 // server_time - local_ms, per spec.md §4.1
	symbolInfo  map[string]SymbolFilters

	listenKey string

	onOrderUpdate func(futures.WsUserDataEvent)

	marketConn        *websocket.Conn
	subQueue          []string
	tickQueues        map[string]*tickQueue
	lastMarketMessage time.Time
}

// New builds a Connector against the given credentials. isTestnet switches
// the package-level futures.UseTestnet flag, matching the teacher's
// NewExecutionService idiom.
func New(apiKey, apiSecret string, isTestnet bool) *Connector {
	if isTestnet {
		futures.UseTestnet = true
		log.Println("⚠️ USING BINANCE FUTURES TESTNET URL")
	}
	client := binance.NewFuturesClient(apiKey, apiSecret)
	return &Connector{
		client:     client,
		isTestnet:  isTestnet,
		symbolInfo: make(map[string]SymbolFilters),
		tickQueues: make(map[string]*tickQueue),
	}
}

// Connect performs the full bring-up sequence from spec.md §4.1: clock
// sync, exchange metadata, one-way position mode, listen key. It does not
// start the WS loops itself — the caller starts RunMarketStream,
// RunUserStream and RunSubscriptionWorker separately.
func (c *Connector) Connect(ctx context.Context) error {
	if err := c.syncClock(ctx); err != nil {
		return fmt.Errorf("connect: clock sync failed: %w", err)
	}
	if err := c.FetchExchangeInfo(ctx); err != nil {
		return fmt.Errorf("connect: exchange info failed: %w", err)
	}
	if err := c.client.NewChangePositionModeService().DualSide(false).Do(ctx); err != nil {
		log.Printf("ℹ️ Position Mode: %v", err)
	}
	if _, err := c.ensureListenKey(ctx); err != nil {
		return fmt.Errorf("connect: listen key failed: %w", err)
	}
	log.Println("✅ Connector: connected and ready")
	return nil
}

// syncClock computes local_offset = server_time - local_ms, per spec.md §4.1.
func (c *Connector) syncClock(ctx context.Context) error {
	serverTime, err := c.client.NewServerTimeService().Do(ctx)
	if err != nil {
		return err
	}
	localMs := time.Now().UnixMilli()
	c.mu.Lock()
	c.localOffset = serverTime - localMs
	c.mu.Unlock()
	return nil
}

// now returns the adjusted timestamp used for signed requests.
func (c *Connector) now() int64 {
	c.mu.RLock()
	offset := c.localOffset
	c.mu.RUnlock()
	return time.Now().UnixMilli() + offset
}

// FetchExchangeInfo loads tick_size/step_size/min_notional per symbol,
// generalizing execution_service.go's FetchExchangeInfo to also capture
// MIN_NOTIONAL (the teacher only tracked price/lot filters).
func (c *Connector) FetchExchangeInfo(ctx context.Context) error {
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		filters := SymbolFilters{
			TickSize:    decimal.NewFromFloat(0.01),
			StepSize:    decimal.NewFromFloat(0.001),
			MinNotional: decimal.Zero,
		}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				if v, ok := f["tickSize"].(string); ok {
					if d, err := decimal.NewFromString(v); err == nil {
						filters.TickSize = d
					}
				}
			case "LOT_SIZE":
				if v, ok := f["stepSize"].(string); ok {
					if d, err := decimal.NewFromString(v); err == nil {
						filters.StepSize = d
					}
				}
			case "MIN_NOTIONAL":
				if v, ok := f["notional"].(string); ok {
					if d, err := decimal.NewFromString(v); err == nil {
						filters.MinNotional = d
					}
				}
			}
		}
		c.symbolInfo[s.Symbol] = filters
	}
	log.Printf("✅ Exchange Info Loaded. Symbols tracked: %d", len(c.symbolInfo))
	return nil
}

// Filters returns the cached precision filters for a symbol.
func (c *Connector) Filters(symbol string) (SymbolFilters, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.symbolInfo[symbol]
	return f, ok
}

// SetMarginType forces Isolated margin, tolerating the "already set" error,
// matching execution_service.go's setMarginType.
func (c *Connector) SetMarginType(ctx context.Context, symbol string) error {
	err := c.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(futures.MarginTypeIsolated).Do(ctx)
	if err != nil {
		if isAlreadySetError(err) {
			return nil
		}
		return err
	}
	return nil
}

func isAlreadySetError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "No need to change margin type") ||
		strings.Contains(err.Error(), "-4046"))
}

// SetLeverage sets account leverage for a symbol.
func (c *Connector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return err
}

// ensureListenKey creates the user-data listen key if absent.
func (c *Connector) ensureListenKey(ctx context.Context) (string, error) {
	c.mu.RLock()
	key := c.listenKey
	c.mu.RUnlock()
	if key != "" {
		return key, nil
	}
	key, err := c.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.listenKey = key
	c.mu.Unlock()
	return key, nil
}

// KeepAliveListenKey renews the listen key; call on a 30-minute ticker per
// spec.md §4.1. On `listenKeyExpired`, callers should invoke RecreateListenKey.
func (c *Connector) KeepAliveListenKey(ctx context.Context) error {
	c.mu.RLock()
	key := c.listenKey
	c.mu.RUnlock()
	if key == "" {
		return fmt.Errorf("connector: no listen key to keep alive")
	}
	return c.client.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx)
}

// RecreateListenKey discards the cached key and mints a new one, used when
// the exchange sends a listenKeyExpired user-data event.
func (c *Connector) RecreateListenKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.listenKey = ""
	c.mu.Unlock()
	return c.ensureListenKey(ctx)
}

// OnOrderUpdate registers the callback invoked for every decoded user-data
// event other than listenKeyExpired; the callback filters for
// ORDER_TRADE_UPDATE itself (spec.md §4.1's set_order_update_callback).
func (c *Connector) OnOrderUpdate(fn func(futures.WsUserDataEvent)) {
	c.mu.Lock()
	c.onOrderUpdate = fn
	c.mu.Unlock()
}

// dispatchUserEvent is invoked by the user-data WS loop (owned by the
// Stream Manager) for every decoded event.
func (c *Connector) dispatchUserEvent(event *futures.WsUserDataEvent) {
	c.mu.RLock()
	fn := c.onOrderUpdate
	c.mu.RUnlock()
	if fn != nil {
		fn(*event)
	}
}

// CreateOrder routes to the regular order endpoint. Algo (OCO) routing is
// handled by CreateNativeOCO; STOP_MARKET/TAKE_PROFIT_MARKET still use this
// path since Binance USDT-M futures has no separate algo endpoint for them.
func (c *Connector) CreateOrder(ctx context.Context, req *futures.CreateOrderService) (*futures.CreateOrderResponse, error) {
	return req.Do(ctx)
}

// NewOrderService exposes a fresh order-builder against the underlying
// client, letting internal/croupier compose market/limit/stop requests
// without this package needing to know every order shape in advance.
func (c *Connector) NewOrderService() *futures.CreateOrderService {
	return c.client.NewCreateOrderService()
}

// CancelOrder cancels a single order by exchange id.
func (c *Connector) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := c.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	return err
}

// CancelAllOpenOrders cancels every open order for a symbol, used by
// cleanup_symbol per spec.md §4.10.
func (c *Connector) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	return c.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
}

// ListOpenOrders returns the exchange's live open orders for a symbol.
func (c *Connector) ListOpenOrders(ctx context.Context, symbol string) ([]*futures.Order, error) {
	return c.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
}

// GetPositionRisk returns the exchange's current position for a symbol.
func (c *Connector) GetPositionRisk(ctx context.Context, symbol string) ([]*futures.PositionRisk, error) {
	return c.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
}

// BookTicker returns the current best bid/ask for a symbol.
func (c *Connector) BookTicker(ctx context.Context, symbol string) (*futures.BookTicker, error) {
	res, err := c.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("connector: empty book ticker response for %s", symbol)
	}
	return res[0], nil
}

// LastPrice returns the last traded price for a symbol.
func (c *Connector) LastPrice(ctx context.Context, symbol string) (float64, error) {
	res, err := c.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("connector: empty price response for %s", symbol)
	}
	return strconv.ParseFloat(res[0].Price, 64)
}

// Account returns the futures account snapshot (balances + positions).
func (c *Connector) Account(ctx context.Context) (*futures.Account, error) {
	return c.client.NewGetAccountService().Do(ctx)
}

// AwaitPositionVisible polls position risk until the position is non-zero
// or the window elapses, implementing the auto-resync semantics for
// ReduceOnly submissions rejected with -2022/-4118 (spec.md §4.1): poll for
// up to `window` at `every` cadence.
func (c *Connector) AwaitPositionVisible(ctx context.Context, symbol string, window, every time.Duration) (bool, error) {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		positions, err := c.GetPositionRisk(ctx, symbol)
		if err == nil {
			for _, p := range positions {
				amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
				if amt != 0 {
					return true, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(every):
		}
	}
	return false, nil
}

// HardReset drains connector-local state (listen key, open websocket
// connections) and re-establishes the session, per spec.md §4.1's
// hard_reset(). The Stream Manager is responsible for restarting its own
// loops afterward.
func (c *Connector) HardReset(ctx context.Context) error {
	log.Println("🔄 Connector: hard reset initiated")
	c.mu.Lock()
	c.listenKey = ""
	if c.marketConn != nil {
		c.marketConn.Close()
		c.marketConn = nil
	}
	c.mu.Unlock()

	time.Sleep(1 * time.Second)
	return c.Connect(ctx)
}
