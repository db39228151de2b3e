package croupier

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/sentinel-systems/croupier/internal/connector"
	"github.com/sentinel-systems/croupier/internal/resilience"
)

// OrderExecutor validates and submits orders through the resilience layer;
// amount and price strings are sent as the caller formatted them, with no
// precision rounding here. A port of order_executor.py's
// execute_market_order/execute_limit_order/execute_stop_order.
type OrderExecutor struct {
	conn     *connector.Connector
	errs     *resilience.ErrorHandler
	limiter  *resilience.BinanceRateLimiter
	retryCfg resilience.RetryConfig
}

// NewOrderExecutor builds an OrderExecutor over the given connector,
// shared error handler (which owns the "exchange_orders" breaker), and
// rate limiter. limiter may be nil to disable the orders-endpoint token
// bucket.
func NewOrderExecutor(conn *connector.Connector, errs *resilience.ErrorHandler, limiter *resilience.BinanceRateLimiter) *OrderExecutor {
	return &OrderExecutor{
		conn:    conn,
		errs:    errs,
		limiter: limiter,
		retryCfg: resilience.RetryConfig{
			MaxRetries:    3,
			BackoffBase:   resilience.DefaultRetryConfig().BackoffBase,
			BackoffMax:    resilience.DefaultRetryConfig().BackoffMax,
			BackoffFactor: 2.0,
			Jitter:        true,
		},
	}
}

// acquire waits for an orders-endpoint token before a submission, per
// spec.md §4.14; starvation past the limiter's safety timeout is a
// systemic failure, not a retriable one, so it's returned directly.
func (e *OrderExecutor) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Acquire(ctx, resilience.EndpointOrders)
}

// ensureClientOrderID builds "C3_{PREFIX}_{uuid12}" when none is supplied,
// mirroring _ensure_client_order_id's don't-overwrite semantics exactly.
func ensureClientOrderID(existing, prefix string) string {
	if existing != "" {
		return existing
	}
	if prefix == "" {
		prefix = "ENTRY"
	}
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("C3_%s_%s", prefix, id[:12])
}

// MarketOrderRequest describes a market order; Amount is submitted as given.
type MarketOrderRequest struct {
	Symbol        string
	Side          futures.SideType
	Amount        string // pre-rounded quantity as decimal string
	ClientOrderID string
	ReduceOnly    bool
	ClosePosition bool
}

// ExecuteMarketOrder validates and submits a market order without rounding
// its amount, mirroring execute_market_order: amount > 0 unless
// close_position=true.
func (e *OrderExecutor) ExecuteMarketOrder(ctx context.Context, req MarketOrderRequest) (*futures.CreateOrderResponse, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("execute_market_order: symbol required")
	}
	if req.Side != futures.SideTypeBuy && req.Side != futures.SideTypeSell {
		return nil, fmt.Errorf("execute_market_order: side must be BUY or SELL")
	}
	if !req.ClosePosition && req.Amount == "" {
		return nil, fmt.Errorf("execute_market_order: amount required unless closePosition")
	}

	clientID := ensureClientOrderID(req.ClientOrderID, "ENTRY")
	log.Printf("📤 Executing market order: %s %s %s | ID: %s", req.Side, req.Amount, req.Symbol, clientID)

	if err := e.acquire(ctx); err != nil {
		return nil, fmt.Errorf("execute_market_order: rate limiter: %w", err)
	}

	var resp *futures.CreateOrderResponse
	err := e.errs.ExecuteWithBreaker("exchange_orders", func() error {
		svc := e.conn.NewOrderService().
			Symbol(req.Symbol).
			Side(req.Side).
			Type(futures.OrderTypeMarket).
			NewClientOrderID(clientID)
		if req.ClosePosition {
			svc = svc.ClosePosition(true)
		} else {
			svc = svc.Quantity(req.Amount)
		}
		if req.ReduceOnly && !req.ClosePosition {
			svc = svc.ReduceOnly(true)
		}
		out, doErr := svc.Do(ctx)
		if doErr != nil {
			return doErr
		}
		resp = out
		return nil
	}, e.retryCfg)
	return resp, err
}

// LimitOrderRequest describes a limit order prior to submission.
type LimitOrderRequest struct {
	Symbol        string
	Side          futures.SideType
	Amount        string
	Price         string
	ClientOrderID string
	ClientIDPrefix string
	PostOnly      bool
}

// ExecuteLimitOrder validates and submits a limit (optionally GTX
// post-only) order, mirroring execute_limit_order.
func (e *OrderExecutor) ExecuteLimitOrder(ctx context.Context, req LimitOrderRequest) (*futures.CreateOrderResponse, error) {
	if req.Symbol == "" || req.Amount == "" || req.Price == "" {
		return nil, fmt.Errorf("execute_limit_order: symbol, amount, and price are required")
	}
	prefix := req.ClientIDPrefix
	if prefix == "" {
		prefix = "LIMIT"
	}
	clientID := ensureClientOrderID(req.ClientOrderID, prefix)
	log.Printf("📤 Executing limit order: %s %s %s @ %s | ID: %s", req.Side, req.Amount, req.Symbol, req.Price, clientID)

	tif := futures.TimeInForceTypeGTC
	if req.PostOnly {
		tif = futures.TimeInForceTypeGTX
	}

	if err := e.acquire(ctx); err != nil {
		return nil, fmt.Errorf("execute_limit_order: rate limiter: %w", err)
	}

	var resp *futures.CreateOrderResponse
	err := e.errs.ExecuteWithBreaker("exchange_orders", func() error {
		svc := e.conn.NewOrderService().
			Symbol(req.Symbol).
			Side(req.Side).
			Type(futures.OrderTypeLimit).
			TimeInForce(tif).
			Quantity(req.Amount).
			Price(req.Price).
			NewClientOrderID(clientID)
		out, doErr := svc.Do(ctx)
		if doErr != nil {
			return doErr
		}
		resp = out
		return nil
	}, e.retryCfg)
	return resp, err
}

// StopOrderRequest describes a stop/take-profit market order.
type StopOrderRequest struct {
	Symbol         string
	Side           futures.SideType
	Amount         string
	StopPrice      string
	TakeProfit     bool // true => TAKE_PROFIT_MARKET, false => STOP_MARKET
	ReduceOnly     bool
	ClientOrderID  string
	ClientIDPrefix string
}

// ExecuteStopOrder validates and submits a STOP_MARKET/TAKE_PROFIT_MARKET
// order, mirroring execute_stop_order.
func (e *OrderExecutor) ExecuteStopOrder(ctx context.Context, req StopOrderRequest) (*futures.CreateOrderResponse, error) {
	if req.Symbol == "" || req.StopPrice == "" {
		return nil, fmt.Errorf("execute_stop_order: symbol and stopPrice are required")
	}
	prefix := req.ClientIDPrefix
	if prefix == "" {
		if req.TakeProfit {
			prefix = "TP"
		} else {
			prefix = "STOP"
		}
	}
	clientID := ensureClientOrderID(req.ClientOrderID, prefix)
	log.Printf("📤 Executing stop order: %s %s %s @ stop %s | ID: %s", req.Side, req.Amount, req.Symbol, req.StopPrice, clientID)

	orderType := futures.OrderTypeStopMarket
	if req.TakeProfit {
		orderType = futures.OrderTypeTakeProfitMarket
	}

	if err := e.acquire(ctx); err != nil {
		return nil, fmt.Errorf("execute_stop_order: rate limiter: %w", err)
	}

	var resp *futures.CreateOrderResponse
	err := e.errs.ExecuteWithBreaker("exchange_orders", func() error {
		svc := e.conn.NewOrderService().
			Symbol(req.Symbol).
			Side(req.Side).
			Type(orderType).
			StopPrice(req.StopPrice).
			WorkingType(futures.WorkingTypeMarkPrice).
			NewClientOrderID(clientID)
		if req.Amount != "" {
			svc = svc.Quantity(req.Amount)
		}
		if req.ReduceOnly {
			svc = svc.ReduceOnly(true)
		}
		out, doErr := svc.Do(ctx)
		if doErr != nil {
			return doErr
		}
		resp = out
		return nil
	}, e.retryCfg)
	return resp, err
}
