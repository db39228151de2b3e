// Market-data websocket plumbing: the combined-stream dial loop and the
// throttled subscription worker from spec.md §4.1, generalized from
// main.go's BinanceFutures.Start (raw gorilla/websocket dial against
// wss://fstream.binance.com/stream?streams=...) into a long-lived
// connector that subscribes dynamically instead of baking the symbol list
// into the URL.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sentinel-systems/croupier/internal/events"
)

const marketStreamBaseMainnet = "wss://fstream.binance.com/stream"
const marketStreamBaseTestnet = "wss://fstream.binancefuture.com/stream"

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type aggTradePayload struct {
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	IsBuyerMM bool   `json:"m"` // true: aggressive sell hit the bid (spec.md §3 BID)
	TradeTime int64  `json:"T"`
}

// tickQueue is a bounded, single-consumer-per-symbol queue; a full queue
// drops the oldest tick rather than blocking the reader socket, per spec.md
// §5's backpressure policy for non-critical queues.
type tickQueue struct {
	mu   sync.Mutex
	buf  []events.Tick
	cond *sync.Cond
}

func newTickQueue() *tickQueue {
	q := &tickQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *tickQueue) push(t events.Tick) {
	q.mu.Lock()
	if len(q.buf) >= 500 {
		q.buf = q.buf[1:]
	}
	q.buf = append(q.buf, t)
	q.cond.Signal()
	q.mu.Unlock()
}

// waitFor blocks for up to timeout for a tick, returning (tick, true) or
// (zero, false) on timeout — the Go equivalent of wait_for-wrapped WS reads.
func (q *tickQueue) waitFor(ctx context.Context, timeout time.Duration) (events.Tick, bool) {
	done := make(chan struct{})
	var t events.Tick
	var ok bool
	go func() {
		q.mu.Lock()
		for len(q.buf) == 0 {
			q.cond.Wait()
		}
		t = q.buf[0]
		q.buf = q.buf[1:]
		ok = true
		q.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return t, ok
	case <-time.After(timeout):
		return events.Tick{}, false
	case <-ctx.Done():
		return events.Tick{}, false
	}
}

// marketStreamURL picks the combined-stream base for the configured network.
func (c *Connector) marketStreamURL() string {
	if c.isTestnet {
		return marketStreamBaseTestnet + "?streams=bookTicker"
	}
	return marketStreamBaseMainnet + "?streams=bookTicker"
}

// SubscribeTrades enqueues an aggTrade stream subscription for a symbol,
// fed to the throttled subscription worker per spec.md §4.1.
func (c *Connector) SubscribeTrades(symbol string) {
	c.enqueueSubscription(strings.ToLower(symbol) + "@aggTrade")
}

// SubscribeTicker enqueues a bookTicker subscription for a symbol.
func (c *Connector) SubscribeTicker(symbol string) {
	c.enqueueSubscription(strings.ToLower(symbol) + "@bookTicker")
}

// SubscribeOrderBook enqueues a partial-depth subscription for a symbol.
func (c *Connector) SubscribeOrderBook(symbol string) {
	c.enqueueSubscription(strings.ToLower(symbol) + "@depth5@100ms")
}

func (c *Connector) enqueueSubscription(stream string) {
	c.mu.Lock()
	c.subQueue = append(c.subQueue, stream)
	c.mu.Unlock()
}

// RunSubscriptionWorker is the "critical throttle" from spec.md §4.1: each
// cycle dequeues up to batchSize streams, sends one SUBSCRIBE frame carrying
// all of them, then waits at least delay. If the market socket is down it
// re-enqueues the batch and pauses 1s.
func (c *Connector) RunSubscriptionWorker(ctx context.Context, batchSize int, delay time.Duration) {
	if batchSize <= 0 {
		batchSize = 20
	}
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	id := 1
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		n := batchSize
		if n > len(c.subQueue) {
			n = len(c.subQueue)
		}
		batch := append([]string(nil), c.subQueue[:n]...)
		c.subQueue = c.subQueue[n:]
		conn := c.marketConn
		c.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		if conn == nil {
			c.mu.Lock()
			c.subQueue = append(batch, c.subQueue...)
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		frame := map[string]interface{}{"method": "SUBSCRIBE", "params": batch, "id": id}
		id++
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("⚠️ subscription worker: write failed, re-queuing %d streams: %v", len(batch), err)
			c.mu.Lock()
			c.subQueue = append(batch, c.subQueue...)
			c.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// RunMarketStream dials the combined-stream endpoint and keeps it open
// until ctx is cancelled or the connection drops, in which case it returns
// an error so the Stream Manager's loop in internal/streammgr can apply
// backoff and retry. Decoded aggTrade messages are normalized into
// events.Tick and pushed onto the per-symbol queue consumed by WatchTrades.
func (c *Connector) RunMarketStream(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.Dial(c.marketStreamURL(), nil)
	if err != nil {
		return fmt.Errorf("market stream dial: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.marketConn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.marketConn == conn {
			c.marketConn = nil
		}
		c.mu.Unlock()
	}()

	log.Println("🔌 Connector: market data stream connected")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("market stream read: %w", err)
		}
		c.touchMarketMessage()

		var msg combinedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if !strings.Contains(msg.Stream, "aggTrade") {
			continue
		}
		var payload aggTradePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			continue
		}
		price, _ := strconv.ParseFloat(payload.Price, 64)
		qty, _ := strconv.ParseFloat(payload.Quantity, 64)
		side := events.TickASK
		if payload.IsBuyerMM {
			side = events.TickBID
		}
		symbol := strings.ToUpper(strings.SplitN(msg.Stream, "@", 2)[0])
		tick := events.Tick{
			Timestamp: float64(payload.TradeTime) / 1000.0,
			Symbol:    symbol,
			Price:     price,
			Volume:    qty,
			Side:      side,
		}
		c.queueFor(symbol).push(tick)
	}
}

func (c *Connector) queueFor(symbol string) *tickQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.tickQueues[symbol]
	if !ok {
		q = newTickQueue()
		c.tickQueues[symbol] = q
	}
	return q
}

func (c *Connector) touchMarketMessage() {
	c.mu.Lock()
	c.lastMarketMessage = time.Now()
	c.mu.Unlock()
}

// WatchTrades is a streammgr.WatchFunc: it blocks for up to timeout waiting
// for the next tick on symbol's queue and invokes onTick, matching
// watch_trades' "blocking consumer of internal per-symbol queue" contract
// (spec.md §4.1). It returns nil on a delivered tick (resets the stream
// manager's backoff) and an error on timeout (counts as a failure).
func (c *Connector) WatchTrades(ctx context.Context, symbol string, timeout time.Duration, onTick func(events.Tick)) error {
	t, ok := c.queueFor(symbol).waitFor(ctx, timeout)
	if !ok {
		return fmt.Errorf("watch_trades: timed out waiting for %s", symbol)
	}
	onTick(t)
	return nil
}

// EnsureWebSocket restarts the market stream if its last message exceeds
// staleThreshold, the behavior StreamManager's health-check heartbeat
// expects from spec.md §4.2 ("pings connector.ensure_websocket()").
func (c *Connector) EnsureWebSocket(ctx context.Context, staleThreshold time.Duration) {
	c.mu.RLock()
	last := c.lastMarketMessage
	conn := c.marketConn
	c.mu.RUnlock()
	if conn != nil && time.Since(last) < staleThreshold {
		return
	}
	log.Println("⚠️ Connector: market stream stale, forcing reconnect")
	c.mu.Lock()
	if c.marketConn != nil {
		c.marketConn.Close()
		c.marketConn = nil
	}
	c.mu.Unlock()
}
