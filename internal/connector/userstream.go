package connector

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// RunUserStream opens the listen-key user-data stream via the SDK's own
// WsUserDataServe helper (the same built-in serve/reconnect idiom the pack
// uses for WsKlineServe) and funnels every decoded event to
// dispatchUserEvent. It returns when the stream is closed or ctx is
// cancelled, letting internal/streammgr's reconnect loop drive retries the
// same way it drives the raw market-data dial in stream.go.
func (c *Connector) RunUserStream(ctx context.Context) error {
	c.mu.RLock()
	key := c.listenKey
	c.mu.RUnlock()
	if key == "" {
		return fmt.Errorf("connector: no listen key for user stream")
	}

	errCh := make(chan error, 1)
	handler := func(event *futures.WsUserDataEvent) {
		if event.Event == "listenKeyExpired" {
			log.Println("⚠️ Connector: listen key expired, recreating")
			if _, err := c.RecreateListenKey(ctx); err != nil {
				log.Printf("❌ Connector: listen key recreation failed: %v", err)
			}
			return
		}
		c.dispatchUserEvent(event)
	}
	errHandler := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	done, stop, err := futures.WsUserDataServe(key, handler, errHandler)
	if err != nil {
		return fmt.Errorf("user stream serve: %w", err)
	}

	log.Println("🔌 Connector: user data stream connected")

	select {
	case <-ctx.Done():
		close(stop)
		return nil
	case err := <-errCh:
		close(stop)
		return fmt.Errorf("user stream error: %w", err)
	case <-done:
		return fmt.Errorf("user stream closed")
	}
}

// RunListenKeyKeepalive renews the listen key every interval (30 minutes
// per spec.md §4.1) until ctx is cancelled.
func (c *Connector) RunListenKeyKeepalive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.KeepAliveListenKey(ctx); err != nil {
				log.Printf("⚠️ Connector: listen key keepalive failed: %v", err)
			}
		}
	}
}
