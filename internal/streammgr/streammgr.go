// Package streammgr runs one reconnect loop per (symbol, stream_kind),
// generalizing the teacher's per-exchange Start/StartLiquidations retry
// loops (liquidation_monitor.go) into a single generic loop with
// jpillora/backoff exponential backoff and the disabled-set escalation
// described in spec.md §4.2.
package streammgr

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// Kind enumerates the stream kinds a symbol can subscribe to.
type Kind string

const (
	KindTicker    Kind = "ticker"
	KindOrderBook Kind = "orderbook"
	KindTrades    Kind = "trades"
)

// WatchFunc runs one blocking subscription attempt; it should return when
// the stream disconnects or the context is cancelled. It takes no timeout;
// any per-attempt timeout lives inside the function itself.
type WatchFunc func(ctx context.Context, symbol string) error

// HardResetFunc triggers connector.hard_reset() escalation.
type HardResetFunc func(ctx context.Context) error

// Manager coordinates one loop per (symbol, kind) plus a watchdog.
type Manager struct {
	mu           sync.Mutex
	disabled     map[string]bool // "symbol|kind" -> disabled
	failCounts   map[string]int
	lastMessage  map[string]time.Time
	disableEscal int
	hardReset    HardResetFunc

	wg sync.WaitGroup
}

// NewManager builds a Manager. disableEscalation is the disabled-set size
// (default 3 per spec.md §4.2) that triggers a hard reset.
func NewManager(disableEscalation int, hardReset HardResetFunc) *Manager {
	if disableEscalation <= 0 {
		disableEscalation = 3
	}
	return &Manager{
		disabled:     make(map[string]bool),
		failCounts:   make(map[string]int),
		lastMessage:  make(map[string]time.Time),
		disableEscal: disableEscalation,
		hardReset:    hardReset,
	}
}

func key(symbol string, kind Kind) string { return symbol + "|" + string(kind) }

// Start launches the reconnect loop for one (symbol, kind). failThreshold
// is the consecutive-failure count (default 10) that disables the stream.
// Start applies no per-attempt timeout; watch must bound itself.
func (m *Manager) Start(ctx context.Context, symbol string, kind Kind, failThreshold int, watch WatchFunc) {
	if failThreshold <= 0 {
		failThreshold = 10
	}
	m.wg.Add(1)
	go m.loop(ctx, symbol, kind, failThreshold, watch)
}

func (m *Manager) loop(ctx context.Context, symbol string, kind Kind, failThreshold int, watch WatchFunc) {
	defer m.wg.Done()
	k := key(symbol, kind)
	b := &backoff.Backoff{
		Min:    1 * time.Second,
		Max:    60 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := watch(ctx, symbol)
		m.touch(k)

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			b.Reset()
			m.resetFailures(k)
			continue
		}

		m.mu.Lock()
		m.failCounts[k]++
		failures := m.failCounts[k]
		m.mu.Unlock()

		delay := b.Duration()
		log.Printf("⚠️ stream %s: failure %d/%d, reconnecting in %s: %v", k, failures, failThreshold, delay, err)

		if failures >= failThreshold {
			m.disableStream(ctx, k)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (m *Manager) resetFailures(k string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCounts[k] = 0
}

func (m *Manager) touch(k string) {
	m.mu.Lock()
	m.lastMessage[k] = time.Now()
	m.mu.Unlock()
}

// disableStream removes the stream from the active set and checks the
// hard-reset escalation threshold.
func (m *Manager) disableStream(ctx context.Context, k string) {
	m.mu.Lock()
	m.disabled[k] = true
	disabledCount := len(m.disabled)
	m.mu.Unlock()

	log.Printf("🛑 stream %s: disabled after repeated failures", k)

	if disabledCount >= m.disableEscal {
		log.Printf("🚨 streammgr: %d disabled streams, escalating to hard reset", disabledCount)
		if m.hardReset != nil {
			if err := m.hardReset(ctx); err != nil {
				log.Printf("❌ streammgr: hard reset failed: %v", err)
			}
		}
		m.mu.Lock()
		m.disabled = make(map[string]bool)
		m.mu.Unlock()
	}
}

// StaleStreams returns stream keys whose last watch attempt returned more
// than staleThreshold ago (the timestamp is refreshed after every attempt,
// failed or not). It only reports them; it restarts nothing.
func (m *Manager) StaleStreams(staleThreshold time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []string
	now := time.Now()
	for k, last := range m.lastMessage {
		if now.Sub(last) > staleThreshold {
			stale = append(stale, k)
		}
	}
	return stale
}

// RunHealthCheck checks for stale streams every interval until ctx is
// cancelled and passes each stale key to onStale; it does not restart or
// reconnect any stream itself.
func (m *Manager) RunHealthCheck(ctx context.Context, interval, staleThreshold time.Duration, onStale func(key string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, k := range m.StaleStreams(staleThreshold) {
				if onStale != nil {
					onStale(k)
				}
			}
		}
	}
}

// Wait blocks until all stream loops have returned (e.g. after ctx cancel).
func (m *Manager) Wait() { m.wg.Wait() }
