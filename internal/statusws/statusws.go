// Package statusws adapts hub.go's client registry and ping/pong heartbeat
// into Croupier's outward-facing status/telemetry endpoint: instead of
// broadcasting whale alerts and raw ticker prices, it broadcasts position
// and balance snapshots (spec.md §6).
package statusws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub maintains the set of connected status-stream clients and broadcasts
// snapshot messages to all of them.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	upgrader  websocket.Upgrader
}

// NewHub builds an empty Hub. Origin checking is permissive, matching the
// teacher's single-operator deployment assumption.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// HandleWebSocket upgrades the connection, registers the client, and blocks
// on a read loop purely to detect disconnects (the stream is outbound-only).
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ statusws: upgrade error: %v", err)
		return
	}
	h.register(conn)
	conn.WriteJSON(map[string]interface{}{
		"type":      "connection_init",
		"status":    "connected",
		"timestamp": time.Now().UnixMilli(),
	})

	defer func() {
		h.unregister(conn)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.clients[conn] = true
	log.Printf("statusws: client connected, total %d", len(h.clients))
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		log.Printf("statusws: client disconnected, total %d", len(h.clients))
	}
}

// Broadcast sends a message to every connected client, dropping any client
// whose write fails.
func (h *Hub) Broadcast(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("⚠️ statusws: broadcast marshal error: %v", err)
		return
	}
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

// PositionSnapshot is one open position's public view.
type PositionSnapshot struct {
	TradeID    string  `json:"trade_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	TPLevel    float64 `json:"tp_level"`
	SLLevel    float64 `json:"sl_level"`
	BarsHeld   int     `json:"bars_held"`
}

// StatusMessage is the periodic snapshot broadcast to every status client.
type StatusMessage struct {
	Type      string             `json:"type"`
	Timestamp int64              `json:"timestamp"`
	Equity    float64            `json:"equity"`
	Positions []PositionSnapshot `json:"positions"`
	Breakers  map[string]string  `json:"breakers"`
}

// SnapshotSource supplies the data for one periodic StatusMessage.
type SnapshotSource interface {
	Equity() float64
	PositionSnapshots() []PositionSnapshot
	BreakerStates() map[string]string
}

// Throttler periodically broadcasts a status snapshot, generalizing
// hub.go's PriceThrottler from a per-symbol price cache to a single
// whole-session snapshot.
type Throttler struct {
	hub    *Hub
	source SnapshotSource
}

// NewThrottler builds a Throttler over a Hub and its snapshot source.
func NewThrottler(hub *Hub, source SnapshotSource) *Throttler {
	return &Throttler{hub: hub, source: source}
}

// Start broadcasts a snapshot every interval until ctx is done (via the
// stop channel the caller closes).
func (t *Throttler) Start(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.hub.Broadcast(StatusMessage{
				Type:      "status",
				Timestamp: time.Now().UnixMilli(),
				Equity:    t.source.Equity(),
				Positions: t.source.PositionSnapshots(),
				Breakers:  t.source.BreakerStates(),
			})
		}
	}
}
