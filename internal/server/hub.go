package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/soldesk/goperp/internal/domain"
	"github.com/soldesk/goperp/pkg/ratelimit"
	"github.com/soldesk/goperp/pkg/solana"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// MarketSnapshotter produces the per-tick market snapshot.
type MarketSnapshotter interface {
	Snapshot(ctx context.Context) []domain.Market
}

// PositionFetcher fetches decoded positions for a wallet.
type PositionFetcher interface {
	FetchPositions(ctx context.Context, wallet string) ([]domain.Position, error)
}

// wsClient is one browser connection. wallet binding is connection-scoped:
// set/cleared only by explicit client messages, never inferred, and not
// preserved across reconnects.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	inbound *ratelimit.TokenBucket
}

func (c *wsClient) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// Hub multiplexes market-data and per-wallet position pushes to all open
// connections on a fixed tick. The hub never initiates pings; clients ping
// and get pong echoes, and detect dead connections by heartbeat timeout.
type Hub struct {
	markets   MarketSnapshotter
	positions PositionFetcher
	tick      time.Duration

	mu      sync.Mutex
	clients map[*wsClient]string // client -> bound wallet ("" = none)

	log *logrus.Entry
}

// NewHub creates a hub broadcasting every tick interval.
func NewHub(markets MarketSnapshotter, positions PositionFetcher, tick time.Duration) *Hub {
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Hub{
		markets:   markets,
		positions: positions,
		tick:      tick,
		clients:   make(map[*wsClient]string),
		log:       logrus.WithField("component", "ws-hub"),
	}
}

// Run drives the broadcast scheduler until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.broadcast(ctx)
		}
	}
}

// HandleWS upgrades the request and starts the connection's read loop.
// Inbound handling is independent per connection and never blocks the tick.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("ws upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		// cap inbound chatter per connection; enough for 1 ping/s plus commands
		inbound: ratelimit.NewTokenBucket(10, 5),
	}

	h.mu.Lock()
	h.clients[client] = ""
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Infof("ws client connected (%d open)", n)
	_ = client.send(map[string]any{"type": "connected", "message": "connected to market stream"})

	go h.readLoop(client)
}

// inboundMessage covers every client->server frame.
type inboundMessage struct {
	Type          string `json:"type"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

func (h *Hub) readLoop(client *wsClient) {
	defer h.drop(client)

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		if !client.inbound.Allow() {
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = client.send(map[string]any{"type": "error", "message": "invalid message"})
			continue
		}

		switch msg.Type {
		case "set_wallet":
			if err := solana.ValidateAddress(msg.WalletAddress); err != nil {
				// invalid address: error reply, binding unchanged
				_ = client.send(map[string]any{"type": "error", "message": "invalid wallet address"})
				continue
			}
			h.mu.Lock()
			h.clients[client] = msg.WalletAddress
			h.mu.Unlock()
			h.log.Infof("ws wallet bound: %s", solana.ShortAddress(msg.WalletAddress))

		case "clear_wallet":
			h.mu.Lock()
			h.clients[client] = ""
			h.mu.Unlock()

		case "ping":
			_ = client.send(map[string]any{"type": "pong", "timestamp": msg.Timestamp})

		default:
			_ = client.send(map[string]any{"type": "error", "message": "unknown message type"})
		}
	}
}

// broadcast runs one tick: one market snapshot shared by every client, one
// position fetch per distinct bound wallet (dedup by address, not by
// connection), then per-connection payload selection. A failed wallet fetch
// degrades that wallet's clients to market-data-only; it never aborts the
// tick.
func (h *Hub) broadcast(ctx context.Context) {
	snapshot := h.markets.Snapshot(ctx)

	h.mu.Lock()
	conns := make(map[*wsClient]string, len(h.clients))
	for c, w := range h.clients {
		conns[c] = w
	}
	h.mu.Unlock()

	wallets := make(map[string]struct{})
	for _, w := range conns {
		if w != "" {
			wallets[w] = struct{}{}
		}
	}

	// fetches for distinct wallets run concurrently with each other
	type fetchResult struct {
		positions []domain.Position
		ok        bool
	}
	results := make(map[string]fetchResult, len(wallets))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup
	for wallet := range wallets {
		wg.Add(1)
		go func(wallet string) {
			defer wg.Done()
			positions, err := h.positions.FetchPositions(ctx, wallet)
			resultsMu.Lock()
			defer resultsMu.Unlock()
			if err != nil {
				h.log.Warnf("tick position fetch failed for %s: %v", solana.ShortAddress(wallet), err)
				results[wallet] = fetchResult{ok: false}
				return
			}
			results[wallet] = fetchResult{positions: positions, ok: true}
		}(wallet)
	}
	wg.Wait()

	for client, wallet := range conns {
		var payload any
		if res, ok := results[wallet]; wallet != "" && ok && res.ok {
			payload = map[string]any{
				"type":          "market_and_position_update",
				"markets":       snapshot,
				"positions":     res.positions,
				"walletAddress": wallet,
			}
		} else {
			payload = map[string]any{
				"type": "price_update",
				"data": snapshot,
			}
		}
		if err := client.send(payload); err != nil {
			h.drop(client)
		}
	}
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if present {
		_ = client.conn.Close()
		h.log.Infof("ws client disconnected (%d open)", n)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]string)
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}
