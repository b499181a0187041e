// Package gateway streams analysis results to websocket clients. Each
// result is wrapped in an envelope carrying a hub-wide sequence number so
// clients can detect gaps and ask for a replay on reconnect.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/analysis"
)

const (
	sendBuffer   = 256
	replayLength = 1000
)

// Hub tracks websocket clients and the latest envelope per channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	replay   *ReplayBuffer
	upgrader websocket.Upgrader

	// OnClientCount is called with the new client count after every
	// connect and disconnect.
	OnClientCount func(n int)
}

type latestEntry struct {
	Envelope []byte
	TS       time.Time
	Seq      int64
}

// NewHub creates an empty hub. allowOrigin decides which browser origins
// may connect; nil accepts every origin.
func NewHub(allowOrigin func(origin string) bool) *Hub {
	h := &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		replay:  NewReplayBuffer(replayLength),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   4096,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowOrigin == nil || allowOrigin(origin)
		},
	}
	return h
}

// Run broadcasts every result from in until ctx is cancelled or in closes.
func (h *Hub) Run(ctx context.Context, in <-chan analysis.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-in:
			if !ok {
				return
			}
			h.Broadcast(res)
		}
	}
}

// HandleWS upgrades the request and registers the client. The optional
// "symbols" query parameter (comma separated) sets the initial filter
// and "last_seq" requests a replay of everything newer.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("gateway: websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, parseSymbols(r.URL.Query().Get("symbols")))
	lastSeq, _ := strconv.ParseInt(r.URL.Query().Get("last_seq"), 10, 64)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.clientCountChanged(count)

	zap.L().Info("gateway: ws client connected", zap.Int("clients", count))

	client.sendInitialState(lastSeq)
	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters a client and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	h.clientCountChanged(count)
}

func (h *Hub) clientCountChanged(n int) {
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the newest envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Latest returns the newest envelope per channel.
func (h *Hub) Latest() map[string][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string][]byte, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Envelope
	}
	return cp
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
