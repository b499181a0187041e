package gateway

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single websocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// symbols the client follows; empty means every symbol
	subMu   sync.RWMutex
	symbols map[string]bool
}

// controlMsg is what clients send us.
type controlMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
	LastSeq int64    `json:"last_seq,omitempty"`
	Ping    int64    `json:"ping,omitempty"`
}

func newClient(h *Hub, conn *websocket.Conn, symbols []string) *Client {
	c := &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
		symbols: make(map[string]bool),
	}
	c.subscribe(symbols)
	return c
}

func parseSymbols(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func (c *Client) subscribe(symbols []string) {
	c.subMu.Lock()
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			c.symbols[s] = true
		}
	}
	c.subMu.Unlock()
}

func (c *Client) unsubscribe(symbols []string) {
	c.subMu.Lock()
	for _, s := range symbols {
		delete(c.symbols, strings.ToUpper(strings.TrimSpace(s)))
	}
	c.subMu.Unlock()
}

// Symbols returns the followed symbols in sorted order.
func (c *Client) Symbols() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// matches reports whether a "SYMBOL:tf" channel passes the filter.
func (c *Client) matches(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.symbols) == 0 {
		return true
	}
	sym := channel
	if i := strings.IndexByte(channel, ':'); i >= 0 {
		sym = channel[:i]
	}
	return c.symbols[sym]
}

// sendInitialState queues either a replay from lastSeq or, when lastSeq
// is zero or too old, the latest envelope of every matching channel.
func (c *Client) sendInitialState(lastSeq int64) {
	if lastSeq > 0 {
		if entries, ok := c.hub.replay.Since(lastSeq); ok {
			for _, e := range entries {
				if c.matches(e.Channel) {
					c.queue(e.Data)
				}
			}
			return
		}
	}

	c.hub.mu.RLock()
	snap := make([]latestEntry, 0, len(c.hub.latest))
	for channel, e := range c.hub.latest {
		if c.matches(channel) {
			snap = append(snap, e)
		}
	}
	c.hub.mu.RUnlock()

	sort.Slice(snap, func(i, j int) bool { return snap[i].Seq < snap[j].Seq })
	for _, e := range snap {
		c.queue(e.Envelope)
	}
}

// queue is a non-blocking send. It must not race with RemoveClient, so
// callers either hold the hub lock or run before the client is visible
// to readPump.
func (c *Client) queue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		zap.L().Info("gateway: ws client disconnected", zap.Int("clients", c.hub.ClientCount()))
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg controlMsg) {
	switch strings.ToUpper(msg.Type) {
	case "SUBSCRIBE":
		c.subscribe(msg.Symbols)
		c.reply(map[string]interface{}{"type": "subscribed", "symbols": c.Symbols()})
	case "UNSUBSCRIBE":
		c.unsubscribe(msg.Symbols)
		c.reply(map[string]interface{}{"type": "subscribed", "symbols": c.Symbols()})
	case "REPLAY":
		entries, ok := c.hub.replay.Since(msg.LastSeq)
		if !ok {
			c.reply(map[string]interface{}{"type": "error", "error": "replay window exceeded", "last_seq": msg.LastSeq})
		}
		c.hub.mu.RLock()
		if c.hub.clients[c] {
			for _, e := range entries {
				if c.matches(e.Channel) {
					c.queue(e.Data)
				}
			}
		}
		c.hub.mu.RUnlock()
	default:
		if msg.Ping > 0 {
			c.reply(map[string]interface{}{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
		}
	}
}

// reply queues a control message under the hub lock so it cannot race
// with the send channel being closed.
func (c *Client) reply(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.clients[c] {
		c.queue(b)
	}
}
