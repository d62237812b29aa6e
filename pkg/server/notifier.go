package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/graph"
	"github.com/masfro/masfro/pkg/reporting"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
)

// RiskUpdate is the payload pushed to websocket clients after each
// fusion batch.
type RiskUpdate struct {
	Type         string    `json:"type"`
	EdgesChanged int       `json:"edges_changed"`
	RiskyEdges   int       `json:"risky_edges"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier fans risk-update events out to websocket subscribers. Slow
// clients are dropped rather than allowed to block the fan-out.
type Notifier struct {
	store    *graph.Store
	clk      clock.Clock
	log      *reporting.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan RiskUpdate
}

// NewNotifier subscribes to the store and returns the hub.
func NewNotifier(store *graph.Store, clk clock.Clock, log *reporting.Logger, checkOrigin func(*http.Request) bool) *Notifier {
	n := &Notifier{
		store: store,
		clk:   clk,
		log:   log.Component("notifier"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[*wsClient]struct{}),
	}
	store.Subscribe(n.onBatch)
	return n
}

// onBatch runs outside the store lock.
func (n *Notifier) onBatch(changed []graph.EdgeKey) {
	if len(changed) == 0 {
		return
	}
	update := RiskUpdate{
		Type:         "risk_update",
		EdgesChanged: len(changed),
		RiskyEdges:   n.store.RiskyEdgeCount(),
		Timestamp:    n.clk.Now(),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for c := range n.clients {
		select {
		case c.send <- update:
		default:
			// Client is not keeping up; cut it loose.
			delete(n.clients, c)
			close(c.send)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (n *Notifier) ClientCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// ServeWS upgrades the request and starts the client pumps.
func (n *Notifier) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	c := &wsClient{conn: conn, send: make(chan RiskUpdate, 16)}
	n.mu.Lock()
	n.clients[c] = struct{}{}
	n.mu.Unlock()

	go n.writePump(c)
	go n.readPump(c)
}

func (n *Notifier) drop(c *wsClient) {
	n.mu.Lock()
	if _, ok := n.clients[c]; ok {
		delete(n.clients, c)
		close(c.send)
	}
	n.mu.Unlock()
	c.conn.Close()
}

// readPump discards inbound frames; the socket is push-only. It exists
// to process control frames and detect closure.
func (n *Notifier) readPump(c *wsClient) {
	defer n.drop(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (n *Notifier) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case update, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(update); err != nil {
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
