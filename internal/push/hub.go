// Package push fans dispatched events out to connected dashboard clients
// over websockets and tracks agent presence.
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crewdesk/crewdesk/internal/event"
	"github.com/crewdesk/crewdesk/internal/kvstore"
)

// presenceTTL is how long an agent counts as online after their last
// heartbeat. Clients ping more often than this.
const presenceTTL = 20 * time.Second

const writeWait = 10 * time.Second

// frame is the wire format pushed to clients.
type frame struct {
	Event     string         `json:"event"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

type client struct {
	accountID string
	agentID   string
	conn      *websocket.Conn
	send      chan []byte
}

// Hub tracks connected clients per account and broadcasts events to them.
type Hub struct {
	log *slog.Logger
	kv  kvstore.Store

	mu      sync.RWMutex
	clients map[string]map[*client]struct{} // account id -> clients
}

func NewHub(log *slog.Logger, kv kvstore.Store) *Hub {
	return &Hub{
		log:     log.With(slog.String("service", "push")),
		kv:      kv,
		clients: map[string]map[*client]struct{}{},
	}
}

// Register subscribes the hub to every event on the dispatcher.
func (h *Hub) Register(hub *event.Hub) {
	hub.Subscribe(func(evt event.Event) {
		h.broadcast(evt)
	})
}

func (h *Hub) broadcast(evt event.Event) {
	accountID, _ := evt.Payload["account_id"].(string)
	if accountID == "" {
		return
	}
	payload, err := json.Marshal(frame{
		Event:     evt.Name,
		Timestamp: evt.At.Unix(),
		Data:      evt.Payload,
	})
	if err != nil {
		h.log.Error("encode push frame", slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[accountID] {
		select {
		case c.send <- payload:
		default:
			// Slow consumer; drop the frame rather than block dispatch.
		}
	}
}

// Serve attaches an upgraded connection for the given agent and blocks
// until the connection closes. Heartbeats from the client refresh the
// agent's presence key; its expiry marks the agent offline.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, accountID, agentID string) {
	c := &client{
		accountID: accountID,
		agentID:   agentID,
		conn:      conn,
		send:      make(chan []byte, 64),
	}
	h.add(c)
	defer h.remove(c)

	h.touchPresence(ctx, agentID)

	done := make(chan struct{})
	go h.writeLoop(c, done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		// Any client frame counts as a heartbeat.
		h.touchPresence(ctx, agentID)
	}
	close(done)
}

func (h *Hub) writeLoop(c *client, done <-chan struct{}) {
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) touchPresence(ctx context.Context, agentID string) {
	h.kv.SetEx(ctx, kvstore.PresenceKey(agentID), "online", presenceTTL)
}

// Online reports whether the agent has an unexpired presence record.
func (h *Hub) Online(ctx context.Context, agentID string) bool {
	_, ok := h.kv.Get(ctx, kvstore.PresenceKey(agentID))
	return ok
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.accountID] == nil {
		h.clients[c.accountID] = map[*client]struct{}{}
	}
	h.clients[c.accountID][c] = struct{}{}
	h.log.Debug("client connected",
		slog.String("account_id", c.accountID),
		slog.String("agent_id", c.agentID))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[c.accountID], c)
	_ = c.conn.Close()
	h.log.Debug("client disconnected",
		slog.String("account_id", c.accountID),
		slog.String("agent_id", c.agentID))
}
