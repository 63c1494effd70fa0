// Package websocket streams live dispatch outcomes to connected operators.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukerupert/foldclub/internal/tracking"
)

// Message is one inspector notification.
type Message struct {
	Type       string   `json:"type"`
	Platform   string   `json:"platform,omitempty"`
	Event      string   `json:"event,omitempty"`
	EventID    string   `json:"event_id,omitempty"`
	OK         bool     `json:"ok"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`
	Platforms  []string `json:"platforms,omitempty"`
	At         string   `json:"at"`
}

// DispatchMessage converts a tracker outcome into an inspector message.
func DispatchMessage(o tracking.Outcome) Message {
	return Message{
		Type:       "dispatch",
		Platform:   o.Platform,
		Event:      string(o.Event),
		EventID:    o.EventID,
		OK:         o.OK,
		Error:      o.Error,
		DurationMS: o.Duration.Milliseconds(),
		At:         time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// HelloMessage is sent to each client right after it connects.
func HelloMessage(platforms []string) Message {
	return Message{
		Type:      "hello",
		OK:        true,
		Platforms: platforms,
		At:        time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Hub maintains the set of active inspector clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
	dropped atomic.Int64
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Observe is a tracking.Observer that forwards outcomes to every client.
func (h *Hub) Observe(o tracking.Outcome) {
	h.Broadcast(DispatchMessage(o))
}

// Broadcast sends a message to all connected clients without blocking and
// returns how many received it.
func (h *Hub) Broadcast(msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients {
		select {
		case c.send <- data:
			delivered++
		default:
			// Slow reader; the inspector is best effort.
			h.dropped.Add(1)
		}
	}
	return delivered
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were discarded for full client buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
