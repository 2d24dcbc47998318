package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Heartbeat timing for notification sockets.
const (
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// Subscriber subscribes to notification channels and invokes handler for incoming events.
type Subscriber interface {
	Subscribe(channel string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains channel -> set of connections and fans out notifications.
// Each instance subscribes to a Redis channel while it has at least one client on it.
type Hub struct {
	// channel -> map[clientID]*Client
	channels map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per channel
	mu       sync.RWMutex
	logger   *zap.Logger
	sub      Subscriber
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels: make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		sub:      sub,
	}
}

// Register adds a client to its channel. Starts the Redis subscription for the channel if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.channels[c.Channel] == nil {
		h.channels[c.Channel] = make(map[string]*Client)
		if h.sub != nil {
			channel := c.Channel
			cancel, err := h.sub.Subscribe(channel, func(event string, payload []byte) {
				h.Broadcast(channel, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Error("subscribe failed", zap.String("channel", channel), zap.Error(err))
			} else {
				h.subs[channel] = cancel
			}
		}
	}
	h.channels[c.Channel][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client subscribed", zap.String("client_id", c.ID), zap.String("channel", c.Channel))
}

// Unregister removes a client. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.channels[c.Channel]; ok {
		if _, registered := m[c.ID]; registered {
			delete(m, c.ID)
			close(c.send)
		}
		if len(m) == 0 {
			delete(h.channels, c.Channel)
			if cancel, ok := h.subs[c.Channel]; ok {
				cancel()
				delete(h.subs, c.Channel)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client unsubscribed", zap.String("client_id", c.ID), zap.String("channel", c.Channel))
}

// Broadcast sends a message to all local clients on channel.
func (h *Hub) Broadcast(channel, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.channels[channel] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client buffer full, dropping notification", zap.String("client_id", c.ID))
		}
	}
}

// Count returns the number of local clients on channel.
func (h *Hub) Count(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
