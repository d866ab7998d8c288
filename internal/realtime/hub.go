package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// ParticipantChangeHandler is called with the new participant count after a connect or disconnect.
type ParticipantChangeHandler func(count int)

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishEvent(event string, payload []byte) error
}

// RedisSubscriber subscribes to the shared channel and invokes handler for incoming events.
type RedisSubscriber interface {
	Subscribe(handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub is the participant registry: connection id -> client. It fans messages out to every client.
// The Redis subscription is opened by EnsureSubscribed, retried after a failure on the next
// connect or publish, and closed with the last participant.
type Hub struct {
	clients     map[string]*Client
	unsub       func()
	subscribing bool
	mu          sync.RWMutex
	membership  sync.Mutex // serializes joins/leaves with their participant count callback
	logger      *zap.Logger
	redis       RedisPublisher
	redisSub    RedisSubscriber
	onCount     ParticipantChangeHandler
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:  make(map[string]*Client),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// SetParticipantChangeHandler sets the callback for participant count changes.
func (h *Hub) SetParticipantChangeHandler(fn ParticipantChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCount = fn
}

// Register adds a client to the registry. Count callbacks run in membership order.
func (h *Hub) Register(c *Client) {
	h.membership.Lock()
	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	onCount := h.onCount
	h.mu.Unlock()
	if onCount != nil {
		onCount(count)
	}
	h.membership.Unlock()

	h.logger.Debug("participant connected", zap.String("client_id", c.ID), zap.Int("participants", count))
}

// Unregister removes a client and closes its send channel. Only the registry entry changes.
func (h *Hub) Unregister(c *Client) {
	h.membership.Lock()
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		h.membership.Unlock()
		return
	}
	delete(h.clients, c.ID)
	close(c.send)
	count := len(h.clients)
	var unsub func()
	if count == 0 {
		unsub, h.unsub = h.unsub, nil
	}
	onCount := h.onCount
	h.mu.Unlock()
	if onCount != nil {
		onCount(count)
	}
	h.membership.Unlock()

	if unsub != nil {
		unsub()
	}
	h.logger.Debug("participant disconnected", zap.String("client_id", c.ID), zap.Int("participants", count))
}

// EnsureSubscribed opens the Redis subscription when participants are connected and none is open.
// It performs a network round trip; call it without holding other locks.
func (h *Hub) EnsureSubscribed() {
	if h.redisSub == nil {
		return
	}
	h.mu.Lock()
	if h.unsub != nil || h.subscribing || len(h.clients) == 0 {
		h.mu.Unlock()
		return
	}
	h.subscribing = true
	h.mu.Unlock()

	cancel, err := h.redisSub.Subscribe(func(event string, payload []byte) {
		h.Broadcast(event, json.RawMessage(payload))
	})

	h.mu.Lock()
	h.subscribing = false
	if err != nil {
		h.mu.Unlock()
		h.logger.Warn("redis subscribe failed, remote events paused until next attempt", zap.Error(err))
		return
	}
	if len(h.clients) == 0 {
		h.mu.Unlock()
		cancel()
		return
	}
	h.unsub = cancel
	h.mu.Unlock()
}

func (h *Hub) subscribed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.unsub != nil
}

// Broadcast sends a message to every local client. Messages are queued per client in call order.
func (h *Hub) Broadcast(event string, payload interface{}) {
	msg, err := newMessage(event, payload)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.deliver(c, msg)
	}
}

// BroadcastAndPublish delivers to local clients, then publishes to Redis for the other instances.
// Local delivery never depends on Redis; the subscriber drops this instance's own messages.
func (h *Hub) BroadcastAndPublish(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode publish", zap.String("event", event), zap.Error(err))
		return
	}
	h.Broadcast(event, json.RawMessage(data))
	if h.redis == nil {
		return
	}
	h.EnsureSubscribed()
	if err := h.redis.PublishEvent(event, data); err != nil {
		h.logger.Warn("redis publish failed, delivered locally only", zap.String("event", event), zap.Error(err))
	}
}

// SendTo sends a message to a single client.
func (h *Hub) SendTo(clientID string, event string, payload interface{}) {
	msg, err := newMessage(event, payload)
	if err != nil {
		h.logger.Error("encode message", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[clientID]; ok {
		h.deliver(c, msg)
	}
}

// ParticipantCount returns the number of connected clients.
func (h *Hub) ParticipantCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver must be called with h.mu held.
func (h *Hub) deliver(c *Client, msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("send buffer full, dropping message", zap.String("client_id", c.ID), zap.String("event", msg.Event))
	}
}

func newMessage(event string, payload interface{}) (WSMessage, error) {
	var data []byte
	switch v := payload.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return WSMessage{}, err
		}
	}
	return WSMessage{Event: event, Data: data}, nil
}
