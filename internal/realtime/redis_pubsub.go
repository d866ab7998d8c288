package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Channel is the Redis channel shared by every server instance. A deployment hosts a
	// single poll room, so there is no per-room channel.
	Channel        = "livepoll:events"
	publishTimeout = 5 * time.Second
)

// envelope is the message published on Channel. Origin identifies the publishing instance.
type envelope struct {
	Origin string          `json:"origin"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sent_at"`
}

// RedisPubSub relays events between server instances. It implements RedisPublisher and
// RedisSubscriber; events an instance published itself are not handed back to it.
type RedisPubSub struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
}

// NewRedisPubSub creates a relay with a fresh instance id.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, channel: Channel, origin: uuid.NewString(), logger: logger}
}

// PublishEvent publishes an event to the other instances.
func (r *RedisPubSub) PublishEvent(event string, payload []byte) error {
	body, err := r.encode(event, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, r.channel, body).Err()
}

// Subscribe listens on the shared channel and calls handler for every event published by
// another instance. The returned cancel stops the listener.
func (r *RedisPubSub) Subscribe(handler func(event string, payload []byte)) (cancel func(), err error) {
	ctx, stop := context.WithCancel(context.Background())
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		stop()
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if env, remote := r.decode(msg.Payload); remote {
					handler(env.Event, env.Data)
				}
			}
		}
	}()
	return stop, nil
}

func (r *RedisPubSub) encode(event string, payload []byte) ([]byte, error) {
	return json.Marshal(envelope{Origin: r.origin, Event: event, Data: payload, SentAt: time.Now().UTC()})
}

// decode reports false for malformed messages and for this instance's own.
func (r *RedisPubSub) decode(raw string) (envelope, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.logger.Warn("invalid redis payload", zap.Error(err))
		return envelope{}, false
	}
	if env.Origin == r.origin || env.Event == "" {
		return envelope{}, false
	}
	return env, true
}
