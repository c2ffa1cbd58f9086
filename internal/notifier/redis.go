package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alphaworks/marketplace-messaging/internal/model"
	"github.com/alphaworks/marketplace-messaging/pkg/logger"
)

// channelName returns the Redis pub/sub channel for a conversation.
func channelName(conversationID string) string {
	return "conv:" + conversationID
}

// Redis is a Notifier backed by Redis pub/sub for cross-instance
// delivery.
type Redis struct {
	rdb    *redis.Client
	logger *logger.Logger

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

var _ Notifier = (*Redis)(nil)

// NewRedis wraps a Redis client as a notifier backend.
func NewRedis(rdb *redis.Client, log *logger.Logger) *Redis {
	return &Redis{
		rdb:    rdb,
		logger: log,
		subs:   make(map[string]*redis.PubSub),
	}
}

func (n *Redis) Subscribe(conversationID, connID string, fn EventHandler) error {
	pubsub := n.rdb.Subscribe(context.Background(), channelName(conversationID))

	// Force the SUBSCRIBE round trip so a failed subscription surfaces
	// here instead of as silently missed events.
	if _, err := pubsub.Receive(context.Background()); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to conversation channel: %w", err)
	}

	go func() {
		for m := range pubsub.Channel() {
			var event model.MessageEvent
			if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
				n.logger.Warn("dropping malformed notify payload", zap.Error(err))
				continue
			}
			fn(event)
		}
	}()

	n.mu.Lock()
	defer n.mu.Unlock()
	key := subKey(conversationID, connID)
	if prior, ok := n.subs[key]; ok {
		_ = prior.Close()
	}
	n.subs[key] = pubsub
	return nil
}

func (n *Redis) Unsubscribe(conversationID, connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := subKey(conversationID, connID)
	if pubsub, ok := n.subs[key]; ok {
		_ = pubsub.Close()
		delete(n.subs, key)
	}
}

func (n *Redis) Publish(ctx context.Context, event model.MessageEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.rdb.Publish(ctx, channelName(event.ConversationID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (n *Redis) Backend() string { return "redis" }

func (n *Redis) Ready(ctx context.Context) error {
	return n.rdb.Ping(ctx).Err()
}

func (n *Redis) Close() {
	n.mu.Lock()
	for key, pubsub := range n.subs {
		_ = pubsub.Close()
		delete(n.subs, key)
	}
	n.mu.Unlock()
	_ = n.rdb.Close()
}
