// Package notifier fans "new message" events out to clients currently
// subscribed to a conversation channel. Delivery is best-effort,
// at-most-once, with no replay: a disconnected client reconciles by
// re-listing messages.
package notifier

import (
	"context"

	"github.com/alphaworks/marketplace-messaging/internal/model"
)

// EventHandler receives events for a subscription. Handlers must not
// block; slow consumers drop events.
type EventHandler func(event model.MessageEvent)

// Notifier is the per-conversation pub/sub contract. A subscription is
// keyed by (conversationID, connID) so a connection can switch
// channels without affecting other subscribers.
type Notifier interface {
	// Subscribe registers fn for events on the conversation's channel.
	Subscribe(conversationID, connID string, fn EventHandler) error

	// Unsubscribe removes the (conversationID, connID) subscription.
	// Unknown keys are a no-op.
	Unsubscribe(conversationID, connID string)

	// Publish delivers the event to every current subscriber of the
	// event's conversation channel and no one else.
	Publish(ctx context.Context, event model.MessageEvent) error

	// Backend names the implementation for logs and metrics.
	Backend() string

	// Ready reports whether the backend can accept publishes.
	Ready(ctx context.Context) error

	// Close releases backend resources.
	Close()
}
