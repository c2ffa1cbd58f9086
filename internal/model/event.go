package model

// EventType names the realtime events the notifier carries.
type EventType string

const (
	EventTypeNewMessage EventType = "newMessage"
)

// MessageEvent is the wake-up signal fanned out to subscribers of a
// conversation channel after a message commits. Delivery is advisory:
// the persisted message list stays the source of truth and clients
// reconcile by re-listing.
type MessageEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Message        Message   `json:"message"`
}

// NewMessageEvent builds the event published for a freshly persisted message.
func NewMessageEvent(msg Message) MessageEvent {
	return MessageEvent{
		Type:           EventTypeNewMessage,
		ConversationID: msg.ConversationID,
		Message:        msg,
	}
}
