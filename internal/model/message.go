package model

import (
	"time"
)

// Message represents one unit of communication within a conversation.
// Messages are append-only; there is no edit or delete.
type Message struct {
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string `json:"conversation_id" gorm:"size:36;not null;index:idx_conv_created,priority:1;uniqueIndex:idx_client_ref,priority:1"`
	FromUserID     string `json:"from_user_id" gorm:"size:64;not null;uniqueIndex:idx_client_ref,priority:2"`
	ToUserID       string `json:"to_user_id" gorm:"size:64;not null"`
	Body           string `json:"body" gorm:"type:text;not null"`

	// ClientRef is an optional caller-supplied idempotency key; a
	// retried send with the same ref returns the original message.
	ClientRef *string `json:"client_ref,omitempty" gorm:"size:64;uniqueIndex:idx_client_ref,priority:3"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_conv_created,priority:2"`
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	ToUserID  string `json:"to_user_id"`
	Body      string `json:"body"`
	ClientRef string `json:"client_ref,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
