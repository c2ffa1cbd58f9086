// Package store provides persistence for conversations and messages.
package store

import (
	"context"
	"errors"

	"github.com/alphaworks/marketplace-messaging/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the persistence contract for the messaging service.
// Implementations must keep AppendMessage's insert and the parent
// conversation's updated_at bump atomic.
type Repository interface {
	// FindConversationByExactParticipantSet returns the conversation
	// whose participant set equals the given normalized (sorted,
	// deduped) id list, or ErrNotFound.
	FindConversationByExactParticipantSet(ctx context.Context, sortedIDs []string) (*model.Conversation, error)

	// CreateConversation persists a conversation and its participant
	// links in one transaction. If another create with the same
	// participant set won the race, the existing conversation is
	// returned with existing=true.
	CreateConversation(ctx context.Context, conv *model.Conversation, participantIDs []string) (out *model.Conversation, existing bool, err error)

	// GetConversation returns the conversation row and its participant
	// links, or ErrNotFound.
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, []model.Participant, error)

	// ListConversationsForUser returns conversations the user belongs
	// to, most recently updated first, each annotated with its
	// participants and latest message. total counts all matches
	// before limit/offset.
	ListConversationsForUser(ctx context.Context, userID string, limit, offset int) (convs []model.Conversation, total int, err error)

	// AppendMessage persists the message and bumps the parent
	// conversation's updated_at in one transaction. CreatedAt is
	// assigned at persistence time. A duplicate client_ref returns
	// the originally persisted message with duplicate=true.
	AppendMessage(ctx context.Context, msg *model.Message) (out *model.Message, duplicate bool, err error)

	// ListMessages returns up to limit messages of the conversation in
	// chronological order (created_at, id ascending). When beforeID
	// names an existing message, only older messages are returned;
	// the page holds the most recent qualifying messages.
	ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) (msgs []model.Message, hasMore bool, err error)

	// GetUsers resolves profile rows for the given user ids. Unknown
	// ids are skipped, not errors.
	GetUsers(ctx context.Context, ids []string) ([]model.User, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
