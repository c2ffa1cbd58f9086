// Package model defines data structures for the messaging service.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Conversation represents a durable thread between a fixed set of participants.
type Conversation struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	Title           string    `json:"title,omitempty" gorm:"size:256"`
	ParticipantHash string    `json:"-" gorm:"uniqueIndex;size:64;not null"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"index"`

	// Populated on read, not stored on this row.
	Participants []User   `json:"participants,omitempty" gorm:"-"`
	LastMessage  *Message `json:"last_message,omitempty" gorm:"-"`
}

// Participant links a user into a conversation. The set is fixed at
// creation; rows are never added or removed afterwards.
type Participant struct {
	ConversationID string `json:"conversation_id" gorm:"primaryKey;size:36"`
	UserID         string `json:"user_id" gorm:"primaryKey;size:64;index"`
}

// NormalizeParticipants dedupes and sorts a participant id list,
// always including the caller. Sorting makes set equality independent
// of request order.
func NormalizeParticipants(ids []string, callerID string) []string {
	seen := make(map[string]struct{}, len(ids)+1)
	out := make([]string, 0, len(ids)+1)
	for _, id := range append([]string{callerID}, ids...) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ParticipantHash derives the dedup key for a normalized participant set.
func ParticipantHash(sortedIDs []string) string {
	h := sha256.Sum256([]byte(strings.Join(sortedIDs, "\x00")))
	return hex.EncodeToString(h[:])
}

// HasParticipant reports whether userID is a member of the set.
func HasParticipant(participants []Participant, userID string) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
	Title          string   `json:"title,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
