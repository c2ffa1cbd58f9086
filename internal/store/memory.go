package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alphaworks/marketplace-messaging/internal/model"
)

// MemoryRepository is an in-process Repository. It backs tests and
// local development without a database.
type MemoryRepository struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	byHash        map[string]string // participant hash -> conversation id
	participants  map[string][]model.Participant
	messages      map[string][]model.Message // insertion order = chronological order
	users         map[string]model.User
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		conversations: make(map[string]*model.Conversation),
		byHash:        make(map[string]string),
		participants:  make(map[string][]model.Participant),
		messages:      make(map[string][]model.Message),
		users:         make(map[string]model.User),
	}
}

// PutUser seeds a profile row. Production deployments read profiles
// the identity service wrote; tests seed them here.
func (r *MemoryRepository) PutUser(u model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *MemoryRepository) FindConversationByExactParticipantSet(ctx context.Context, sortedIDs []string) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byHash[model.ParticipantHash(sortedIDs)]
	if !ok {
		return nil, ErrNotFound
	}
	conv := *r.conversations[id]
	return &conv, nil
}

func (r *MemoryRepository) CreateConversation(ctx context.Context, conv *model.Conversation, participantIDs []string) (*model.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.byHash[conv.ParticipantHash]; ok {
		existing := *r.conversations[existingID]
		return &existing, true, nil
	}

	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
		conv.UpdatedAt = now
	}

	stored := *conv
	r.conversations[conv.ID] = &stored
	r.byHash[conv.ParticipantHash] = conv.ID
	links := make([]model.Participant, len(participantIDs))
	for i, uid := range participantIDs {
		links[i] = model.Participant{ConversationID: conv.ID, UserID: uid}
	}
	r.participants[conv.ID] = links

	out := stored
	return &out, false, nil
}

func (r *MemoryRepository) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, []model.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	out := *conv
	links := append([]model.Participant(nil), r.participants[conversationID]...)
	return &out, links, nil
}

func (r *MemoryRepository) ListConversationsForUser(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var convs []model.Conversation
	for id, conv := range r.conversations {
		if model.HasParticipant(r.participants[id], userID) {
			convs = append(convs, *conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID > convs[j].ID
	})

	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	convs = convs[start:end]

	for i := range convs {
		r.annotateLocked(&convs[i])
	}
	return convs, total, nil
}

func (r *MemoryRepository) annotateLocked(conv *model.Conversation) {
	links := r.participants[conv.ID]
	conv.Participants = make([]model.User, len(links))
	for i, l := range links {
		if u, ok := r.users[l.UserID]; ok {
			conv.Participants[i] = u
		} else {
			conv.Participants[i] = model.User{ID: l.UserID}
		}
	}
	if msgs := r.messages[conv.ID]; len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		conv.LastMessage = &last
	}
}

func (r *MemoryRepository) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[msg.ConversationID]
	if !ok {
		return nil, false, ErrNotFound
	}

	if msg.ClientRef != nil {
		for _, m := range r.messages[msg.ConversationID] {
			if m.FromUserID == msg.FromUserID && m.ClientRef != nil && *m.ClientRef == *msg.ClientRef {
				prior := m
				return &prior, true, nil
			}
		}
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], *msg)
	conv.UpdatedAt = msg.CreatedAt

	out := *msg
	return &out, false, nil
}

func (r *MemoryRepository) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]model.Message, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.messages[conversationID]
	end := len(msgs)
	if beforeID != "" {
		end = -1
		for i, m := range msgs {
			if m.ID == beforeID {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, false, ErrNotFound
		}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}
	page := append([]model.Message(nil), msgs[start:end]...)
	return page, start > 0, nil
}

func (r *MemoryRepository) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []model.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}
