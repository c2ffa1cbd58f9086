package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alphaworks/marketplace-messaging/internal/model"
	"github.com/alphaworks/marketplace-messaging/internal/store"
	"github.com/alphaworks/marketplace-messaging/pkg/logger"
	"github.com/alphaworks/marketplace-messaging/pkg/metrics"
)

// ConversationService handles conversation discovery and creation.
type ConversationService struct {
	repo      store.Repository
	logger    *logger.Logger
	listLimit int
}

// NewConversationService creates a new conversation service. listLimit
// caps a single listing page.
func NewConversationService(repo store.Repository, log *logger.Logger, listLimit int) *ConversationService {
	if listLimit <= 0 {
		listLimit = 50
	}
	return &ConversationService{
		repo:      repo,
		logger:    log,
		listLimit: listLimit,
	}
}

// Create opens a conversation for the given participant set. The
// caller is always included. Creation is idempotent per exact set: a
// second call with the same members, in any order, returns the
// existing thread.
func (s *ConversationService) Create(ctx context.Context, callerID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	members := model.NormalizeParticipants(req.ParticipantIDs, callerID)
	if len(members) < 2 {
		return nil, validationf("a conversation needs at least 2 distinct participants")
	}

	if existing, err := s.repo.FindConversationByExactParticipantSet(ctx, members); err == nil {
		metrics.ConversationsDeduped.Inc()
		return s.annotate(ctx, existing, members)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	conv := &model.Conversation{
		ID:              uuid.Must(uuid.NewV7()).String(),
		Title:           req.Title,
		ParticipantHash: model.ParticipantHash(members),
	}

	conv, existed, err := s.repo.CreateConversation(ctx, conv, members)
	if err != nil {
		return nil, err
	}
	if existed {
		metrics.ConversationsDeduped.Inc()
	} else {
		metrics.ConversationsTotal.Inc()
		s.logger.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.Int("participants", len(members)),
		)
	}

	return s.annotate(ctx, conv, members)
}

// List returns the caller's conversations, most recently active first,
// each carrying participant profiles and a last-message preview.
func (s *ConversationService) List(ctx context.Context, callerID string, limit, offset int) (*model.ListConversationsResponse, error) {
	if limit <= 0 || limit > s.listLimit {
		limit = s.listLimit
	}
	if offset < 0 {
		offset = 0
	}

	convs, total, err := s.repo.ListConversationsForUser(ctx, callerID, limit, offset)
	if err != nil {
		return nil, err
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       offset+len(convs) < total,
	}, nil
}

// Get returns the conversation when the caller is a participant.
// Missing id and non-membership both come back as ErrNotFound.
func (s *ConversationService) Get(ctx context.Context, callerID, conversationID string) (*model.Conversation, error) {
	conv, participants, err := s.requireMember(ctx, callerID, conversationID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.UserID
	}
	return s.annotate(ctx, conv, ids)
}

// requireMember loads the conversation and verifies membership,
// collapsing "unknown id" and "not a participant" into one outcome.
func (s *ConversationService) requireMember(ctx context.Context, callerID, conversationID string) (*model.Conversation, []model.Participant, error) {
	conv, participants, err := s.repo.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if !model.HasParticipant(participants, callerID) {
		return nil, nil, ErrNotFound
	}
	return conv, participants, nil
}

func (s *ConversationService) annotate(ctx context.Context, conv *model.Conversation, memberIDs []string) (*model.Conversation, error) {
	users, err := s.repo.GetUsers(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve participant profiles: %w", err)
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	conv.Participants = make([]model.User, len(memberIDs))
	for i, id := range memberIDs {
		if u, ok := byID[id]; ok {
			conv.Participants[i] = u
		} else {
			conv.Participants[i] = model.User{ID: id}
		}
	}
	return conv, nil
}
