package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alphaworks/marketplace-messaging/internal/model"
	"github.com/alphaworks/marketplace-messaging/internal/notifier"
	"github.com/alphaworks/marketplace-messaging/internal/store"
	"github.com/alphaworks/marketplace-messaging/pkg/logger"
	"github.com/alphaworks/marketplace-messaging/pkg/metrics"
)

// maxBodyBytes bounds a single message payload (~100KB).
const maxBodyBytes = 100000

// MessageService handles append-only message creation and retrieval,
// paired with notification dispatch.
type MessageService struct {
	repo         store.Repository
	conversation *ConversationService
	notifier     notifier.Notifier
	logger       *logger.Logger
	listLimit    int
}

// NewMessageService creates a new message service.
func NewMessageService(
	repo store.Repository,
	conversationSvc *ConversationService,
	notif notifier.Notifier,
	log *logger.Logger,
	listLimit int,
) *MessageService {
	if listLimit <= 0 {
		listLimit = 100
	}
	return &MessageService{
		repo:         repo,
		conversation: conversationSvc,
		notifier:     notif,
		logger:       log,
		listLimit:    listLimit,
	}
}

// List returns the conversation's messages oldest-first, the canonical
// order for thread rendering. Access is checked the same way as Get:
// non-participants see ErrNotFound.
func (s *MessageService) List(ctx context.Context, callerID, conversationID string, limit int, beforeID string) (*model.ListMessagesResponse, error) {
	if _, _, err := s.conversation.requireMember(ctx, callerID, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > s.listLimit {
		limit = s.listLimit
	}

	msgs, hasMore, err := s.repo.ListMessages(ctx, conversationID, limit, beforeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, validationf("unknown paging cursor %q", beforeID)
	}
	if err != nil {
		return nil, err
	}

	return &model.ListMessagesResponse{
		Messages: msgs,
		HasMore:  hasMore,
	}, nil
}

// Send validates, persists and announces a message. The insert and the
// parent conversation's updated_at bump commit together; the notifier
// publish happens only after commit and its failure is logged, never
// surfaced, since the message is already durable.
func (s *MessageService) Send(ctx context.Context, callerID, conversationID string, req *model.SendMessageRequest) (*model.Message, error) {
	if err := validateBody(req.Body); err != nil {
		return nil, err
	}

	// Unlike reads, a membership failure on send is a validation
	// error: the sender and recipient must both be participants.
	_, participants, err := s.repo.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !model.HasParticipant(participants, callerID) {
		return nil, validationf("sender is not a participant of this conversation")
	}
	if !model.HasParticipant(participants, req.ToUserID) {
		return nil, validationf("recipient is not a participant of this conversation")
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		FromUserID:     callerID,
		ToUserID:       req.ToUserID,
		Body:           req.Body,
	}
	if ref := strings.TrimSpace(req.ClientRef); ref != "" {
		msg.ClientRef = &ref
	}

	msg, duplicate, err := s.repo.AppendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if duplicate {
		// Retried send; the original already went out.
		return msg, nil
	}

	metrics.MessagesTotal.Inc()
	s.publish(ctx, *msg)
	return msg, nil
}

// publish fans the event out. At-least-once from the caller's view: a
// failure here drops the wake-up signal, not the message, and the next
// list call reconciles.
func (s *MessageService) publish(ctx context.Context, msg model.Message) {
	backend := s.notifier.Backend()
	if err := s.notifier.Publish(ctx, model.NewMessageEvent(msg)); err != nil {
		metrics.NotifyFailures.WithLabelValues(backend).Inc()
		s.logger.Warn("notify publish failed, message remains durable",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}
	metrics.NotifyPublished.WithLabelValues(backend).Inc()
}

func validateBody(body string) error {
	if len(body) == 0 {
		return validationf("message body cannot be empty")
	}
	if len(body) > maxBodyBytes {
		return validationf("message body exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return validationf("message body must be valid UTF-8")
	}
	return nil
}
