package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/alphaworks/marketplace-messaging/internal/model"
)

// GormRepository implements Repository on a relational database.
type GormRepository struct {
	db *gorm.DB
}

var _ Repository = (*GormRepository)(nil)

// OpenPostgres connects to Postgres and runs schema migration.
func OpenPostgres(dsn string) (*GormRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewGormRepository(db)
}

// NewGormRepository wraps an existing gorm handle. Tests use this with
// an in-memory sqlite database.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Participant{},
		&model.Message{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) FindConversationByExactParticipantSet(ctx context.Context, sortedIDs []string) (*model.Conversation, error) {
	hash := model.ParticipantHash(sortedIDs)

	var conv model.Conversation
	err := r.db.WithContext(ctx).Where("participant_hash = ?", hash).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation by participant set: %w", err)
	}
	return &conv, nil
}

func (r *GormRepository) CreateConversation(ctx context.Context, conv *model.Conversation, participantIDs []string) (*model.Conversation, bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		links := make([]model.Participant, len(participantIDs))
		for i, id := range participantIDs {
			links[i] = model.Participant{ConversationID: conv.ID, UserID: id}
		}
		return tx.Create(&links).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a concurrent create race for the same participant set.
		existing, ferr := r.FindConversationByExactParticipantSet(ctx, participantIDs)
		if ferr != nil {
			return nil, false, fmt.Errorf("failed to load conversation after dedup conflict: %w", ferr)
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, false, nil
}

func (r *GormRepository) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, []model.Participant, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", conversationID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var links []model.Participant
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("user_id").
		Find(&links).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load participants: %w", err)
	}
	return &conv, links, nil
}

func (r *GormRepository) ListConversationsForUser(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, int, error) {
	member := r.db.WithContext(ctx).
		Model(&model.Participant{}).
		Select("conversation_id").
		Where("user_id = ?", userID)

	var total int64
	if err := r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id IN (?)", member).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	var convs []model.Conversation
	if err := r.db.WithContext(ctx).
		Where("id IN (?)", member).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&convs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	for i := range convs {
		if err := r.annotate(ctx, &convs[i]); err != nil {
			return nil, 0, err
		}
	}
	return convs, int(total), nil
}

// annotate fills the read-side projections: participant profiles and
// the latest message preview.
func (r *GormRepository) annotate(ctx context.Context, conv *model.Conversation) error {
	var links []model.Participant
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("user_id").
		Find(&links).Error; err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	ids := make([]string, len(links))
	for i, l := range links {
		ids[i] = l.UserID
	}
	users, err := r.GetUsers(ctx, ids)
	if err != nil {
		return err
	}
	// Keep ids without a profile row visible to the caller.
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	conv.Participants = make([]model.User, len(ids))
	for i, id := range ids {
		if u, ok := byID[id]; ok {
			conv.Participants[i] = u
		} else {
			conv.Participants[i] = model.User{ID: id}
		}
	}

	var last model.Message
	err = r.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("created_at DESC").
		Order("id DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load last message: %w", err)
	}
	conv.LastMessage = &last
	return nil
}

func (r *GormRepository) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ClientRef != nil {
		var prior model.Message
		err := r.db.WithContext(ctx).
			Where("conversation_id = ? AND from_user_id = ? AND client_ref = ?",
				msg.ConversationID, msg.FromUserID, *msg.ClientRef).
			First(&prior).Error
		if err == nil {
			return &prior, true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("failed to check client ref: %w", err)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("updated_at", msg.CreatedAt).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) && msg.ClientRef != nil {
		// A concurrent retry with the same ref committed first.
		var prior model.Message
		if ferr := r.db.WithContext(ctx).
			Where("conversation_id = ? AND from_user_id = ? AND client_ref = ?",
				msg.ConversationID, msg.FromUserID, *msg.ClientRef).
			First(&prior).Error; ferr != nil {
			return nil, false, fmt.Errorf("failed to load message after ref conflict: %w", ferr)
		}
		return &prior, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, false, nil
}

func (r *GormRepository) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]model.Message, bool, error) {
	q := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID)

	if beforeID != "" {
		var pivot model.Message
		err := r.db.WithContext(ctx).
			Where("conversation_id = ? AND id = ?", conversationID, beforeID).
			First(&pivot).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrNotFound
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to load paging pivot: %w", err)
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)",
			pivot.CreatedAt, pivot.CreatedAt, pivot.ID)
	}

	// Fetch the newest qualifying page, then flip to chronological order.
	var page []model.Message
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&page).Error; err != nil {
		return nil, false, fmt.Errorf("failed to list messages: %w", err)
	}

	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, hasMore, nil
}

func (r *GormRepository) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []model.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return users, nil
}

func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
