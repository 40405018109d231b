package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/leadrelay/internal/model"
)

// ConversationStore persists conversations.
type ConversationStore struct {
	db *gorm.DB
}

// NewConversationStore creates a conversation store.
func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// Get returns the conversation with id.
func (s *ConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var out model.Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&out).Error; err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

// FindByKey returns the conversation for a participant on a business channel.
func (s *ConversationStore) FindByKey(ctx context.Context, phone, channelID string) (*model.Conversation, error) {
	var out model.Conversation
	err := s.db.WithContext(ctx).
		Where("participant_phone = ? AND business_channel_id = ?", phone, channelID).
		Take(&out).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

// Create inserts c unless a conversation with the same key exists. It returns the stored
// record and whether this call inserted it.
func (s *ConversationStore) Create(ctx context.Context, c *model.Conversation) (*model.Conversation, bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_phone"}, {Name: "business_channel_id"}},
			DoNothing: true,
		}).
		Create(c)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create conversation: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return c, true, nil
	}
	existing, err := s.FindByKey(ctx, c.ParticipantPhone, c.BusinessChannelID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpdateFields applies updates to the conversation with id in a single write.
func (s *ConversationStore) UpdateFields(ctx context.Context, id string, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
