package repository

import (
	"context"
	"errors"
	"slices"

	"spacechat/internal/models"
	"spacechat/internal/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository defines persistence operations for messages in a space.
// Pages are always returned in ascending seq order.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, spaceID, messageID string) (*models.Message, error)
	Latest(ctx context.Context, spaceID string, limit int) ([]models.Message, bool, error)
	Before(ctx context.Context, spaceID string, cursor int64, limit int) ([]models.Message, bool, error)
	Delete(ctx context.Context, spaceID, messageID, requesterID string) (*models.Message, error)
	ToggleLike(ctx context.Context, spaceID, messageID, userID string) (*models.Message, bool, error)
	RecentForMember(ctx context.Context, userID string, limit int) ([]models.Message, error)
}

type messageRepository struct {
	db         *gorm.DB
	txAttempts int
	log        *observability.RepoLogger
}

// NewMessageRepository returns a new MessageRepository implementation.
func NewMessageRepository(db *gorm.DB, txAttempts int) MessageRepository {
	return &messageRepository{db: db, txAttempts: txAttempts, log: observability.NewRepoLogger("messages")}
}

// Create assigns the next seq of the space and inserts msg in the same transaction.
func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Flagged = false

	err := withRetry(ctx, r.db, r.txAttempts, "send_message", func(tx *gorm.DB) error {
		res := tx.Model(&models.Space{}).
			Where("id = ?", msg.SpaceID).
			UpdateColumn("message_seq", gorm.Expr("message_seq + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Space", msg.SpaceID)
		}

		var seq int64
		if err := tx.Model(&models.Space{}).Select("message_seq").Where("id = ?", msg.SpaceID).Row().Scan(&seq); err != nil {
			return err
		}
		msg.Seq = seq

		if err := tx.Create(msg).Error; err != nil {
			if isUniqueConstraintError(err) {
				return errTxConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return finishWrite(ctx, r.log, "send_message", err)
	}
	r.log.LogCreate(ctx, map[string]any{"message_id": msg.ID, "space_id": msg.SpaceID, "seq": msg.Seq})
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, spaceID, messageID string) (*models.Message, error) {
	msg, err := loadMessage(r.db.WithContext(ctx), spaceID, messageID)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return msg, nil
}

func (r *messageRepository) Latest(ctx context.Context, spaceID string, limit int) ([]models.Message, bool, error) {
	return r.page(r.db.WithContext(ctx).Where("space_id = ?", spaceID), limit)
}

func (r *messageRepository) Before(ctx context.Context, spaceID string, cursor int64, limit int) ([]models.Message, bool, error) {
	return r.page(r.db.WithContext(ctx).Where("space_id = ? AND seq < ?", spaceID, cursor), limit)
}

// page reads one extra row to learn whether older messages remain.
func (r *messageRepository) page(q *gorm.DB, limit int) ([]models.Message, bool, error) {
	if limit <= 0 {
		limit = 15
	}

	var messages []models.Message
	if err := q.Order("seq DESC").Limit(limit + 1).Find(&messages).Error; err != nil {
		return nil, false, models.NewInternalError(err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	slices.Reverse(messages)
	return messages, hasMore, nil
}

func (r *messageRepository) Delete(ctx context.Context, spaceID, messageID, requesterID string) (*models.Message, error) {
	var deleted *models.Message
	err := withRetry(ctx, r.db, r.txAttempts, "delete_message", func(tx *gorm.DB) error {
		msg, err := loadMessage(tx, spaceID, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != requesterID {
			return models.NewPermissionError("You can only delete your own messages")
		}

		if err := tx.Where("message_id = ?", messageID).Delete(&models.MessageLike{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", messageID).Delete(&models.Message{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errTxConflict
		}
		deleted = msg
		return nil
	})
	if err != nil {
		return nil, finishWrite(ctx, r.log, "delete_message", err)
	}
	r.log.LogDelete(ctx, map[string]any{"message_id": messageID, "space_id": spaceID})
	return deleted, nil
}

// ToggleLike adds the user's like or removes it when present, moving
// like_count in the same transaction. The bool reports the resulting state.
func (r *messageRepository) ToggleLike(ctx context.Context, spaceID, messageID, userID string) (*models.Message, bool, error) {
	var (
		result *models.Message
		liked  bool
	)
	err := withRetry(ctx, r.db, r.txAttempts, "toggle_like", func(tx *gorm.DB) error {
		if _, err := loadMessage(tx, spaceID, messageID); err != nil {
			return err
		}

		res := tx.Where("message_id = ? AND user_id = ?", messageID, userID).Delete(&models.MessageLike{})
		if res.Error != nil {
			return res.Error
		}

		delta := gorm.Expr("CASE WHEN like_count > 0 THEN like_count - 1 ELSE 0 END")
		liked = res.RowsAffected == 0
		if liked {
			res = tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&models.MessageLike{MessageID: messageID, UserID: userID})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errTxConflict
			}
			delta = gorm.Expr("like_count + 1")
		}

		if err := tx.Model(&models.Message{}).Where("id = ?", messageID).UpdateColumn("like_count", delta).Error; err != nil {
			return err
		}

		msg, err := loadMessage(tx, spaceID, messageID)
		if err != nil {
			return err
		}
		result = msg
		return nil
	})
	if err != nil {
		return nil, false, wrapStoreError(err)
	}
	return result, liked, nil
}

func (r *messageRepository) RecentForMember(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 15
	}

	var messages []models.Message
	err := r.db.WithContext(ctx).
		Joins("JOIN space_members sm ON sm.space_id = messages.space_id").
		Where("sm.user_id = ?", userID).
		Order("messages.created_at DESC, messages.seq DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return messages, nil
}

func loadMessage(db *gorm.DB, spaceID, messageID string) (*models.Message, error) {
	var msg models.Message
	if err := db.Where("id = ? AND space_id = ?", messageID, spaceID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", messageID)
		}
		return nil, err
	}
	return &msg, nil
}
