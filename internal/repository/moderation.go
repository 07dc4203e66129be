package repository

import (
	"context"

	"spacechat/internal/cache"
	"spacechat/internal/models"
	"spacechat/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ModerationRepository applies moderation outcomes to messages and users.
type ModerationRepository interface {
	ApplyWarning(ctx context.Context, event *models.ModerationEvent, threshold int) (*models.User, bool, error)
	ResetWarnings(ctx context.Context, email string) (*models.User, error)
	CountFlagged(ctx context.Context, senderID string) (int64, error)
}

type moderationRepository struct {
	db         *gorm.DB
	txAttempts int
	log        *observability.RepoLogger
	userLog    *observability.RepoLogger
}

// NewModerationRepository returns a new ModerationRepository implementation.
func NewModerationRepository(db *gorm.DB, txAttempts int) ModerationRepository {
	return &moderationRepository{
		db:         db,
		txAttempts: txAttempts,
		log:        observability.NewRepoLogger("moderation_events"),
		userLog:    observability.NewRepoLogger("users"),
	}
}

// ApplyWarning records the toxic verdict, flags the message and adds one
// warning to the sender, recomputing blocked from the fresh count. A second
// call for the same message changes nothing and reports applied=false.
func (r *moderationRepository) ApplyWarning(ctx context.Context, event *models.ModerationEvent, threshold int) (*models.User, bool, error) {
	var (
		result  *models.User
		applied bool
	)
	err := withRetry(ctx, r.db, r.txAttempts, "apply_warning", func(tx *gorm.DB) error {
		applied = false
		user, err := loadUser(tx, event.SenderID)
		if err != nil {
			return err
		}

		warnings := user.Warnings + 1
		blocked := models.BlockedAt(warnings, threshold)

		event.WarningsAfter = warnings
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(event)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			result = user
			return nil
		}

		// The message may already be gone; the warning still counts.
		if err := tx.Model(&models.Message{}).Where("id = ?", event.MessageID).UpdateColumn("flagged", true).Error; err != nil {
			return err
		}

		if err := updateModerationState(tx, user, warnings, blocked); err != nil {
			return err
		}
		result = user
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, finishWrite(ctx, r.log, "apply_warning", err)
	}
	cache.InvalidateUser(ctx, event.SenderID)
	if applied {
		r.log.LogCreate(ctx, map[string]any{"message_id": event.MessageID, "space_id": event.SpaceID})
		r.userLog.LogUpdate(ctx, map[string]any{
			"user_id":  event.SenderID,
			"warnings": result.Warnings,
			"blocked":  result.Blocked,
		})
	}
	return result, applied, nil
}

func (r *moderationRepository) ResetWarnings(ctx context.Context, email string) (*models.User, error) {
	var result *models.User
	err := withRetry(ctx, r.db, r.txAttempts, "unblock_user", func(tx *gorm.DB) error {
		user, err := loadUser(tx, email)
		if err != nil {
			return err
		}
		if err := updateModerationState(tx, user, 0, false); err != nil {
			return err
		}
		result = user
		return nil
	})
	if err != nil {
		return nil, finishWrite(ctx, r.userLog, "unblock_user", err)
	}
	cache.InvalidateUser(ctx, email)
	r.userLog.LogUpdate(ctx, map[string]any{"user_id": email, "warnings": 0, "blocked": false})
	return result, nil
}

// CountFlagged returns how many of senderID's messages were ever flagged.
// Unblocking does not reset it.
func (r *moderationRepository) CountFlagged(ctx context.Context, senderID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ModerationEvent{}).
		Where("sender_id = ?", senderID).
		Count(&n).Error
	if err != nil {
		r.log.LogError(ctx, err, "count_flagged")
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

// updateModerationState writes warnings and blocked together, only if the user
// row is still at the version that was read.
func updateModerationState(tx *gorm.DB, user *models.User, warnings int, blocked bool) error {
	res := tx.Model(&models.User{}).
		Where("email = ? AND version = ?", user.Email, user.Version).
		Updates(map[string]any{
			"warnings": warnings,
			"blocked":  blocked,
			"version":  gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errTxConflict
	}
	user.Warnings = warnings
	user.Blocked = blocked
	user.Version++
	return nil
}
