package repository

import (
	"context"
	"errors"
	"strings"

	"spacechat/internal/cache"
	"spacechat/internal/models"
	"spacechat/internal/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SpaceRepository defines persistence operations for spaces and their member sets.
// Every write to the member set goes through a version-checked transaction
// that moves member_count with it.
type SpaceRepository interface {
	Create(ctx context.Context, space *models.Space) error
	GetByID(ctx context.Context, id string) (*models.Space, error)
	GetByName(ctx context.Context, name string) (*models.Space, error)
	List(ctx context.Context, query string, limit, offset int) ([]models.Space, error)
	IsMember(ctx context.Context, spaceID, userID string) (bool, error)
	SpaceIDsForMember(ctx context.Context, userID string) ([]string, error)
	AddMember(ctx context.Context, spaceID, userID string) (*models.Space, error)
	RemoveMember(ctx context.Context, spaceID, userID string) (*models.Space, error)
	DeleteCascade(ctx context.Context, spaceID, requesterID string) (int64, error)
}

type spaceRepository struct {
	db         *gorm.DB
	txAttempts int
	log        *observability.RepoLogger
}

// NewSpaceRepository returns a new SpaceRepository implementation.
func NewSpaceRepository(db *gorm.DB, txAttempts int) SpaceRepository {
	return &spaceRepository{db: db, txAttempts: txAttempts, log: observability.NewRepoLogger("spaces")}
}

func (r *spaceRepository) Create(ctx context.Context, space *models.Space) error {
	if space.ID == "" {
		space.ID = uuid.NewString()
	}
	space.MemberCount = 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(space).Error; err != nil {
			return err
		}
		return tx.Create(&models.SpaceMember{SpaceID: space.ID, UserID: space.CreatedBy}).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return models.NewDuplicateNameError(space.Name)
		}
		return finishWrite(ctx, r.log, "create_space", err)
	}
	space.Members = []string{space.CreatedBy}
	r.log.LogCreate(ctx, map[string]any{"space_id": space.ID, "name": space.Name})
	return nil
}

func (r *spaceRepository) GetByID(ctx context.Context, id string) (*models.Space, error) {
	var space models.Space
	err := cache.Aside(ctx, cache.SpaceKey(id), &space, cache.SpaceTTL, func() error {
		loaded, err := loadSpace(r.db.WithContext(ctx), id)
		if err != nil {
			return err
		}
		space = *loaded
		return nil
	})
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return &space, nil
}

func (r *spaceRepository) GetByName(ctx context.Context, name string) (*models.Space, error) {
	var space models.Space
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&space).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &space, nil
}

func (r *spaceRepository) List(ctx context.Context, query string, limit, offset int) ([]models.Space, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	q := r.db.WithContext(ctx).Model(&models.Space{})
	if query = strings.TrimSpace(query); query != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(query)+"%")
	}

	var spaces []models.Space
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&spaces).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return spaces, nil
}

func (r *spaceRepository) IsMember(ctx context.Context, spaceID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SpaceMember{}).
		Where("space_id = ? AND user_id = ?", spaceID, userID).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *spaceRepository) SpaceIDsForMember(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.SpaceMember{}).
		Where("user_id = ?", userID).
		Pluck("space_id", &ids).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *spaceRepository) AddMember(ctx context.Context, spaceID, userID string) (*models.Space, error) {
	var result *models.Space
	err := withRetry(ctx, r.db, r.txAttempts, "join_space", func(tx *gorm.DB) error {
		space, err := loadSpace(tx, spaceID)
		if err != nil {
			return err
		}
		if space.HasMember(userID) {
			result = space
			return nil
		}

		if err := tx.Create(&models.SpaceMember{SpaceID: spaceID, UserID: userID}).Error; err != nil {
			if isUniqueConstraintError(err) {
				return errTxConflict
			}
			return err
		}
		if err := bumpMemberCount(tx, space, space.MemberCount+1); err != nil {
			return err
		}

		space.Members = append(space.Members, userID)
		result = space
		return nil
	})
	if err != nil {
		return nil, finishWrite(ctx, r.log, "join_space", err)
	}
	cache.InvalidateSpace(ctx, spaceID)
	return result, nil
}

func (r *spaceRepository) RemoveMember(ctx context.Context, spaceID, userID string) (*models.Space, error) {
	var result *models.Space
	err := withRetry(ctx, r.db, r.txAttempts, "leave_space", func(tx *gorm.DB) error {
		space, err := loadSpace(tx, spaceID)
		if err != nil {
			return err
		}
		if !space.HasMember(userID) {
			result = space
			return nil
		}

		res := tx.Where("space_id = ? AND user_id = ?", spaceID, userID).Delete(&models.SpaceMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errTxConflict
		}

		count := space.MemberCount - 1
		if count < 0 {
			count = 0
		}
		if err := bumpMemberCount(tx, space, count); err != nil {
			return err
		}

		members := space.Members[:0]
		for _, m := range space.Members {
			if m != userID {
				members = append(members, m)
			}
		}
		space.Members = members
		result = space
		return nil
	})
	if err != nil {
		return nil, finishWrite(ctx, r.log, "leave_space", err)
	}
	cache.InvalidateSpace(ctx, spaceID)
	return result, nil
}

// DeleteCascade removes the space with its messages, likes and member rows in
// one transaction and returns how many messages were removed.
func (r *spaceRepository) DeleteCascade(ctx context.Context, spaceID, requesterID string) (int64, error) {
	var deleted int64
	err := withRetry(ctx, r.db, r.txAttempts, "delete_space", func(tx *gorm.DB) error {
		var space models.Space
		if err := tx.Where("id = ?", spaceID).First(&space).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Space", spaceID)
			}
			return err
		}
		if space.CreatedBy != requesterID {
			return models.NewPermissionError("Only the creator can delete this space")
		}

		// Claim the row first so concurrent sends and joins wait on it and
		// then see the space gone.
		res := tx.Model(&models.Space{}).
			Where("id = ? AND version = ?", space.ID, space.Version).
			UpdateColumn("version", gorm.Expr("version + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errTxConflict
		}

		messageIDs := tx.Model(&models.Message{}).Select("id").Where("space_id = ?", spaceID)
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&models.MessageLike{}).Error; err != nil {
			return err
		}
		res = tx.Where("space_id = ?", spaceID).Delete(&models.Message{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected

		if err := tx.Where("space_id = ?", spaceID).Delete(&models.SpaceMember{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", spaceID).Delete(&models.Space{}).Error
	})
	if err != nil {
		return 0, finishWrite(ctx, r.log, "delete_space", err)
	}
	cache.InvalidateSpace(ctx, spaceID)
	r.log.LogDelete(ctx, map[string]any{"space_id": spaceID, "messages": deleted})
	return deleted, nil
}

func loadSpace(db *gorm.DB, id string) (*models.Space, error) {
	var space models.Space
	if err := db.Where("id = ?", id).First(&space).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Space", id)
		}
		return nil, err
	}
	members, err := memberIDs(db, id)
	if err != nil {
		return nil, err
	}
	space.Members = members
	return &space, nil
}

func memberIDs(db *gorm.DB, spaceID string) ([]string, error) {
	ids := []string{}
	err := db.Model(&models.SpaceMember{}).
		Where("space_id = ?", spaceID).
		Order("joined_at ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// bumpMemberCount writes count only if nobody changed the space since it was read.
func bumpMemberCount(tx *gorm.DB, space *models.Space, count int) error {
	res := tx.Model(&models.Space{}).
		Where("id = ? AND version = ?", space.ID, space.Version).
		Updates(map[string]any{
			"member_count": count,
			"version":      gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errTxConflict
	}
	space.MemberCount = count
	space.Version++
	return nil
}
