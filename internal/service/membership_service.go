// Package service provides the space, feed and moderation business logic.
package service

import (
	"context"
	"log/slog"
	"strings"

	"spacechat/internal/models"
	"spacechat/internal/notifications"
	"spacechat/internal/repository"
	"spacechat/internal/validation"

	"github.com/samber/lo"
)

// MembershipService owns space creation, deletion and the member set.
type MembershipService struct {
	spaces repository.SpaceRepository
	users  repository.UserRepository
	feeds  *notifications.FeedHub
}

// CreateSpaceInput is the input for creating a space.
type CreateSpaceInput struct {
	CreatorID   string
	Name        string
	Description string
}

// SpaceView pairs a space with the caller's relation to it.
type SpaceView struct {
	models.Space
	IsMember  bool `json:"is_member"`
	IsCreator bool `json:"is_creator"`
}

// NewMembershipService returns a new MembershipService.
func NewMembershipService(
	spaces repository.SpaceRepository,
	users repository.UserRepository,
	feeds *notifications.FeedHub,
) *MembershipService {
	return &MembershipService{spaces: spaces, users: users, feeds: feeds}
}

// CreateSpace creates a space whose only member is its creator.
func (s *MembershipService) CreateSpace(ctx context.Context, in CreateSpaceInput) (*models.Space, error) {
	name := validation.NormalizeSpaceName(in.Name)
	if err := validation.ValidateSpaceName(name); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	description := strings.TrimSpace(in.Description)
	if err := validation.ValidateDescription(description); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	existing, err := s.spaces.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewDuplicateNameError(name)
	}

	creator, err := s.users.GetProfile(ctx, in.CreatorID)
	if err != nil {
		return nil, err
	}

	space := &models.Space{
		Name:        name,
		Description: description,
		CreatedBy:   creator.Email,
		CreatorName: creator.DisplayName(),
	}
	// The unique index still decides races the lookup above cannot see.
	if err := s.spaces.Create(ctx, space); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "space created", "space_id", space.ID, "name", space.Name)
	return space, nil
}

// JoinSpace adds userID to the space. Joining twice is a no-op.
func (s *MembershipService) JoinSpace(ctx context.Context, spaceID, userID string) (*models.Space, error) {
	return s.spaces.AddMember(ctx, spaceID, userID)
}

// LeaveSpace removes userID from the space. Leaving a space one is not in is a no-op.
func (s *MembershipService) LeaveSpace(ctx context.Context, spaceID, userID string) (*models.Space, error) {
	return s.spaces.RemoveMember(ctx, spaceID, userID)
}

// DeleteSpace removes the space and all of its messages. Only the creator may do this.
func (s *MembershipService) DeleteSpace(ctx context.Context, spaceID, requesterID string) error {
	deleted, err := s.spaces.DeleteCascade(ctx, spaceID, requesterID)
	if err != nil {
		return err
	}

	s.feeds.Publish(ctx, notifications.FeedChange{SpaceID: spaceID, Kind: notifications.ChangeSpaceDeleted})
	slog.InfoContext(ctx, "space deleted", "space_id", spaceID, "messages_deleted", deleted)
	return nil
}

// GetSpace returns the space with its member list.
func (s *MembershipService) GetSpace(ctx context.Context, spaceID string) (*models.Space, error) {
	return s.spaces.GetByID(ctx, spaceID)
}

// IsMember reports whether userID currently belongs to the space.
func (s *MembershipService) IsMember(ctx context.Context, spaceID, userID string) (bool, error) {
	return s.spaces.IsMember(ctx, spaceID, userID)
}

// ListSpaces returns spaces matching query, newest first, marked for userID.
func (s *MembershipService) ListSpaces(ctx context.Context, userID, query string, limit, offset int) ([]SpaceView, error) {
	spaces, err := s.spaces.List(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	memberOf, err := s.spaces.SpaceIDsForMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	joined := lo.Keyify(memberOf)

	return lo.Map(spaces, func(space models.Space, _ int) SpaceView {
		_, isMember := joined[space.ID]
		return SpaceView{
			Space:     space,
			IsMember:  isMember,
			IsCreator: space.CreatedBy == userID,
		}
	}), nil
}
