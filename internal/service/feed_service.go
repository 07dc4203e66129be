package service

import (
	"context"
	"strings"

	"spacechat/internal/models"
	"spacechat/internal/notifications"
	"spacechat/internal/observability"
	"spacechat/internal/repository"
	"spacechat/internal/validation"
)

const (
	defaultPageSize = 15
	maxPageSize     = 100
)

// Page is an ascending window of a space's messages.
type Page struct {
	SpaceID   string           `json:"space_id"`
	Messages  []models.Message `json:"messages"`
	HasMore   bool             `json:"has_more"`
	OldestSeq int64            `json:"oldest_seq,omitempty"`
}

func newPage(spaceID string, messages []models.Message, hasMore bool) *Page {
	if messages == nil {
		messages = []models.Message{}
	}
	p := &Page{SpaceID: spaceID, Messages: messages, HasMore: hasMore}
	if len(messages) > 0 {
		p.OldestSeq = messages[0].Seq
	}
	return p
}

// ModerationSubmitter accepts sent messages for out-of-band evaluation.
type ModerationSubmitter interface {
	Submit(job ModerationJob)
}

// FeedService owns ordering, pagination and live delivery of space messages.
type FeedService struct {
	spaces      repository.SpaceRepository
	messages    repository.MessageRepository
	users       repository.UserRepository
	hub         *notifications.FeedHub
	moderation  ModerationSubmitter
	pageSize    int
	maxPageSize int
}

// FeedOptions tunes page sizes.
type FeedOptions struct {
	PageSize    int
	MaxPageSize int
}

// NewFeedService returns a new FeedService.
func NewFeedService(
	spaces repository.SpaceRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	hub *notifications.FeedHub,
	moderation ModerationSubmitter,
	opts FeedOptions,
) *FeedService {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = maxPageSize
	}
	return &FeedService{
		spaces:      spaces,
		messages:    messages,
		users:       users,
		hub:         hub,
		moderation:  moderation,
		pageSize:    opts.PageSize,
		maxPageSize: opts.MaxPageSize,
	}
}

func (s *FeedService) clampPageSize(size int) int {
	if size <= 0 {
		return s.pageSize
	}
	if size > s.maxPageSize {
		return s.maxPageSize
	}
	return size
}

// requireMember fails with NotFound for a missing space and Permission for a non-member.
func (s *FeedService) requireMember(ctx context.Context, spaceID, userID string) error {
	if _, err := s.spaces.GetByID(ctx, spaceID); err != nil {
		return err
	}
	ok, err := s.spaces.IsMember(ctx, spaceID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewPermissionError("Join this space to view its messages")
	}
	return nil
}

// Subscribe opens a live view of the latest pageSize messages. The listener is
// registered before the first read so no change between the two is missed.
func (s *FeedService) Subscribe(ctx context.Context, spaceID, userID string, pageSize int) (*Subscription, *Page, error) {
	if err := s.requireMember(ctx, spaceID, userID); err != nil {
		return nil, nil, err
	}
	pageSize = s.clampPageSize(pageSize)

	listener := s.hub.Listen(spaceID)
	page, err := s.latest(ctx, spaceID, pageSize)
	if err != nil {
		listener.Close()
		return nil, nil, err
	}

	return newSubscription(s, listener, spaceID, pageSize, page), page, nil
}

// Latest returns the most recent window without subscribing.
func (s *FeedService) Latest(ctx context.Context, spaceID, userID string, pageSize int) (*Page, error) {
	if err := s.requireMember(ctx, spaceID, userID); err != nil {
		return nil, err
	}
	return s.latest(ctx, spaceID, s.clampPageSize(pageSize))
}

func (s *FeedService) latest(ctx context.Context, spaceID string, pageSize int) (*Page, error) {
	messages, hasMore, err := s.messages.Latest(ctx, spaceID, pageSize)
	if err != nil {
		return nil, err
	}
	return newPage(spaceID, messages, hasMore), nil
}

// LoadOlder returns up to pageSize messages strictly older than cursor, ascending.
func (s *FeedService) LoadOlder(ctx context.Context, spaceID, userID string, cursor int64, pageSize int) (*Page, error) {
	if cursor <= 0 {
		return nil, models.NewValidationError("cursor must be a positive sequence number")
	}
	if err := s.requireMember(ctx, spaceID, userID); err != nil {
		return nil, err
	}
	messages, hasMore, err := s.messages.Before(ctx, spaceID, cursor, s.clampPageSize(pageSize))
	if err != nil {
		return nil, err
	}
	return newPage(spaceID, messages, hasMore), nil
}

// SendInput is the input for sending a message.
type SendInput struct {
	SpaceID  string
	SenderID string
	Text     string
}

// Send persists the message and hands it to moderation. It returns once the
// message is stored; evaluation happens afterwards.
func (s *FeedService) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	if err := validation.ValidateMessageText(in.Text); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	sender, err := s.users.GetByEmail(ctx, in.SenderID)
	if err != nil {
		return nil, err
	}
	if sender.Blocked {
		return nil, models.NewBlockedUserError()
	}

	msg := &models.Message{
		SpaceID:    in.SpaceID,
		Body:       strings.TrimSpace(in.Text),
		SenderID:   sender.Email,
		SenderName: sender.DisplayName(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	observability.MessagesSent.Inc()

	s.hub.Publish(ctx, notifications.FeedChange{
		SpaceID:   msg.SpaceID,
		Kind:      notifications.ChangeCreated,
		MessageID: msg.ID,
		Seq:       msg.Seq,
	})
	if s.moderation != nil {
		s.moderation.Submit(ModerationJob{
			SpaceID:   msg.SpaceID,
			MessageID: msg.ID,
			SenderID:  msg.SenderID,
			Text:      msg.Body,

			CorrelationID: observability.ExtractCorrelationID(ctx),
		})
	}
	return msg, nil
}

// DeleteOwnMessage hard-deletes a message sent by requesterID.
func (s *FeedService) DeleteOwnMessage(ctx context.Context, spaceID, messageID, requesterID string) error {
	msg, err := s.messages.Delete(ctx, spaceID, messageID, requesterID)
	if err != nil {
		return err
	}
	s.hub.Publish(ctx, notifications.FeedChange{
		SpaceID:   spaceID,
		Kind:      notifications.ChangeDeleted,
		MessageID: msg.ID,
		Seq:       msg.Seq,
	})
	return nil
}

// ToggleLike likes or unlikes a message and reports the resulting state.
func (s *FeedService) ToggleLike(ctx context.Context, spaceID, messageID, userID string) (*models.Message, bool, error) {
	msg, liked, err := s.messages.ToggleLike(ctx, spaceID, messageID, userID)
	if err != nil {
		return nil, false, err
	}
	s.hub.Publish(ctx, notifications.FeedChange{
		SpaceID:   spaceID,
		Kind:      notifications.ChangeLiked,
		MessageID: msg.ID,
		Seq:       msg.Seq,
	})
	return msg, liked, nil
}

// Recent returns the newest messages across the spaces userID belongs to.
func (s *FeedService) Recent(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	messages, err := s.messages.RecentForMember(ctx, userID, s.clampPageSize(limit))
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}
