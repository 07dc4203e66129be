package service

import (
	"context"
	"strings"

	"spacechat/internal/featureflags"
	"spacechat/internal/models"
	"spacechat/internal/observability"
	"spacechat/internal/repository"
	"spacechat/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

// Identity is the caller as verified by the identity provider.
type Identity struct {
	Email string
}

// NewIdentity normalizes email into an Identity.
func NewIdentity(email string) Identity {
	return Identity{Email: strings.ToLower(strings.TrimSpace(email))}
}

// Coordinator is the entry point for client operations. It owns no state and
// enforces who may do what before delegating to the membership, feed and
// moderation services.
type Coordinator struct {
	users         repository.UserRepository
	membership    *MembershipService
	feed          *FeedService
	moderation    *ModerationService
	flags         *featureflags.Manager
	allowedDomain string
}

// CoordinatorDeps groups the Coordinator's collaborators.
type CoordinatorDeps struct {
	Users              repository.UserRepository
	Membership         *MembershipService
	Feed               *FeedService
	Moderation         *ModerationService
	Flags              *featureflags.Manager
	AllowedEmailDomain string
}

// NewCoordinator returns a new Coordinator.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	return &Coordinator{
		users:         deps.Users,
		membership:    deps.Membership,
		feed:          deps.Feed,
		moderation:    deps.Moderation,
		flags:         deps.Flags,
		allowedDomain: deps.AllowedEmailDomain,
	}
}

func (c *Coordinator) trace(ctx context.Context, op string, id Identity, attrs ...attribute.KeyValue) (*observability.Span, context.Context) {
	span, ctx := observability.NewSpan(ctx, "coordinator."+op, observability.WithSpanKind(observability.SpanKindInternal))
	span.AddAttributes(append(attrs, attribute.String("user.email", id.Email))...)
	return span, ctx
}

// authorize requires a verified identity that has registered.
func (c *Coordinator) authorize(ctx context.Context, id Identity) (*models.User, error) {
	if id.Email == "" {
		return nil, models.NewUnauthorizedError("Missing caller identity")
	}
	user, err := c.users.GetProfile(ctx, id.Email)
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			return nil, models.NewPermissionError("Complete registration before using spaces")
		}
		return nil, err
	}
	return user, nil
}

func (c *Coordinator) requireMember(ctx context.Context, spaceID string, id Identity, action string) error {
	if _, err := c.membership.GetSpace(ctx, spaceID); err != nil {
		return err
	}
	ok, err := c.membership.IsMember(ctx, spaceID, id.Email)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewPermissionError("Join this space to " + action)
	}
	return nil
}

// RegisterUser creates the caller's user record.
func (c *Coordinator) RegisterUser(ctx context.Context, id Identity, firstName, lastName string) (user *models.User, err error) {
	span, ctx := c.trace(ctx, "register_user", id)
	defer func() { span.SetError(err); span.End() }()

	if id.Email == "" {
		return nil, models.NewUnauthorizedError("Missing caller identity")
	}
	if err := validation.ValidateEmailDomain(id.Email, c.allowedDomain); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePersonName("first name", firstName); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePersonName("last name", lastName); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	user = &models.User{
		Email:     id.Email,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
	}
	if err := c.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Profile is the caller's user record plus their moderation history.
type Profile struct {
	*models.User
	FlaggedMessages int64 `json:"flagged_messages"`
}

// Me returns the caller's profile.
func (c *Coordinator) Me(ctx context.Context, id Identity) (profile *Profile, err error) {
	span, ctx := c.trace(ctx, "me", id)
	defer func() { span.SetError(err); span.End() }()

	user, err := c.authorize(ctx, id)
	if err != nil {
		return nil, err
	}
	flagged, err := c.moderation.FlaggedCount(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	return &Profile{User: user, FlaggedMessages: flagged}, nil
}

// CreateSpace creates a space with the caller as creator and first member.
func (c *Coordinator) CreateSpace(ctx context.Context, id Identity, name, description string) (space *models.Space, err error) {
	span, ctx := c.trace(ctx, "create_space", id, attribute.String("space.name", name))
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return nil, err
	}
	return c.membership.CreateSpace(ctx, CreateSpaceInput{CreatorID: id.Email, Name: name, Description: description})
}

// JoinSpace adds the caller to the space.
func (c *Coordinator) JoinSpace(ctx context.Context, id Identity, spaceID string) (space *models.Space, err error) {
	span, ctx := c.trace(ctx, "join_space", id, attribute.String("space.id", spaceID))
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return nil, err
	}
	return c.membership.JoinSpace(ctx, spaceID, id.Email)
}

// LeaveSpace removes the caller from the space.
func (c *Coordinator) LeaveSpace(ctx context.Context, id Identity, spaceID string) (space *models.Space, err error) {
	span, ctx := c.trace(ctx, "leave_space", id, attribute.String("space.id", spaceID))
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return nil, err
	}
	return c.membership.LeaveSpace(ctx, spaceID, id.Email)
}

// DeleteSpace deletes a space the caller created, with all of its messages.
func (c *Coordinator) DeleteSpace(ctx context.Context, id Identity, spaceID string) (err error) {
	span, ctx := c.trace(ctx, "delete_space", id, attribute.String("space.id", spaceID))
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return err
	}
	return c.membership.DeleteSpace(ctx, spaceID, id.Email)
}

// ListSpaces lists spaces matching query with the caller's relation to each.
func (c *Coordinator) ListSpaces(ctx context.Context, id Identity, query string, limit, offset int) (views []SpaceView, err error) {
	span, ctx := c.trace(ctx, "list_spaces", id)
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return nil, err
	}
	return c.membership.ListSpaces(ctx, id.Email, query, limit, offset)
}

// OpenFeed subscribes the caller to the live window of a space.
func (c *Coordinator) OpenFeed(ctx context.Context, id Identity, spaceID string, pageSize int) (sub *Subscription, page *Page, err error) {
	span, ctx := c.trace(ctx, "open_feed", id, attribute.String("space.id", spaceID))
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return nil, nil, err
	}
	return c.feed.Subscribe(ctx, spaceID, id.Email, pageSize)
}

// LatestPage returns the newest window of a space without subscribing.
func (c *Coordinator) LatestPage(ctx context.Context, id Identity, spaceID string, pageSize int) (page *Page, err error) {
	span, ctx := c.trace(ctx, "latest_page", id, attribute.String("space.id", spaceID))
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return nil, err
	}
	return c.feed.Latest(ctx, spaceID, id.Email, pageSize)
}

// LoadOlder returns the page before cursor.
func (c *Coordinator) LoadOlder(ctx context.Context, id Identity, spaceID string, cursor int64, pageSize int) (page *Page, err error) {
	span, ctx := c.trace(ctx, "load_older", id, attribute.String("space.id", spaceID), attribute.Int64("cursor", cursor))
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return nil, err
	}
	return c.feed.LoadOlder(ctx, spaceID, id.Email, cursor, pageSize)
}

// SendMessage posts text to a space the caller belongs to.
func (c *Coordinator) SendMessage(ctx context.Context, id Identity, spaceID, text string) (msg *models.Message, err error) {
	span, ctx := c.trace(ctx, "send_message", id, attribute.String("space.id", spaceID))
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return nil, err
	}
	if err := c.requireMember(ctx, spaceID, id, "send messages"); err != nil {
		return nil, err
	}
	return c.feed.Send(ctx, SendInput{SpaceID: spaceID, SenderID: id.Email, Text: text})
}

// DeleteMessage deletes one of the caller's own messages.
func (c *Coordinator) DeleteMessage(ctx context.Context, id Identity, spaceID, messageID string) (err error) {
	span, ctx := c.trace(ctx, "delete_message", id, attribute.String("space.id", spaceID), attribute.String("message.id", messageID))
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return err
	}
	return c.feed.DeleteOwnMessage(ctx, spaceID, messageID, id.Email)
}

// LikesEnabled reports whether message likes are on for the caller.
func (c *Coordinator) LikesEnabled(id Identity) bool {
	return c.flags.EnabledOr(featureflags.MessageLikes, id.Email, true)
}

// ToggleLike likes or unlikes a message in a space the caller belongs to.
func (c *Coordinator) ToggleLike(ctx context.Context, id Identity, spaceID, messageID string) (msg *models.Message, liked bool, err error) {
	span, ctx := c.trace(ctx, "toggle_like", id, attribute.String("space.id", spaceID), attribute.String("message.id", messageID))
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return nil, false, err
	}
	if !c.LikesEnabled(id) {
		return nil, false, models.NewPermissionError("Message likes are not available")
	}
	if err := c.requireMember(ctx, spaceID, id, "like messages"); err != nil {
		return nil, false, err
	}
	return c.feed.ToggleLike(ctx, spaceID, messageID, id.Email)
}

// RecentMessages returns the newest messages across the caller's spaces.
func (c *Coordinator) RecentMessages(ctx context.Context, id Identity, limit int) (messages []models.Message, err error) {
	span, ctx := c.trace(ctx, "recent_messages", id)
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return nil, err
	}
	return c.feed.Recent(ctx, id.Email, limit)
}

// Unblock clears the caller's warnings and block.
func (c *Coordinator) Unblock(ctx context.Context, id Identity, userID string) (user *models.User, err error) {
	span, ctx := c.trace(ctx, "unblock", id)
	defer func() { span.SetError(err); span.End() }()

	if _, err := c.authorize(ctx, id); err != nil {
		return nil, err
	}
	return c.moderation.Unblock(ctx, strings.ToLower(strings.TrimSpace(userID)), id.Email)
}
