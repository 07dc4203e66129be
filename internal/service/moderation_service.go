package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"spacechat/internal/classifier"
	"spacechat/internal/models"
	"spacechat/internal/notifications"
	"spacechat/internal/observability"
	"spacechat/internal/repository"

	"github.com/samber/lo"
)

// ModerationJob is one sent message awaiting evaluation.
type ModerationJob struct {
	SpaceID   string
	MessageID string
	SenderID  string
	Text      string

	CorrelationID string
}

// NoticePublisher delivers a payload to a user's live connections.
type NoticePublisher interface {
	Publish(ctx context.Context, userID, payload string) error
}

// ModerationService evaluates messages and moves users through the
// warning and block states.
type ModerationService struct {
	classifier classifier.Classifier
	repo       repository.ModerationRepository
	feeds      *notifications.FeedHub
	notices    NoticePublisher
	threshold  int
	retryDelay time.Duration
}

// ModerationOptions tunes the engine.
type ModerationOptions struct {
	BlockThreshold int
	RetryDelay     time.Duration
}

// NewModerationService returns a new ModerationService.
func NewModerationService(
	c classifier.Classifier,
	repo repository.ModerationRepository,
	feeds *notifications.FeedHub,
	notices NoticePublisher,
	opts ModerationOptions,
) *ModerationService {
	if opts.BlockThreshold <= 0 {
		opts.BlockThreshold = models.DefaultBlockThreshold
	}
	return &ModerationService{
		classifier: c,
		repo:       repo,
		feeds:      feeds,
		notices:    notices,
		threshold:  opts.BlockThreshold,
		retryDelay: opts.RetryDelay,
	}
}

// Threshold is the warning count at which users are blocked.
func (s *ModerationService) Threshold() int {
	return s.threshold
}

// Evaluate classifies the job's text. A toxic verdict flags the message and
// warns its sender; a classifier that cannot answer after one retry leaves the
// message untouched and yields a ClassifierUnavailableError.
func (s *ModerationService) Evaluate(ctx context.Context, job ModerationJob) error {
	verdict, err := s.classify(ctx, job.Text)
	if err != nil {
		observability.ModerationOutcomes.WithLabelValues("unavailable").Inc()
		return models.NewClassifierUnavailableError(err)
	}
	if !verdict.Toxic {
		observability.ModerationOutcomes.WithLabelValues("clean").Inc()
		return nil
	}

	event := &models.ModerationEvent{
		MessageID:  job.MessageID,
		SpaceID:    job.SpaceID,
		SenderID:   job.SenderID,
		Score:      verdict.Score,
		Categories: lo.MapValues(verdict.Categories, func(v bool, _ string) any { return v }),
	}
	user, applied, err := s.repo.ApplyWarning(ctx, event, s.threshold)
	if err != nil {
		observability.ModerationOutcomes.WithLabelValues("error").Inc()
		return err
	}
	if !applied {
		observability.ModerationOutcomes.WithLabelValues("duplicate").Inc()
		return nil
	}

	observability.ModerationOutcomes.WithLabelValues("toxic").Inc()
	if user.Blocked && !models.BlockedAt(user.Warnings-1, s.threshold) {
		observability.UsersBlocked.Inc()
	}

	s.feeds.Publish(ctx, notifications.FeedChange{
		SpaceID:   job.SpaceID,
		Kind:      notifications.ChangeFlagged,
		MessageID: job.MessageID,
	})
	s.notify(ctx, job, user)
	return nil
}

func (s *ModerationService) classify(ctx context.Context, text string) (classifier.Verdict, error) {
	verdict, err := s.classifyOnce(ctx, text)
	if err == nil {
		return verdict, nil
	}

	slog.WarnContext(ctx, "classifier call failed, retrying once", "classifier", s.classifier.Name(), "err", err)
	select {
	case <-ctx.Done():
		return classifier.Verdict{}, ctx.Err()
	case <-time.After(s.retryDelay):
	}
	return s.classifyOnce(ctx, text)
}

func (s *ModerationService) classifyOnce(ctx context.Context, text string) (classifier.Verdict, error) {
	start := time.Now()
	defer func() {
		observability.ClassifierLatency.WithLabelValues(s.classifier.Name()).Observe(time.Since(start).Seconds())
	}()
	return s.classifier.Classify(ctx, text)
}

func (s *ModerationService) notify(ctx context.Context, job ModerationJob, user *models.User) {
	if s.notices == nil {
		return
	}

	notice := models.ModerationNotice{
		Type:      "moderation_notice",
		Level:     models.NoticeLevelWarning,
		Message:   fmt.Sprintf("Your message was flagged as inappropriate. Warning %d of %d.", user.Warnings, s.threshold),
		SpaceID:   job.SpaceID,
		MessageID: job.MessageID,
		Warnings:  user.Warnings,
		Threshold: s.threshold,
		Blocked:   user.Blocked,
	}
	if user.Blocked {
		notice.Level = models.NoticeLevelError
		notice.Message = fmt.Sprintf("Your account is blocked after %d warnings. Unblock it from your profile to send messages again.", user.Warnings)
	}

	payload, err := json.Marshal(notice)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal moderation notice", "err", err)
		return
	}
	if err := s.notices.Publish(ctx, user.Email, string(payload)); err != nil {
		slog.WarnContext(ctx, "failed to publish moderation notice", "user_id", user.Email, "err", err)
	}
}

// FlaggedCount returns how many of userID's messages have been flagged.
func (s *ModerationService) FlaggedCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountFlagged(ctx, userID)
}

// Unblock resets the caller's warnings. Users may only unblock themselves.
func (s *ModerationService) Unblock(ctx context.Context, userID, requesterID string) (*models.User, error) {
	if userID != requesterID {
		return nil, models.NewPermissionError("You can only unblock your own account")
	}
	user, err := s.repo.ResetWarnings(ctx, userID)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "user unblocked", "user_id", userID)
	return user, nil
}
