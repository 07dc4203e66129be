package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"spacechat/internal/classifier"
	"spacechat/internal/featureflags"
	"spacechat/internal/models"
	"spacechat/internal/notifications"
	"spacechat/internal/repository"
	"spacechat/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// keywordClassifier flags any text containing "toxic", or everything when flagAll is set.
type keywordClassifier struct {
	mu      sync.Mutex
	err     error
	flagAll bool
	calls   int
}

func (k *keywordClassifier) Name() string { return "keyword" }

func (k *keywordClassifier) Classify(_ context.Context, text string) (classifier.Verdict, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls++
	if k.err != nil {
		return classifier.Verdict{}, k.err
	}
	if k.flagAll || strings.Contains(strings.ToLower(text), "toxic") {
		return classifier.Verdict{Toxic: true, Score: 0.97, Categories: map[string]bool{"general_toxicity": true}}, nil
	}
	return classifier.Verdict{Score: 0.02}, nil
}

func (k *keywordClassifier) set(flagAll bool, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.flagAll = flagAll
	k.err = err
}

func (k *keywordClassifier) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

// noticeRecorder captures moderation notices per user.
type noticeRecorder struct {
	mu      sync.Mutex
	notices map[string][]models.ModerationNotice
}

func (r *noticeRecorder) Publish(_ context.Context, userID, payload string) error {
	var n models.ModerationNotice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notices == nil {
		r.notices = make(map[string][]models.ModerationNotice)
	}
	r.notices[userID] = append(r.notices[userID], n)
	return nil
}

func (r *noticeRecorder) For(userID string) []models.ModerationNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ModerationNotice(nil), r.notices[userID]...)
}

// inlineSubmitter evaluates jobs synchronously so tests observe moderation
// results as soon as Send returns.
type inlineSubmitter struct {
	t          *testing.T
	moderation *ModerationService
}

func (s *inlineSubmitter) Submit(job ModerationJob) {
	if s.moderation == nil {
		return
	}
	if err := s.moderation.Evaluate(context.Background(), job); err != nil && !models.HasCode(err, models.CodeClassifierUnavailable) {
		s.t.Errorf("evaluate %s: %v", job.MessageID, err)
	}
}

type testEnv struct {
	db          *gorm.DB
	users       repository.UserRepository
	spaces      repository.SpaceRepository
	messages    repository.MessageRepository
	feeds       *notifications.FeedHub
	classifier  *keywordClassifier
	notices     *noticeRecorder
	membership  *MembershipService
	feed        *FeedService
	moderation  *ModerationService
	coordinator *Coordinator
}

func newTestEnv(t *testing.T, flags string) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	env := &testEnv{
		db:         db,
		users:      repository.NewUserRepository(db),
		spaces:     repository.NewSpaceRepository(db, repository.DefaultTxAttempts),
		messages:   repository.NewMessageRepository(db, repository.DefaultTxAttempts),
		feeds:      notifications.NewFeedHub(nil),
		classifier: &keywordClassifier{},
		notices:    &noticeRecorder{},
	}
	submitter := &inlineSubmitter{t: t}

	env.membership = NewMembershipService(env.spaces, env.users, env.feeds)
	env.moderation = NewModerationService(
		env.classifier,
		repository.NewModerationRepository(db, repository.DefaultTxAttempts),
		env.feeds,
		env.notices,
		ModerationOptions{BlockThreshold: models.DefaultBlockThreshold},
	)
	submitter.moderation = env.moderation
	env.feed = NewFeedService(env.spaces, env.messages, env.users, env.feeds, submitter, FeedOptions{PageSize: 15})
	env.coordinator = NewCoordinator(CoordinatorDeps{
		Users:              env.users,
		Membership:         env.membership,
		Feed:               env.feed,
		Moderation:         env.moderation,
		Flags:              featureflags.NewManager(flags),
		AllowedEmailDomain: "example.com",
	})
	return env
}

func (e *testEnv) register(t *testing.T, email, first, last string) Identity {
	t.Helper()
	id := NewIdentity(email)
	_, err := e.coordinator.RegisterUser(context.Background(), id, first, last)
	require.NoError(t, err)
	return id
}
