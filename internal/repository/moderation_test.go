package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"spacechat/internal/models"
	"spacechat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModerationRepository_WarningsBlockAtThreshold(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "b@example.com")
	spaces := NewSpaceRepository(db, 5)
	messages := NewMessageRepository(db, 5)
	repo := NewModerationRepository(db, 5)
	ctx := context.Background()
	space := newSpace(t, spaces, "Sports", "a@example.com")

	for i := 1; i <= 3; i++ {
		msg := &models.Message{SpaceID: space.ID, Body: fmt.Sprintf("toxic %d", i), SenderID: "b@example.com"}
		require.NoError(t, messages.Create(ctx, msg))

		user, applied, err := repo.ApplyWarning(ctx, &models.ModerationEvent{
			MessageID:  msg.ID,
			SpaceID:    space.ID,
			SenderID:   "b@example.com",
			Score:      0.9,
			Categories: map[string]any{"general_toxicity": true},
		}, models.DefaultBlockThreshold)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, i, user.Warnings)
		assert.Equal(t, i >= 3, user.Blocked)

		flagged, err := messages.GetByID(ctx, space.ID, msg.ID)
		require.NoError(t, err)
		assert.True(t, flagged.Flagged)
	}

	var event models.ModerationEvent
	require.NoError(t, db.First(&event).Error)
	assert.Equal(t, true, event.Categories["general_toxicity"])

	_, err := repo.ResetWarnings(ctx, "b@example.com")
	require.NoError(t, err)
	flagged, err := repo.CountFlagged(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(3), flagged)

	flagged, err = repo.CountFlagged(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Zero(t, flagged)
}

func TestModerationRepository_ApplyWarningIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "b@example.com")
	repo := NewModerationRepository(db, 5)
	ctx := context.Background()

	event := func() *models.ModerationEvent {
		return &models.ModerationEvent{MessageID: "m1", SpaceID: "s1", SenderID: "b@example.com"}
	}

	user, applied, err := repo.ApplyWarning(ctx, event(), 3)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, user.Warnings)

	user, applied, err = repo.ApplyWarning(ctx, event(), 3)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, user.Warnings)
}

func TestModerationRepository_ConcurrentWarningsAreNotLost(t *testing.T) {
	const messagesSent = 6

	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "b@example.com")
	repo := NewModerationRepository(db, 20)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		applied atomic.Int64
		errs    = make(chan error, messagesSent*2)
	)
	// Every message is evaluated twice, as a redelivered job would be.
	for i := 0; i < messagesSent*2; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, ok, err := repo.ApplyWarning(ctx, &models.ModerationEvent{
				MessageID: id,
				SpaceID:   "s1",
				SenderID:  "b@example.com",
			}, models.DefaultBlockThreshold)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				applied.Add(1)
			}
		}(fmt.Sprintf("m%d", i%messagesSent))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var user models.User
	require.NoError(t, db.First(&user, "email = ?", "b@example.com").Error)
	assert.Equal(t, messagesSent, user.Warnings)
	assert.Equal(t, messagesSent >= models.DefaultBlockThreshold, user.Blocked)
	assert.Equal(t, int64(messagesSent), applied.Load())

	var events int64
	require.NoError(t, db.Model(&models.ModerationEvent{}).Count(&events).Error)
	assert.Equal(t, int64(messagesSent), events)
}

func TestModerationRepository_ApplyWarningUnknownUser(t *testing.T) {
	repo := NewModerationRepository(testutil.NewDB(t), 5)
	_, _, err := repo.ApplyWarning(context.Background(), &models.ModerationEvent{MessageID: "m1", SenderID: "ghost@example.com"}, 3)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestModerationRepository_ResetWarnings(t *testing.T) {
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "b@example.com")
	require.NoError(t, db.Model(user).Updates(map[string]any{"warnings": 4, "blocked": true}).Error)
	repo := NewModerationRepository(db, 5)

	reset, err := repo.ResetWarnings(context.Background(), "b@example.com")
	require.NoError(t, err)
	assert.Zero(t, reset.Warnings)
	assert.False(t, reset.Blocked)

	_, err = repo.ResetWarnings(context.Background(), "ghost@example.com")
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}
