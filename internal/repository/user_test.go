package repository

import (
	"context"
	"testing"

	"spacechat/internal/cache"
	"spacechat/internal/models"
	"spacechat/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	repo := NewUserRepository(testutil.NewDB(t))
	ctx := context.Background()

	user := &models.User{Email: "a@example.com", FirstName: "Ana", LastName: "Lima", Warnings: 5, Blocked: true}
	require.NoError(t, repo.Create(ctx, user))

	loaded, err := repo.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ana Lima", loaded.DisplayName())
	assert.Zero(t, loaded.Warnings, "new users start clean")
	assert.False(t, loaded.Blocked)

	err = repo.Create(ctx, &models.User{Email: "a@example.com", FirstName: "Ana", LastName: "Lima"})
	assert.True(t, models.HasCode(err, models.CodeValidation))

	_, err = repo.GetByEmail(ctx, "ghost@example.com")
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestUserRepository_ProfileCacheInvalidatedByModeration(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.SetClient(nil) })

	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "b@example.com")
	users := NewUserRepository(db)
	moderation := NewModerationRepository(db, 5)
	ctx := context.Background()

	profile, err := users.GetProfile(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Zero(t, profile.Warnings)
	assert.True(t, mr.Exists(cache.UserKey("b@example.com")))

	_, _, err = moderation.ApplyWarning(ctx, &models.ModerationEvent{MessageID: "m1", SenderID: "b@example.com"}, 3)
	require.NoError(t, err)

	profile, err = users.GetProfile(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.Warnings)
}
