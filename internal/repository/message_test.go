package repository

import (
	"context"
	"fmt"
	"testing"

	"spacechat/internal/models"
	"spacechat/internal/testutil"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRepository_SeqAndPagination(t *testing.T) {
	db := testutil.NewDB(t)
	spaces := NewSpaceRepository(db, 5)
	repo := NewMessageRepository(db, 5)
	ctx := context.Background()
	space := newSpace(t, spaces, "Sports", "a@example.com")

	var sent []string
	for i := 1; i <= 23; i++ {
		msg := &models.Message{SpaceID: space.ID, Body: fmt.Sprintf("msg %d", i), SenderID: "a@example.com"}
		require.NoError(t, repo.Create(ctx, msg))
		assert.Equal(t, int64(i), msg.Seq)
		assert.False(t, msg.Flagged)
		sent = append(sent, msg.ID)
	}

	latest, hasMore, err := repo.Latest(ctx, space.ID, 10)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, latest, 10)
	assert.Equal(t, int64(14), latest[0].Seq)
	assert.Equal(t, int64(23), latest[9].Seq)

	pages := [][]models.Message{latest}
	cursor := latest[0].Seq
	for hasMore {
		var page []models.Message
		page, hasMore, err = repo.Before(ctx, space.ID, cursor, 10)
		require.NoError(t, err)
		require.NotEmpty(t, page)
		cursor = page[0].Seq
		pages = append([][]models.Message{page}, pages...)
	}

	all := lo.Flatten(pages)
	assert.Equal(t, sent, lo.Map(all, func(m models.Message, _ int) string { return m.ID }))

	again, more, err := repo.Before(ctx, space.ID, 4, 10)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Len(t, again, 3)
}

func TestMessageRepository_CreateMissingSpace(t *testing.T) {
	repo := NewMessageRepository(testutil.NewDB(t), 5)
	err := repo.Create(context.Background(), &models.Message{SpaceID: "missing", Body: "hi", SenderID: "a@example.com"})
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestMessageRepository_Delete(t *testing.T) {
	db := testutil.NewDB(t)
	spaces := NewSpaceRepository(db, 5)
	repo := NewMessageRepository(db, 5)
	ctx := context.Background()
	space := newSpace(t, spaces, "Sports", "a@example.com")

	msg := &models.Message{SpaceID: space.ID, Body: "hello", SenderID: "a@example.com"}
	require.NoError(t, repo.Create(ctx, msg))

	_, err := repo.Delete(ctx, space.ID, msg.ID, "b@example.com")
	assert.True(t, models.HasCode(err, models.CodePermissionDenied))

	deleted, err := repo.Delete(ctx, space.ID, msg.ID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, deleted.ID)

	_, err = repo.GetByID(ctx, space.ID, msg.ID)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	_, err = repo.Delete(ctx, space.ID, msg.ID, "a@example.com")
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestMessageRepository_ToggleLike(t *testing.T) {
	db := testutil.NewDB(t)
	spaces := NewSpaceRepository(db, 5)
	repo := NewMessageRepository(db, 5)
	ctx := context.Background()
	space := newSpace(t, spaces, "Sports", "a@example.com")

	msg := &models.Message{SpaceID: space.ID, Body: "hello", SenderID: "a@example.com"}
	require.NoError(t, repo.Create(ctx, msg))

	updated, liked, err := repo.ToggleLike(ctx, space.ID, msg.ID, "b@example.com")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 1, updated.LikeCount)

	updated, liked, err = repo.ToggleLike(ctx, space.ID, msg.ID, "c@example.com")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 2, updated.LikeCount)

	updated, liked, err = repo.ToggleLike(ctx, space.ID, msg.ID, "b@example.com")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, 1, updated.LikeCount)

	var likes int64
	db.Model(&models.MessageLike{}).Where("message_id = ?", msg.ID).Count(&likes)
	assert.Equal(t, int64(updated.LikeCount), likes)
}

func TestMessageRepository_RecentForMember(t *testing.T) {
	db := testutil.NewDB(t)
	spaces := NewSpaceRepository(db, 5)
	repo := NewMessageRepository(db, 5)
	ctx := context.Background()

	mine := newSpace(t, spaces, "Mine", "a@example.com")
	theirs := newSpace(t, spaces, "Theirs", "b@example.com")
	require.NoError(t, repo.Create(ctx, &models.Message{SpaceID: mine.ID, Body: "one", SenderID: "a@example.com"}))
	require.NoError(t, repo.Create(ctx, &models.Message{SpaceID: theirs.ID, Body: "hidden", SenderID: "b@example.com"}))
	require.NoError(t, repo.Create(ctx, &models.Message{SpaceID: mine.ID, Body: "two", SenderID: "a@example.com"}))

	recent, err := repo.RecentForMember(ctx, "a@example.com", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	for _, m := range recent {
		assert.Equal(t, mine.ID, m.SpaceID)
	}
}
