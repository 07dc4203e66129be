package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitSignal(t *testing.T, l *FeedListener) {
	t.Helper()
	select {
	case <-l.C:
	case <-time.After(testEventuallyTimeout):
		t.Fatal("expected a feed signal")
	}
}

func TestFeedHub_LocalDispatchCoalesces(t *testing.T) {
	hub := NewFeedHub(nil)
	l := hub.Listen("s1")
	other := hub.Listen("s2")
	defer l.Close()
	defer other.Close()

	for i := 0; i < 5; i++ {
		hub.Publish(context.Background(), FeedChange{SpaceID: "s1", Kind: ChangeCreated, Seq: int64(i + 1)})
	}

	waitSignal(t, l)
	select {
	case <-l.C:
		t.Fatal("signals must coalesce into one")
	default:
	}
	assert.Empty(t, other.C)
	assert.False(t, l.SpaceDeleted())
}

func TestFeedHub_SpaceDeletedAndClose(t *testing.T) {
	hub := NewFeedHub(nil)
	l := hub.Listen("s1")
	assert.Equal(t, 1, hub.ListenerCount("s1"))

	hub.Dispatch(FeedChange{SpaceID: "s1", Kind: ChangeSpaceDeleted})
	waitSignal(t, l)
	assert.True(t, l.SpaceDeleted())

	l.Close()
	l.Close()
	assert.True(t, l.Closed())
	assert.Zero(t, hub.ListenerCount("s1"))

	hub.Dispatch(FeedChange{SpaceID: "s1", Kind: ChangeCreated})
	assert.Empty(t, l.C)
}

func TestFeedHub_RedisWiringReachesOtherHubs(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := NewFeedHub(NewNotifier(rdb))
	receiver := NewFeedHub(NewNotifier(rdb))
	require.NoError(t, publisher.StartWiring(ctx))
	require.NoError(t, receiver.StartWiring(ctx))

	l := receiver.Listen("s1")
	defer l.Close()

	publisher.Publish(context.Background(), FeedChange{SpaceID: "s1", Kind: ChangeDeleted, MessageID: "m1"})
	waitSignal(t, l)
}

func TestFeedHub_ShutdownWakesListeners(t *testing.T) {
	hub := NewFeedHub(nil)
	l := hub.Listen("s1")

	require.NoError(t, hub.Shutdown(context.Background()))
	waitSignal(t, l)
	assert.True(t, l.Closed())
}
