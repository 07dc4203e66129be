package notifications

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.PublishUser(context.Background(), "ana@example.com", "test payload"))
	assert.NoError(t, n.PublishFeedChange(context.Background(), FeedChange{SpaceID: "s1", Kind: ChangeCreated}))
	assert.NoError(t, n.StartPatternSubscriber(context.Background(), func(string, string) {}))
}

func TestChannels(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "notifications:user:ana@example.com", UserChannel("ana@example.com"))
	assert.Equal(t, "feed:space:abc", FeedChannel("abc"))
}

func TestNotifier_FeedSubscriberReceivesChanges(t *testing.T) {
	n := NewNotifier(newTestRedis(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan FeedChange, 1)
	require.NoError(t, n.StartFeedSubscriber(ctx, func(channel, payload string) {
		assert.Equal(t, FeedChannel("s1"), channel)
		var change FeedChange
		require.NoError(t, json.Unmarshal([]byte(payload), &change))
		got <- change
	}))

	require.NoError(t, n.PublishFeedChange(context.Background(), FeedChange{SpaceID: "s1", Kind: ChangeFlagged, MessageID: "m1", Seq: 3}))

	select {
	case change := <-got:
		assert.Equal(t, ChangeFlagged, change.Kind)
		assert.Equal(t, int64(3), change.Seq)
	case <-time.After(testEventuallyTimeout):
		t.Fatal("feed change not delivered")
	}
}

func TestNotifier_SubscriberStopsOnCancel(t *testing.T) {
	n := NewNotifier(newTestRedis(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received int32
	payloads := make(chan string, 2)
	require.NoError(t, n.StartPatternSubscriber(ctx, func(_ string, payload string) {
		atomic.AddInt32(&received, 1)
		payloads <- payload
	}))

	require.NoError(t, n.PublishUser(context.Background(), "ana@example.com", "before-cancel"))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) >= 1
	}, testEventuallyTimeout, testPollInterval)

	cancel()
	time.Sleep(20 * time.Millisecond)

	select {
	case <-payloads:
	default:
	}

	_ = n.PublishUser(context.Background(), "ana@example.com", "after-cancel")
	assert.Never(t, func() bool {
		select {
		case payload := <-payloads:
			return payload == "after-cancel"
		default:
			return false
		}
	}, 200*time.Millisecond, testPollInterval)
}
