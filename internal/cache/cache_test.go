package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"spacechat/internal/observability"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func withMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	SetClient(rdb)
	t.Cleanup(func() {
		SetClient(nil)
		_ = rdb.Close()
		mr.Close()
	})
	return mr
}

func TestAside_FetchesOnceThenServesFromCache(t *testing.T) {
	mr := withMiniRedis(t)
	ctx := context.Background()
	calls := 0
	fetch := func(dest *profile) func() error {
		return func() error {
			calls++
			*dest = profile{Email: "ana@example.com", Name: "Ana"}
			return nil
		}
	}

	var first profile
	require.NoError(t, Aside(ctx, UserKey("ana@example.com"), &first, UserTTL, fetch(&first)))
	var second profile
	require.NoError(t, Aside(ctx, UserKey("ana@example.com"), &second, UserTTL, fetch(&second)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, "Ana", second.Name)
	assert.True(t, mr.Exists("user:ana@example.com"))

	InvalidateUser(ctx, "ana@example.com")
	assert.False(t, mr.Exists("user:ana@example.com"))
}

func TestAside_DoesNotCacheFetchErrors(t *testing.T) {
	mr := withMiniRedis(t)
	var dest profile
	err := Aside(context.Background(), SpaceKey("s1"), &dest, SpaceTTL, func() error {
		return errors.New("not found")
	})
	assert.Error(t, err)
	assert.False(t, mr.Exists("space:s1"))
}

func TestAside_WithoutRedis(t *testing.T) {
	SetClient(nil)
	calls := 0
	var dest profile
	for i := 0; i < 2; i++ {
		require.NoError(t, Aside(context.Background(), SpaceKey("s1"), &dest, time.Minute, func() error {
			calls++
			return nil
		}))
	}
	assert.Equal(t, 2, calls)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestKeyFamily(t *testing.T) {
	tests := map[string]string{
		UserKey("ana@example.com"):             "user",
		SpaceKey("4c1d"):                       "space",
		"rl:send_message:user:ana@example.com": "rate_limit",
		"ws_ticket:abc":                        "ws_ticket",
		"feed:space:4c1d":                      "pubsub",
		"notifications:user:ana@example.com":   "pubsub",
		"something":                            "other",
	}
	for key, want := range tests {
		assert.Equal(t, want, keyFamily(key), key)
	}
}

func TestConnect(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	ctx := context.Background()

	for _, addr := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		rdb, err := Connect(ctx, addr)
		require.NoError(t, err, addr)
		require.NoError(t, rdb.Set(ctx, "k", "v", 0).Err())
		_ = rdb.Close()
	}

	_, err = Connect(ctx, "")
	assert.Error(t, err)
	_, err = Connect(ctx, "redis://%zz")
	assert.Error(t, err)

	mr.Close()
	_, err = Connect(ctx, mr.Addr())
	assert.Error(t, err)
}

func TestCommandHook_CountsCacheLookups(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	SetClient(rdb)
	t.Cleanup(func() {
		SetClient(nil)
		_ = rdb.Close()
	})

	hits := counterValue(t, observability.CacheLookups.WithLabelValues("space", "hit"))
	misses := counterValue(t, observability.CacheLookups.WithLabelValues("space", "miss"))

	var dest profile
	fetch := func() error { dest = profile{Name: "Sports"}; return nil }
	require.NoError(t, Aside(context.Background(), SpaceKey("s1"), &dest, SpaceTTL, fetch))
	require.NoError(t, Aside(context.Background(), SpaceKey("s1"), &dest, SpaceTTL, fetch))

	assert.Equal(t, misses+1, counterValue(t, observability.CacheLookups.WithLabelValues("space", "miss")))
	assert.Equal(t, hits+1, counterValue(t, observability.CacheLookups.WithLabelValues("space", "hit")))
}
