package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	spaceKeyPrefix = "space:"
	userKeyPrefix  = "user:"
)

const (
	SpaceTTL = 2 * time.Minute
	UserTTL  = 5 * time.Minute
)

func SpaceKey(spaceID string) string {
	return spaceKeyPrefix + spaceID
}

func UserKey(email string) string {
	return userKeyPrefix + email
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateSpace(ctx context.Context, spaceID string) {
	Invalidate(ctx, SpaceKey(spaceID))
}

func InvalidateUser(ctx context.Context, email string) {
	Invalidate(ctx, UserKey(email))
}

// Aside tries Redis first; on a miss it calls fetch, which must populate dest,
// then stores dest with ttl. Redis failures degrade to calling fetch.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	if found, err := getJSON(ctx, key, dest); err == nil && found {
		return nil
	}

	if err := fetch(); err != nil {
		return err
	}

	_ = setJSON(ctx, key, dest, ttl)
	return nil
}

func getJSON(ctx context.Context, key string, dest any) (bool, error) {
	if client == nil {
		return false, nil
	}
	s, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

func setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if client == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, b, ttl).Err()
}
