// Package cache is the Redis layer: the shared client plus the cache-aside
// helpers the repositories use for users and spaces.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"spacechat/internal/middleware"
	"spacechat/internal/observability"

	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// keyFamily groups Redis keys and channels for metric labels so that user
// emails and space IDs never become label values.
func keyFamily(key string) string {
	switch {
	case strings.HasPrefix(key, userKeyPrefix):
		return "user"
	case strings.HasPrefix(key, spaceKeyPrefix):
		return "space"
	case strings.HasPrefix(key, "rl:"):
		return "rate_limit"
	case strings.HasPrefix(key, "ws_ticket:"):
		return "ws_ticket"
	case strings.HasPrefix(key, "notifications:"), strings.HasPrefix(key, "feed:"):
		return "pubsub"
	default:
		return "other"
	}
}

func cmdFamily(cmd redis.Cmder) string {
	args := cmd.Args()
	if len(args) < 2 {
		return "none"
	}
	key, ok := args[1].(string)
	if !ok {
		return "other"
	}
	return keyFamily(key)
}

// commandHook counts failed commands and cache lookups by key family.
type commandHook struct{}

func (commandHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (commandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		family := cmdFamily(cmd)

		if cmd.Name() == "get" && (family == "user" || family == "space") {
			switch {
			case err == nil:
				observability.CacheLookups.WithLabelValues(family, "hit").Inc()
			case errors.Is(err, redis.Nil):
				observability.CacheLookups.WithLabelValues(family, "miss").Inc()
			}
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			middleware.RedisErrors.WithLabelValues(cmd.Name(), family).Inc()
		}
		return err
	}
}

func (commandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			family := "none"
			if len(cmds) > 0 {
				family = cmdFamily(cmds[0])
			}
			middleware.RedisErrors.WithLabelValues("pipeline", family).Inc()
		}
		return err
	}
}

// Connect opens a client for addr, which is either host:port or a redis://
// URL, and pings it. The returned client carries the command hook.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}

	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL %q: %w", addr, err)
		}
		opts = parsed
	}

	rdb := redis.NewClient(opts)
	rdb.AddHook(commandHook{})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// InitRedis connects and installs the client used by the cache helpers. When
// Redis is unreachable the client stays nil: caching is skipped and live
// updates stay in-process.
func InitRedis(addr string) {
	rdb, err := Connect(context.Background(), addr)
	if err != nil {
		log.Printf("Redis connection warning: %v (continuing without cache)", err)
		client = nil
		return
	}
	client = rdb
	log.Println("Redis connected successfully")
}

// GetClient returns the current Redis client instance.
func GetClient() *redis.Client {
	return client
}

// SetClient replaces the client, e.g. with one pointed at miniredis in tests.
func SetClient(c *redis.Client) {
	client = c
}
