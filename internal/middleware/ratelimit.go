// Package middleware provides HTTP middleware: identity, logging, metrics, rate limiting, tracing.
package middleware

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"spacechat/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed answers 503 if Redis is unavailable.
	FailClosed
)

// Limit is a named request budget: at most Max calls per Window per caller.
type Limit struct {
	Name   string
	Max    int
	Window time.Duration
	Policy FailPolicy
}

// Budgets for the write endpoints.
var (
	RegisterLimit    = Limit{Name: "register", Max: 5, Window: 10 * time.Minute}
	CreateSpaceLimit = Limit{Name: "create_space", Max: 5, Window: 10 * time.Minute}
	SendMessageLimit = Limit{Name: "send_message", Max: 30, Window: time.Minute}
	WSTicketLimit    = Limit{Name: "ws_ticket", Max: 20, Window: time.Minute, Policy: FailClosed}
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

var errNoStore = errors.New("rate limit store not configured")

// rateLimitBypassed is true in test, development and stress environments so
// local and load test workflows are not throttled.
func rateLimitBypassed() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

func rateLimitKey(name, caller string) string {
	return "rl:" + name + ":" + caller
}

// CheckRateLimit counts one call by caller against l. The counter and its
// expiry are read in one transaction; a counter that lost its TTL gets it back.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, l Limit, caller string) (Decision, error) {
	if rateLimitBypassed() {
		return Decision{Allowed: true, Remaining: l.Max}, nil
	}
	if rdb == nil {
		return Decision{}, errNoStore
	}

	key := rateLimitKey(l.Name, caller)
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return Decision{}, err
	}

	retryAfter := ttl.Val()
	if retryAfter < 0 {
		if err := rdb.Expire(ctx, key, l.Window).Err(); err != nil {
			return Decision{}, err
		}
		retryAfter = l.Window
	}

	count := int(incr.Val())
	if count > l.Max {
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true, Remaining: l.Max - count}, nil
}

// RateLimit enforces l per authenticated email, or per remote IP before
// authentication.
func RateLimit(rdb *redis.Client, l Limit) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := "ip:" + c.IP()
		if email, ok := c.Locals(LocalsUserID).(string); ok && email != "" {
			caller = "user:" + email
		}

		decision, err := CheckRateLimit(c.UserContext(), rdb, l, caller)
		if err != nil {
			RateLimitDecisions.WithLabelValues(l.Name, "store_error").Inc()
			if l.Policy == FailClosed {
				log.Printf("rate limit %s unavailable, rejecting %s: %v", l.Name, c.Path(), err)
				return models.RespondWithError(c, fiber.StatusServiceUnavailable, models.NewTransientStoreError(err))
			}
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(l.Max))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			RateLimitDecisions.WithLabelValues(l.Name, "rejected").Inc()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(decision.RetryAfter.Round(time.Second).Seconds())))
			return models.RespondWithError(c, fiber.StatusTooManyRequests, models.NewRateLimitedError(l.Name))
		}
		RateLimitDecisions.WithLabelValues(l.Name, "allowed").Inc()
		return c.Next()
	}
}
