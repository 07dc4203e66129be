package middleware

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RedisErrors counts failed Redis commands by command name and key family.
var RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spacechat_redis_errors_total",
	Help: "Total number of failed Redis commands",
}, []string{"command", "family"})

// RateLimitDecisions counts rate limit outcomes by limit name.
var RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spacechat_rate_limit_decisions_total",
	Help: "Rate limit decisions by limit name and outcome",
}, []string{"limit", "outcome"})

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// InitMetrics builds the HTTP metrics collector. Collectors register with the
// default registry, so every server in the process shares one instance.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New(serviceName)
	})
	return prom
}

// MetricsMiddleware records request metrics, skipping the scrape endpoint itself.
func MetricsMiddleware(prom *fiberprometheus.FiberPrometheus) fiber.Handler {
	handler := prom.Middleware
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}
		return handler(c)
	}
}
