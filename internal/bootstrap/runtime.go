// Package bootstrap wires process-wide runtime state shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"spacechat/internal/cache"
	"spacechat/internal/config"
	"spacechat/internal/database"
	"spacechat/internal/middleware"
	"spacechat/internal/observability"
	"spacechat/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	ServiceName string
	// SeedDemo fills an empty database with demo data. Ignored in production.
	SeedDemo bool
}

// Runtime is the initialized process state.
type Runtime struct {
	DB            *gorm.DB
	Redis         *redis.Client
	ShutdownTrace func(context.Context) error
}

// InitRuntime installs the structured logger, starts tracing, connects to the
// database and Redis, and optionally seeds demo data.
func InitRuntime(cfg *config.Config, opts Options) (*Runtime, error) {
	slog.SetDefault(middleware.Logger)

	if opts.ServiceName == "" {
		opts.ServiceName = "spacechat-api"
	}
	shutdownTrace, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    opts.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup failed: %w", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()
	if r == nil {
		log.Println("Redis unavailable: live updates and caching stay in-process")
	}

	if opts.SeedDemo && !cfg.IsProduction() {
		if err := seedIfEmpty(db); err != nil {
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return &Runtime{DB: db, Redis: r, ShutdownTrace: shutdownTrace}, nil
}

func seedIfEmpty(db *gorm.DB) error {
	var spaces int64
	if err := db.Table("spaces").Count(&spaces).Error; err != nil {
		return err
	}
	if spaces > 0 {
		return nil
	}
	_, err := seed.Seed(context.Background(), db, seed.Options{NumUsers: 8, NumSpaces: 5, MessagesPerSpace: 30})
	return err
}
