package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"spacechat/internal/cache"
	"spacechat/internal/classifier"
	"spacechat/internal/config"
	"spacechat/internal/database"
	"spacechat/internal/featureflags"
	"spacechat/internal/middleware"
	"spacechat/internal/models"
	"spacechat/internal/notifications"
	"spacechat/internal/repository"
	"spacechat/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	verifier       *middleware.IdentityVerifier
	userRepo       repository.UserRepository
	notifier       *notifications.Notifier
	hub            *notifications.Hub
	feedHub        *notifications.FeedHub
	dispatcher     *service.Dispatcher
	moderation     *service.ModerationService
	coordinator    *service.Coordinator
	featureFlags   *featureflags.Manager
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis. redisClient
// may be nil, in which case live updates stay in-process.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	attempts := cfg.StoreTxMaxAttempts
	if attempts <= 0 {
		attempts = repository.DefaultTxAttempts
	}

	userRepo := repository.NewUserRepository(db)
	spaceRepo := repository.NewSpaceRepository(db, attempts)
	messageRepo := repository.NewMessageRepository(db, attempts)
	moderationRepo := repository.NewModerationRepository(db, attempts)

	flags := featureflags.NewManager(cfg.FeatureFlags)
	clf, err := newClassifier(cfg, flags)
	if err != nil {
		return nil, fmt.Errorf("classifier setup failed: %w", err)
	}

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("spacechat-api"),
		verifier:       middleware.NewIdentityVerifier(cfg),
		userRepo:       userRepo,
		notifier:       notifications.NewNotifier(redisClient),
		hub:            notifications.NewHub(),
		featureFlags:   flags,
	}
	server.feedHub = notifications.NewFeedHub(server.notifier)

	server.moderation = service.NewModerationService(clf, moderationRepo, server.feedHub, server.hub, service.ModerationOptions{
		BlockThreshold: cfg.ModerationBlockThreshold,
		RetryDelay:     time.Duration(cfg.ClassifierRetryDelayMS) * time.Millisecond,
	})
	server.dispatcher = service.NewDispatcher(server.moderation, cfg.ModerationWorkers, cfg.ModerationQueueSize)

	membership := service.NewMembershipService(spaceRepo, userRepo, server.feedHub)
	feed := service.NewFeedService(spaceRepo, messageRepo, userRepo, server.feedHub, server.dispatcher, service.FeedOptions{
		PageSize:    cfg.FeedPageSize,
		MaxPageSize: cfg.FeedMaxPageSize,
	})
	server.coordinator = service.NewCoordinator(service.CoordinatorDeps{
		Users:              userRepo,
		Membership:         membership,
		Feed:               feed,
		Moderation:         server.moderation,
		Flags:              flags,
		AllowedEmailDomain: cfg.AllowedEmailDomain,
	})

	return server, nil
}

// newClassifier builds the configured classifier. The external service falls
// back to the local rules for users in the pattern_fallback rollout.
func newClassifier(cfg *config.Config, flags *featureflags.Manager) (classifier.Classifier, error) {
	primary, err := classifier.New(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.ClassifierMode == "local" || !flags.Configured(featureflags.PatternFallback) {
		return primary, nil
	}

	local, err := classifier.NewPatternClassifier()
	if err != nil {
		return nil, err
	}
	return classifier.NewFallback(primary, local, func(ctx context.Context) bool {
		userID, _ := ctx.Value(middleware.UserIDKey).(string)
		return flags.Enabled(featureflags.PatternFallback, userID)
	}), nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so error responses still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Global rate limiting (200 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        200,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithError(c, fiber.StatusTooManyRequests, models.NewRateLimitedError("api"))
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")

	// WebSocket ticket issuance must precede the /ws group below.
	api.Post("/ws/ticket", s.AuthRequired(), middleware.RateLimit(s.redis, middleware.WSTicketLimit), s.IssueWSTicket)

	ws := api.Group("/ws", s.AuthRequired())
	ws.Get("/", s.WebsocketHandler())
	ws.Get("/spaces/:id", s.WebSocketFeedHandler())

	protected := api.Group("", s.AuthRequired())

	users := protected.Group("/users")
	users.Post("/", middleware.RateLimit(s.redis, middleware.RegisterLimit), s.RegisterUser)
	users.Get("/me", s.GetMe)
	users.Get("/me/feature-flags", s.GetMyFeatureFlags)
	users.Post("/:email/unblock", s.UnblockUser)

	spaces := protected.Group("/spaces")
	spaces.Get("/", s.ListSpaces)
	spaces.Post("/", middleware.RateLimit(s.redis, middleware.CreateSpaceLimit), s.CreateSpace)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	spaces.Get("/:id/messages", s.GetMessages)
	spaces.Post("/:id/messages", middleware.RateLimit(s.redis, middleware.SendMessageLimit), s.SendMessage)
	spaces.Delete("/:id/messages/:messageId", s.DeleteMessage)
	spaces.Post("/:id/messages/:messageId/like", s.ToggleLike)
	spaces.Post("/:id/join", s.JoinSpace)
	spaces.Post("/:id/leave", s.LeaveSpace)
	spaces.Delete("/:id", s.DeleteSpace)

	messages := protected.Group("/messages")
	messages.Get("/recent", s.GetRecentMessages)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis is optional; without it live updates stay in-process.
	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	app := fiber.New(fiber.Config{
		AppName: "Spacechat API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, err)
			}
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	s.startBackground()

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// startBackground launches the moderation workers and the Redis wiring that
// live until Shutdown.
func (s *Server) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.dispatcher.Start(ctx)
	s.startWiring(ctx)
}

// startWiring subscribes both hubs to Redis when it is available.
func (s *Server) startWiring(ctx context.Context) {
	if !s.notifier.Enabled() {
		wsLog.LogLifecycle(ctx, "wiring_skipped", map[string]any{"reason": "redis disabled"})
		return
	}
	wsLog.LogLifecycle(ctx, "wiring_started", map[string]any{"hubs": []string{s.hub.Name(), "feed"}})
	go func() {
		if err := s.hub.StartWiring(ctx, s.notifier); err != nil {
			log.Printf("failed to start %s wiring: %v", s.hub.Name(), err)
		}
	}()
	go func() {
		if err := s.feedHub.StartWiring(ctx); err != nil {
			log.Printf("failed to start feed hub wiring: %v", err)
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	// Messages already stored still get evaluated before the store goes away.
	if err := s.dispatcher.Shutdown(ctx); err != nil {
		log.Printf("error draining moderation queue: %v", err)
	}

	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if err := s.feedHub.Shutdown(ctx); err != nil {
		log.Printf("error shutting down feed hub: %v", err)
	}
	if err := s.hub.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s: %v", s.hub.Name(), err)
	}
	wsLog.LogLifecycle(ctx, "hubs_stopped", nil)

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
