package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/multidb-router/backend/internal/api/handlers"
	"github.com/multidb-router/backend/internal/audit"
	"github.com/multidb-router/backend/internal/backend"
	"github.com/multidb-router/backend/internal/backend/mongo"
	"github.com/multidb-router/backend/internal/backend/postgres"
	"github.com/multidb-router/backend/internal/engine"
	"github.com/multidb-router/backend/internal/metrics"
	"github.com/multidb-router/backend/internal/middleware/ratelimit"
	"github.com/multidb-router/backend/internal/middleware/security"
	"github.com/multidb-router/backend/internal/middleware/validation"
	"github.com/multidb-router/backend/internal/routing"
	"github.com/multidb-router/backend/internal/safety"
	"github.com/multidb-router/backend/internal/storage/sqlite"
	"github.com/multidb-router/backend/pkg/config"
	appLogger "github.com/multidb-router/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting multi-database query router")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.Audit.SQLitePath)
	if err != nil {
		appLogger.Fatal("Failed to create audit store", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err = sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize audit schema", zap.Error(err))
	}

	var tokenStore safety.TokenStore
	switch cfg.Safety.TokenStore {
	case "redis":
		tokenStore, err = safety.NewRedisStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to connect token store", zap.Error(err))
		}
	default:
		tokenStore = safety.NewMemoryStore()
	}
	defer tokenStore.Close()

	opts := backend.Options{
		MaxResults: cfg.Adapter.MaxResults,
		Timeout:    time.Duration(cfg.Adapter.TimeoutSec) * time.Second,
		ReadOnly:   cfg.Adapter.ReadOnly,
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(),
		time.Duration(cfg.Mongo.ConnectSec)*time.Second)
	defer cancelConnect()

	storeA, err := mongo.NewAdapter(connectCtx, backend.StoreA, cfg.Mongo.URI, cfg.Mongo.DatabaseA, opts)
	if err != nil {
		appLogger.Fatal("Failed to connect primary document store", zap.Error(err))
	}
	storeB, err := mongo.NewAdapter(connectCtx, backend.StoreB, cfg.Mongo.URI, cfg.Mongo.DatabaseB, opts)
	if err != nil {
		appLogger.Fatal("Failed to connect secondary document store", zap.Error(err))
	}
	storeC, err := postgres.NewAdapter(connectCtx, backend.StoreC, cfg.Postgres.URL, cfg.Postgres.MaxConns, opts)
	if err != nil {
		appLogger.Fatal("Failed to connect relational store", zap.Error(err))
	}

	registry := backend.NewRegistry(storeA, storeB, storeC)
	defer registry.Close(context.Background())

	var publisher *audit.Publisher
	if cfg.Audit.NATSEnabled {
		publisher, err = audit.NewPublisher(cfg.Audit.NATSURL, cfg.Audit.NATSSubject)
		if err != nil {
			appLogger.Fatal("Failed to connect audit publisher", zap.Error(err))
		}
		defer publisher.Close()
	}

	recorder := audit.NewRecorder(sqliteClient, publisher)

	classifier := routing.NewClassifier(routing.NewExtractor(),
		cfg.Routing.MinConfidence, cfg.Routing.DecisionCacheTTL)
	gate := safety.NewGate(tokenStore, cfg.Safety.TokenTTL)

	eng := engine.New(classifier, gate, registry, recorder, engine.Config{
		ReadOnly:     cfg.Adapter.ReadOnly,
		DefaultLimit: cfg.Adapter.MaxResults,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Server.Environment == "development",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimit,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.Named("validation"),
	}))

	queryHandler := handlers.NewQueryHandler(eng, registry)
	auditHandler := handlers.NewAuditHandler(recorder)
	wsHandler := handlers.NewWebSocketHandler(recorder)

	api := app.Group("/api/v1")

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/backends", queryHandler.HandleBackends)

	api.Get("/audit", auditHandler.HandleList)
	api.Get("/audit/stream", websocket.New(wsHandler.HandleStream))
	api.Get("/audit/:id", auditHandler.HandleGet)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		for _, info := range registry.Describe(c.Context()) {
			if info.Status != "connected" {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status":  "not ready",
					"backend": info.ID,
				})
			}
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
