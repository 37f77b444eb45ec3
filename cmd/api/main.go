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

	"github.com/excelgpt/backend/internal/agent"
	"github.com/excelgpt/backend/internal/api/handlers"
	"github.com/excelgpt/backend/internal/batch"
	"github.com/excelgpt/backend/internal/cache/redis"
	"github.com/excelgpt/backend/internal/dataset"
	"github.com/excelgpt/backend/internal/llm"
	"github.com/excelgpt/backend/internal/metrics"
	"github.com/excelgpt/backend/internal/middleware/ratelimit"
	"github.com/excelgpt/backend/internal/middleware/security"
	"github.com/excelgpt/backend/internal/query"
	"github.com/excelgpt/backend/internal/storage/sqlite"
	"github.com/excelgpt/backend/pkg/config"
	"github.com/excelgpt/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dataset loads at startup but a failure is not fatal: the service comes
	// up degraded and POST /init retries once the files are in place.
	data := dataset.NewStore(cfg.Data.CSVPath, cfg.Data.DBSummaryPath, cfg.Data.KPIMappingPath)
	if err := data.Load(); err != nil {
		logger.Warn("Dataset failed to load at startup, service starts degraded", zap.Error(err))
	}

	if cfg.Data.WatchFiles {
		go func() {
			if err := data.Watch(ctx, metrics.RecordDatasetReload); err != nil && ctx.Err() == nil {
				logger.Error("Dataset watcher stopped", zap.Error(err))
			}
		}()
	}

	cache, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, running without result cache", zap.Error(err))
		cache = nil
	}
	defer cache.Close()

	history, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		logger.Warn("SQLite unavailable, running without query history", zap.Error(err))
		history = nil
	} else {
		defer history.Close()
	}

	var historyStore query.HistoryStore
	if history != nil {
		historyStore = history
	}
	engine := query.NewEngine(nil, data, cache, historyStore, cfg.LLM.MaxRetries)

	// A bad LLM configuration keeps the service up but degraded: /health
	// reports it, queries fail with a clear message, and POST /init retries
	// the setup without a restart.
	initLLM := func() error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		llmClient, err := llm.NewClient(ctx, cfg.LLM)
		if err != nil {
			return err
		}
		engine.SetAgent(agent.New(llmClient))
		return nil
	}
	initErr := initLLM()
	if initErr != nil {
		logger.Error("LLM initialization failed, service starts degraded", zap.Error(initErr))
	}

	requests := query.NewRequestStore(engine)
	go requests.StartSweeper(ctx)

	batchRunner := batch.NewRunner(engine, cfg.Batch.OutputDir)

	wsHandler := handlers.NewWSHandler(engine)
	queryHandler := handlers.NewQueryHandler(requests, data, history)
	healthHandler := handlers.NewHealthHandler(data, cfg, initErr, initLLM)
	batchHandler := handlers.NewBatchHandler(batchRunner, cfg.Batch.QueriesPath)

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:            logger.GetLogger(),
	})
	defer limiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.Health)
	app.Post("/init", healthHandler.Init)
	app.Get("/data/info", queryHandler.DataInfo)
	app.Get("/metrics", metrics.Handler())

	api := app.Group("/api", limiter.Middleware())
	api.Post("/query", queryHandler.SubmitQuery)
	api.Get("/result/:request_id", queryHandler.GetResult)
	api.Get("/history/:client_id", queryHandler.History)
	api.Post("/feedback", queryHandler.Feedback)
	api.Post("/batch", batchHandler.Run)

	app.Use("/ws/:client_id", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/:client_id", websocket.New(wsHandler.Serve))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.Info("Server starting",
			zap.String("addr", addr),
			zap.String("llm_provider", cfg.LLM.Provider),
			zap.String("llm_model", cfg.LLM.Model),
			zap.Bool("dataset_loaded", data.Ready()),
		)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	cancel()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
