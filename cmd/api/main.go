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

	"github.com/supply-risk/backend/internal/api/handlers"
	redisCache "github.com/supply-risk/backend/internal/cache/redis"
	"github.com/supply-risk/backend/internal/corpus"
	"github.com/supply-risk/backend/internal/ingestion"
	"github.com/supply-risk/backend/internal/llm"
	"github.com/supply-risk/backend/internal/metrics"
	"github.com/supply-risk/backend/internal/middleware/ratelimit"
	"github.com/supply-risk/backend/internal/middleware/security"
	"github.com/supply-risk/backend/internal/middleware/validation"
	"github.com/supply-risk/backend/internal/risk"
	"github.com/supply-risk/backend/internal/storage/sqlite"
	"github.com/supply-risk/backend/internal/vector/milvus"
	"github.com/supply-risk/backend/pkg/config"
	appLogger "github.com/supply-risk/backend/pkg/logger"
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

	appLogger.Info("Starting Supply Chain Risk Analyzer API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	supplierIDs, err := sqliteClient.ListSupplierIDs()
	if err != nil {
		appLogger.Fatal("Failed to load supplier registry", zap.Error(err))
	}
	appLogger.Info("Supplier registry loaded", zap.Int("active_suppliers", len(supplierIDs)))

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.EnsureCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
		cfg.Risk.MaxRetries,
	)

	corpusAdapter := corpus.NewAdapter(milvusClient)
	signals := risk.NewSignalGenerator(llmClient, cfg.Risk.SignalMaxTokens)
	retriever := risk.NewRetriever(llmClient, corpusAdapter, risk.RetrieverConfig{
		TopK:        cfg.Risk.TopK,
		MaxEvidence: cfg.Risk.MaxEvidence,
		MinScore:    cfg.Risk.MinScore,
		MaxRetries:  cfg.Risk.MaxRetries,
		Timeout:     time.Duration(cfg.Risk.RetrieveTimeout) * time.Second,
	})
	synthesizer := risk.NewSynthesizer(llmClient, cfg.LLM.MaxTokens)

	engine := risk.NewEngine(sqliteClient, signals, retriever, synthesizer)
	engine.SetStore(sqliteClient)

	var cache *redisCache.Client
	if cfg.Redis.Enabled {
		cache, err = redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, running without cache", zap.Error(err))
		} else {
			defer cache.Close()
			ttl := time.Duration(cfg.Redis.TTLSec) * time.Second
			engine.SetCache(cache, ttl)
			llmClient.SetEmbeddingCache(cache, ttl)
		}
	}

	processor := ingestion.NewProcessor(sqliteClient, milvusClient, llmClient)

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
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 60,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	analyzeHandler := handlers.NewAnalyzeHandler(engine, sqliteClient)
	supplierHandler := handlers.NewSupplierHandler(sqliteClient, milvusClient)
	documentHandler := handlers.NewDocumentHandler(sqliteClient, processor, cfg.Upload.Dir)
	if cache != nil {
		documentHandler.SetInvalidator(cache)
	}
	wsHandler := handlers.NewWebSocketHandler(engine)

	api := app.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	api.Post("/analyze", analyzeHandler.HandleAnalyze)
	api.Get("/assessments", analyzeHandler.GetHistory)

	api.Get("/suppliers", supplierHandler.ListSuppliers)
	api.Post("/suppliers", supplierHandler.CreateSupplier)
	api.Put("/suppliers/:id", supplierHandler.UpdateSupplier)
	api.Delete("/suppliers/:id", supplierHandler.DeleteSupplier)

	api.Post("/suppliers/:id/documents", documentHandler.UploadDocument)
	api.Get("/suppliers/:id/documents", documentHandler.ListDocuments)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/analyze", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

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
