package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"knowledge-retrieval-service/internal/ai"
	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/internal/config"
	"knowledge-retrieval-service/internal/crawler"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/internal/queue"
	"knowledge-retrieval-service/internal/telemetry"
	"knowledge-retrieval-service/middleware"
	"knowledge-retrieval-service/routes"
	"knowledge-retrieval-service/services"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("knowledge-retrieval-service")
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
		shutdownTracer = func() {}
	}
	defer shutdownTracer()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)
	cat := catalog.New(mongoClient, cfg.DBName)

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	ctx := context.Background()
	gateway, err := ai.NewEmbeddingGateway(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.ImageEmbeddingModel, cfg.EmbeddingDimension, cfg.ImageDimension)
	if err != nil {
		log.Fatal("Failed to init embedding gateway:", err)
	}
	defer gateway.Close()

	gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey, "free")
	if err != nil {
		log.Fatal("Failed to init Gemini client:", err)
	}
	defer gemini.Close()

	// retrieval stack
	store := services.NewVectorStore(rdb, cat, cfg.EmbeddingDimension, cfg.EmbeddingModel)
	cache := services.NewSemanticCache(rdb, cfg.CacheTTLSeconds, cfg.CacheSimilarityThreshold, cfg.CacheEnabled)
	imageIndex := services.NewImageIndex(cat)
	rewriter := services.NewQueryRewriter(gemini, cfg.RewriterModel)
	reranker := services.NewReranker(cfg.RerankerType, gemini, cfg.RerankerModel)
	search := services.NewSearchService(cfg, gateway, store, cache, rewriter, reranker, imageIndex)

	// ingestion stack
	extractor := services.NewExtractor(cfg.MaxPagesPerDocument, cfg.UseVisionForTables)
	chunker := services.NewContentAwareChunker(cfg.MaxChunkSize)
	decomposer := services.NewTableDecomposer(gemini, cfg.VisionModel, cfg.UseVisionForTables)
	imageQueue := services.NewImageQueue(cfg.ImageConcurrency, gemini, gateway, cat, imageIndex, cfg.VisionModel)
	jobs := services.NewJobProcessor(cfg, rdb, cat, extractor, chunker, decomposer, gateway, store, imageQueue)

	webCrawler := crawler.New(cfg.ManagedCrawlAPIKey, cfg.ManagedCrawlAPIEndpoint)
	scraper := services.NewScrapeService(cfg, cat, webCrawler, chunker, gateway, store)
	syncService := services.NewSyncService(cfg, cat, webCrawler, scraper, store)
	export := services.NewExportService(cat)

	redisOpt, err := queue.RedisOpt(cfg)
	if err != nil {
		log.Fatal("Invalid Redis configuration:", err)
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	router.Use(middleware.RequireAPIKey(cfg))

	router.GET("/health", func(c *gin.Context) {
		deps := gin.H{"catalog": "ok", "kv": "ok"}
		status := http.StatusOK

		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := mongoClient.Ping(pingCtx, nil); err != nil {
			deps["catalog"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			deps["kv"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		overall := "healthy"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{
			"status":    overall,
			"services":  deps,
			"timestamp": time.Now(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	routes.SetupDocumentRoutes(router, cfg, db, cat, jobs, store, asynqClient)
	routes.SetupSearchRoutes(router, search, gateway, metrics)
	routes.SetupScrapeRoutes(router, cat, scraper, syncService, store, asynqClient)
	routes.SetupCacheRoutes(router, cfg, cache)
	routes.SetupExportRoutes(router, export)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	logger.Info("Server exited")
}
