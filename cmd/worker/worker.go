package main

import (
	"context"
	"log"
	"time"

	"knowledge-retrieval-service/internal/ai"
	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/internal/config"
	"knowledge-retrieval-service/internal/crawler"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/internal/queue"
	"knowledge-retrieval-service/internal/telemetry"
	"knowledge-retrieval-service/services"

	"github.com/hibiken/asynq"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

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

	store := services.NewVectorStore(rdb, cat, cfg.EmbeddingDimension, cfg.EmbeddingModel)
	imageIndex := services.NewImageIndex(cat)
	extractor := services.NewExtractor(cfg.MaxPagesPerDocument, cfg.UseVisionForTables)
	chunker := services.NewContentAwareChunker(cfg.MaxChunkSize)
	decomposer := services.NewTableDecomposer(gemini, cfg.VisionModel, cfg.UseVisionForTables)
	imageQueue := services.NewImageQueue(cfg.ImageConcurrency, gemini, gateway, cat, imageIndex, cfg.VisionModel)
	jobs := services.NewJobProcessor(cfg, rdb, cat, extractor, chunker, decomposer, gateway, store, imageQueue)

	webCrawler := crawler.New(cfg.ManagedCrawlAPIKey, cfg.ManagedCrawlAPIEndpoint)
	scraper := services.NewScrapeService(cfg, cat, webCrawler, chunker, gateway, store)
	syncService := services.NewSyncService(cfg, cat, webCrawler, scraper, store)

	redisOpt, err := queue.RedisOpt(cfg)
	if err != nil {
		log.Fatal("Invalid Redis configuration:", err)
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
		StrictPriority: true,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("Task failed", "type", task.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	queue.NewTaskProcessor(jobs, scraper, syncService, metrics).Register(mux)

	// background sweep over sources due for a sync
	if err := syncService.Start(); err != nil {
		log.Fatal("Failed to start sync scheduler:", err)
	}
	defer syncService.Stop()

	logger.Info("Worker starting", "concurrency", cfg.WorkerConcurrency)
	if err := srv.Run(mux); err != nil {
		log.Fatal("Worker stopped:", err)
	}
}
