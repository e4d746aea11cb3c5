package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GinMode     string
	CORSOrigins []string

	// Shared-secret auth
	APIKey      string
	InternalKey string

	// Catalog (MongoDB)
	MongoURI string
	DBName   string

	// KV store (Redis): vectors, job state, semantic cache
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Embeddings / LLM
	GeminiAPIKey        string
	EmbeddingModel      string
	EmbeddingDimension  int
	ImageEmbeddingModel string
	ImageDimension      int
	RewriterModel       string
	RerankerModel       string
	VisionModel         string

	// Chunking
	DefaultChunkSize    int
	DefaultChunkOverlap int
	MaxChunkSize        int

	// Ingestion limits
	MaxFileSize         int64
	MaxPagesPerDocument int
	StoragePath         string
	AllowedTypes        []string

	// Semantic cache
	CacheEnabled             bool
	CacheTTLSeconds          int
	CacheSimilarityThreshold float64

	// Retrieval feature flags
	EnableQueryExpansion       bool
	EnableQueryRewriting       bool
	EnableBM25                 bool
	EnableIntentFilter         bool
	EnableMMR                  bool
	EnableRelevanceThreshold   bool
	EnableReranking            bool
	EnableContentAwareChunking bool
	EnableTableProcessing      bool
	UseVisionForTables         bool

	// Retrieval weights
	BM25Weight        float64
	MMRLambda         float64
	MinRelevanceScore float64
	RerankerType      string // simple, llm, hybrid

	// Workers / concurrency
	WorkerConcurrency       int
	ImageConcurrency        int
	SyncCheckIntervalMin    int
	CompletionCallbackURL   string
	ManagedCrawlAPIKey      string
	ManagedCrawlAPIEndpoint string

	// HTTP rate limiting
	RateLimitReqs   int
	RateLimitWindow int
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),

		APIKey:      getEnv("API_KEY", ""),
		InternalKey: getEnv("INTERNAL_KEY", ""),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/knowledge_retrieval"),
		DBName:   getEnv("DB_NAME", "knowledge_retrieval"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 1),

		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension:  getEnvInt("EMBEDDING_DIMENSION", 1536),
		ImageEmbeddingModel: getEnv("IMAGE_EMBEDDING_MODEL", "clip-vit-b-32"),
		ImageDimension:      getEnvInt("IMAGE_DIMENSION", 512),
		RewriterModel:       getEnv("QUERY_REWRITER_MODEL", "gemini-2.0-flash"),
		RerankerModel:       getEnv("RERANKER_MODEL", "gemini-2.0-flash"),
		VisionModel:         getEnv("TABLE_VISION_MODEL", "gemini-2.0-flash"),

		DefaultChunkSize:    getEnvInt("DEFAULT_CHUNK_SIZE", 500),
		DefaultChunkOverlap: getEnvInt("DEFAULT_CHUNK_OVERLAP", 50),
		MaxChunkSize:        getEnvInt("MAX_CHUNK_SIZE", 2000),

		MaxFileSize:         getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB
		MaxPagesPerDocument: getEnvInt("MAX_PAGES_PER_DOCUMENT", 1000),
		StoragePath:         getEnv("STORAGE_PATH", "./storage"),
		AllowedTypes:        strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf,text/plain,text/markdown,text/html,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet,application/vnd.openxmlformats-officedocument.wordprocessingml.document"), ","),

		CacheEnabled:             getEnvBool("SEMANTIC_CACHE_ENABLED", true),
		CacheTTLSeconds:          getEnvInt("SEMANTIC_CACHE_TTL", 3600),
		CacheSimilarityThreshold: getEnvFloat64("SEMANTIC_CACHE_SIMILARITY_THRESHOLD", 0.95),

		EnableQueryExpansion:       getEnvBool("ENABLE_QUERY_EXPANSION", true),
		EnableQueryRewriting:       getEnvBool("ENABLE_QUERY_REWRITING", false),
		EnableBM25:                 getEnvBool("ENABLE_BM25", true),
		EnableIntentFilter:         getEnvBool("ENABLE_INTENT_FILTER", true),
		EnableMMR:                  getEnvBool("ENABLE_MMR", true),
		EnableRelevanceThreshold:   getEnvBool("ENABLE_RELEVANCE_THRESHOLD", true),
		EnableReranking:            getEnvBool("ENABLE_RERANKING", false),
		EnableContentAwareChunking: getEnvBool("ENABLE_CONTENT_AWARE_CHUNKING", true),
		EnableTableProcessing:      getEnvBool("ENABLE_TABLE_PROCESSING", true),
		UseVisionForTables:         getEnvBool("USE_VISION_FOR_TABLES", true),

		BM25Weight:        getEnvFloat64("BM25_WEIGHT", 0.3),
		MMRLambda:         getEnvFloat64("MMR_LAMBDA", 0.7),
		MinRelevanceScore: getEnvFloat64("MIN_RELEVANCE_SCORE", 0.3),
		RerankerType:      getEnv("RERANKER_TYPE", "simple"),

		WorkerConcurrency:       getEnvInt("WORKER_CONCURRENCY", 10),
		ImageConcurrency:        getEnvInt("IMAGE_PROCESSING_CONCURRENCY", 1),
		SyncCheckIntervalMin:    getEnvInt("SYNC_CHECK_INTERVAL_MINUTES", 5),
		CompletionCallbackURL:   getEnv("COMPLETION_CALLBACK_URL", ""),
		ManagedCrawlAPIKey:      getEnv("MANAGED_CRAWL_API_KEY", ""),
		ManagedCrawlAPIEndpoint: getEnv("MANAGED_CRAWL_API_ENDPOINT", ""),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),
	}

	// Validate required fields
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API_KEY is required - set it in .env file")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.RerankerType != "simple" && cfg.RerankerType != "llm" && cfg.RerankerType != "hybrid" {
		return nil, fmt.Errorf("RERANKER_TYPE must be one of simple, llm, hybrid")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
