package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

// Embedding batches larger than this are split before hitting the API.
const embedBatchSize = 100

// UsageStats is a running total of embedding gateway traffic.
type UsageStats struct {
	Requests     int64 `json:"requests"`
	TokensUsed   int64 `json:"tokens_used"`
	Failures     int64 `json:"failures"`
	BatchRetries int64 `json:"batch_retries"`
}

// EmbeddingGateway produces text and image-space embeddings with a fixed
// dimension, truncating oversized inputs and shielding the provider behind
// a circuit breaker.
type EmbeddingGateway struct {
	client     *genai.Client
	model      string
	imageModel string
	dimension  int
	imageDim   int
	tokenizer  *Tokenizer
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter

	mu    sync.Mutex
	stats UsageStats
}

func NewEmbeddingGateway(ctx context.Context, apiKey, model, imageModel string, dimension, imageDim int) (*EmbeddingGateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	tok, err := GetTokenizer()
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "EmbeddingAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})

	return &EmbeddingGateway{
		client:     client,
		model:      model,
		imageModel: imageModel,
		dimension:  dimension,
		imageDim:   imageDim,
		tokenizer:  tok,
		breaker:    breaker,
		limiter:    rate.NewLimiter(rate.Limit(15), 30),
	}, nil
}

func (g *EmbeddingGateway) Dimension() int      { return g.dimension }
func (g *EmbeddingGateway) ImageDimension() int { return g.imageDim }
func (g *EmbeddingGateway) Model() string       { return g.model }

func (g *EmbeddingGateway) Stats() UsageStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Embed returns the embedding for one text. Inputs beyond the model's token
// limit are truncated, never rejected.
func (g *EmbeddingGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	tracer := otel.Tracer("embedding-gateway")
	ctx, span := tracer.Start(ctx, "embeddings.embed")
	defer span.End()

	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	tokens := g.tokenizer.CountTokens(text)
	if tokens > MaxEmbeddingTokens {
		text = g.tokenizer.Truncate(text, MaxEmbeddingTokens)
		tokens = MaxEmbeddingTokens
	}
	span.SetAttributes(
		attribute.Int("embeddings.tokens", tokens),
		attribute.String("embeddings.model", g.model),
	)

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		em := g.client.EmbeddingModel(g.model)
		resp, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned")
		}
		return resp.Embedding.Values, nil
	})
	if err != nil {
		g.record(0, 0, 1)
		span.SetAttributes(attribute.Bool("embeddings.error", true))
		return nil, err
	}

	vec := result.([]float32)
	if len(vec) != g.dimension {
		g.record(0, 0, 1)
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), g.dimension)
	}
	g.record(1, int64(tokens), 0)
	return vec, nil
}

// EmbedBatch embeds texts in groups of up to 100. If a group fails as a
// whole, each member is retried individually; members that still fail get a
// nil vector and are reported in failed. An error is returned only when
// nothing could be embedded.
func (g *EmbeddingGateway) EmbedBatch(ctx context.Context, texts []string) (vectors [][]float32, failed []int, err error) {
	tracer := otel.Tracer("embedding-gateway")
	ctx, span := tracer.Start(ctx, "embeddings.embed_batch")
	defer span.End()
	span.SetAttributes(attribute.Int("embeddings.batch_size", len(texts)))

	vectors = make([][]float32, len(texts))

	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if batchErr := g.embedGroup(ctx, texts, vectors, start, end); batchErr != nil {
			g.mu.Lock()
			g.stats.BatchRetries++
			g.mu.Unlock()
			for i := start; i < end; i++ {
				vec, itemErr := g.Embed(ctx, texts[i])
				if itemErr != nil {
					failed = append(failed, i)
					continue
				}
				vectors[i] = vec
			}
		}
	}

	span.SetAttributes(attribute.Int("embeddings.failed", len(failed)))
	if len(failed) == len(texts) && len(texts) > 0 {
		return nil, failed, fmt.Errorf("all %d embeddings failed", len(texts))
	}
	return vectors, failed, nil
}

func (g *EmbeddingGateway) embedGroup(ctx context.Context, texts []string, vectors [][]float32, start, end int) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	var totalTokens int64
	result, err := g.breaker.Execute(func() (interface{}, error) {
		em := g.client.EmbeddingModel(g.model)
		batch := em.NewBatch()
		for i := start; i < end; i++ {
			text := texts[i]
			if g.tokenizer.CountTokens(text) > MaxEmbeddingTokens {
				text = g.tokenizer.Truncate(text, MaxEmbeddingTokens)
			}
			totalTokens += int64(g.tokenizer.CountTokens(text))
			batch.AddContent(genai.Text(text))
		}
		return em.BatchEmbedContents(ctx, batch)
	})
	if err != nil {
		return err
	}

	resp := result.(*genai.BatchEmbedContentsResponse)
	if len(resp.Embeddings) != end-start {
		return fmt.Errorf("batch returned %d embeddings for %d inputs", len(resp.Embeddings), end-start)
	}
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) != g.dimension {
			return fmt.Errorf("batch item %d has bad dimension", i)
		}
		vectors[start+i] = emb.Values
	}
	g.record(1, totalTokens, 0)
	return nil
}

// EmbedForImageSpace embeds text into the image-embedding space so text
// queries can be matched against indexed images.
func (g *EmbeddingGateway) EmbedForImageSpace(ctx context.Context, text string) ([]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := g.breaker.Execute(func() (interface{}, error) {
		em := g.client.EmbeddingModel(g.imageModel)
		resp, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned")
		}
		return resp.Embedding.Values, nil
	})
	if err != nil {
		g.record(0, 0, 1)
		return nil, err
	}
	vec := result.([]float32)
	if len(vec) != g.imageDim {
		return nil, fmt.Errorf("image embedding dimension mismatch: got %d, want %d", len(vec), g.imageDim)
	}
	g.record(1, int64(g.tokenizer.CountTokens(text)), 0)
	return vec, nil
}

func (g *EmbeddingGateway) record(requests, tokens, failures int64) {
	g.mu.Lock()
	g.stats.Requests += requests
	g.stats.TokensUsed += tokens
	g.stats.Failures += failures
	g.mu.Unlock()
}

func (g *EmbeddingGateway) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
