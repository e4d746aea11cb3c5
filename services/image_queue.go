package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"knowledge-retrieval-service/internal/ai"
	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"
	"knowledge-retrieval-service/utils"

	"github.com/google/uuid"
)

// ImageQueueStats tracks throughput of the bounded image pipeline.
type ImageQueueStats struct {
	Processed       int           `json:"processed"`
	Failures        int           `json:"failures"`
	PeakConcurrency int           `json:"peak_concurrency"`
	TotalWait       time.Duration `json:"total_wait_ns"`
}

// ImageQueue runs image description + embedding under a concurrency cap so
// inference memory stays bounded.
type ImageQueue struct {
	sem         chan struct{}
	gemini      *ai.GeminiClient
	gateway     *ai.EmbeddingGateway
	catalog     *catalog.Catalog
	index       *ImageIndex
	visionModel string

	mu       sync.Mutex
	inFlight int
	stats    ImageQueueStats
}

func NewImageQueue(concurrency int, gemini *ai.GeminiClient, gateway *ai.EmbeddingGateway, cat *catalog.Catalog, index *ImageIndex, visionModel string) *ImageQueue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ImageQueue{
		sem:         make(chan struct{}, concurrency),
		gemini:      gemini,
		gateway:     gateway,
		catalog:     cat,
		index:       index,
		visionModel: visionModel,
	}
}

func (q *ImageQueue) Stats() ImageQueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Process describes the image with the vision model, embeds the description
// into the image space, and stores the record. Blocks while the queue is at
// capacity.
func (q *ImageQueue) Process(ctx context.Context, kbID, documentID, storagePath string, pageNumber int, data []byte) (*models.Image, error) {
	waitStart := time.Now()
	select {
	case q.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-q.sem }()

	q.mu.Lock()
	q.inFlight++
	if q.inFlight > q.stats.PeakConcurrency {
		q.stats.PeakConcurrency = q.inFlight
	}
	q.stats.TotalWait += time.Since(waitStart)
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.inFlight--
		q.mu.Unlock()
	}()

	contentType := http.DetectContentType(data)
	if !utils.IsValidImageType(contentType) {
		q.fail()
		return nil, fmt.Errorf("unsupported image type %q", contentType)
	}
	format := strings.TrimPrefix(utils.GetImageExtension(contentType), ".")

	description, err := q.gemini.GenerateWithImage(ctx, q.visionModel,
		"Describe this image in two sentences for search indexing. Mention any visible text.", data, format)
	if err != nil {
		q.fail()
		return nil, err
	}

	embedding, err := q.gateway.EmbedForImageSpace(ctx, description)
	if err != nil {
		q.fail()
		return nil, err
	}

	image := &models.Image{
		ID:          uuid.NewString(),
		KBID:        kbID,
		DocumentID:  documentID,
		StoragePath: storagePath,
		PageNumber:  pageNumber,
		Description: description,
		Embedding:   embedding,
		CreatedAt:   time.Now(),
	}
	if err := q.catalog.InsertImage(ctx, image); err != nil {
		q.fail()
		return nil, err
	}
	q.index.Invalidate(kbID)

	q.mu.Lock()
	q.stats.Processed++
	q.mu.Unlock()
	logger.Debug("Indexed image", "kb_id", kbID, "image_id", image.ID, "page", pageNumber)
	return image, nil
}

// InvalidateIndex drops the cached vector index for the KB so the next
// image search rebuilds it.
func (q *ImageQueue) InvalidateIndex(kbID string) {
	q.index.Invalidate(kbID)
}

func (q *ImageQueue) fail() {
	q.mu.Lock()
	q.stats.Failures++
	q.mu.Unlock()
}
