package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"knowledge-retrieval-service/internal/ai"
	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/internal/config"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"
	"knowledge-retrieval-service/utils"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	jobTTL      = 24 * time.Hour
	maxErrorLen = 1000
)

func jobKey(documentID string) string {
	return "doc_job:" + documentID
}

// JobProcessor owns the document ingestion lifecycle: job records, stored
// source bytes, and the extract-chunk-embed-store pipeline.
type JobProcessor struct {
	cfg        *config.Config
	rdb        *redis.Client
	catalog    *catalog.Catalog
	extractor  *Extractor
	chunker    *ContentAwareChunker
	decomposer *TableDecomposer
	gateway    *ai.EmbeddingGateway
	store      *VectorStore
	images     *ImageQueue
	httpClient *http.Client
}

func NewJobProcessor(cfg *config.Config, rdb *redis.Client, cat *catalog.Catalog, extractor *Extractor, chunker *ContentAwareChunker, decomposer *TableDecomposer, gateway *ai.EmbeddingGateway, store *VectorStore, images *ImageQueue) *JobProcessor {
	return &JobProcessor{
		cfg:        cfg,
		rdb:        rdb,
		catalog:    cat,
		extractor:  extractor,
		chunker:    chunker,
		decomposer: decomposer,
		gateway:    gateway,
		store:      store,
		images:     images,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// EstimateSeconds predicts processing time from the file size.
func EstimateSeconds(size int64) int64 {
	estimate := size/10000 + size/3000
	if estimate < 10 {
		return 10
	}
	return estimate
}

// storedPath is the permanent location of the uploaded bytes. The file
// outlives processing so a document can be reprocessed from any state.
func (jp *JobProcessor) storedPath(documentID, filename string) string {
	return filepath.Join(jp.cfg.StoragePath, "documents", documentID, filename)
}

func (jp *JobProcessor) imagesDir(documentID string) string {
	return filepath.Join(jp.cfg.StoragePath, "images", documentID)
}

// CreateJob persists the job record and the source bytes. The caller
// enqueues the background task.
func (jp *JobProcessor) CreateJob(ctx context.Context, doc *models.Document, content []byte) error {
	path := jp.storedPath(doc.ID, doc.Filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write document file: %w", err)
	}

	doc.StoragePath = path
	if err := jp.catalog.InsertDocument(ctx, doc); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	return jp.writeJob(ctx, &models.Job{
		DocumentID: doc.ID,
		KBID:       doc.KBID,
		Status:     models.DocStatusQueued,
		Progress:   0,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	})
}

// GetJob reads the live job record.
func (jp *JobProcessor) GetJob(ctx context.Context, documentID string) (*models.Job, error) {
	fields, err := jp.rdb.HGetAll(ctx, jobKey(documentID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}

	job := &models.Job{DocumentID: documentID}
	job.KBID = fields["kb_id"]
	job.Status = fields["status"]
	job.CurrentStep = fields["current_step"]
	job.ErrorMessage = fields["error_message"]
	fmt.Sscanf(fields["progress"], "%d", &job.Progress)
	fmt.Sscanf(fields["total_chunks"], "%d", &job.TotalChunks)
	fmt.Sscanf(fields["processed_chunks"], "%d", &job.ProcessedChunks)
	return job, nil
}

func (jp *JobProcessor) writeJob(ctx context.Context, job *models.Job) error {
	key := jobKey(job.DocumentID)
	pipe := jp.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"document_id":      job.DocumentID,
		"kb_id":            job.KBID,
		"status":           job.Status,
		"progress":         job.Progress,
		"current_step":     job.CurrentStep,
		"total_chunks":     job.TotalChunks,
		"processed_chunks": job.ProcessedChunks,
		"error_message":    job.ErrorMessage,
		"updated_at":       time.Now().Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, jobTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// advance moves the job forward. Progress never decreases.
func (jp *JobProcessor) advance(ctx context.Context, documentID, status, step string, progress int) {
	key := jobKey(documentID)
	current := 0
	if v, err := jp.rdb.HGet(ctx, key, "progress").Int(); err == nil {
		current = v
	}
	if progress < current {
		progress = current
	}
	pipe := jp.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":       status,
		"current_step": step,
		"progress":     progress,
		"updated_at":   time.Now().Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, jobTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("Job progress update failed", "document_id", documentID, "error", err)
	}
}

// Process runs the full ingestion pipeline for a previously created job.
// Any failure marks the job failed with a truncated message; the stored
// source file is kept so the document can be reprocessed.
func (jp *JobProcessor) Process(ctx context.Context, documentID string) error {
	start := time.Now()

	doc, err := jp.catalog.GetDocument(ctx, documentID)
	if err != nil {
		if catalog.IsNotFound(err) {
			// document deleted while queued; nothing to do
			logger.Info("Skipping job for deleted document", "document_id", documentID)
			return nil
		}
		return err
	}

	// failed and completed are terminal; only Reprocess re-queues them, so
	// a retried task must not run the pipeline again
	if doc.Status == models.DocStatusFailed || doc.Status == models.DocStatusCompleted {
		logger.Info("Skipping job for terminal document", "document_id", documentID, "status", doc.Status)
		return nil
	}

	fail := func(stage string, cause error) error {
		err := fmt.Errorf("%s: %w", stage, cause)
		logger.Error("Document processing failed", "document_id", documentID, "stage", stage, "error", cause)
		jp.advance(ctx, documentID, models.DocStatusFailed, stage, 100)
		msg := utils.Truncate(err.Error(), maxErrorLen)
		jp.rdb.HSet(ctx, jobKey(documentID), "error_message", msg)
		if merr := jp.catalog.MarkDocumentFailed(ctx, documentID, msg); merr != nil {
			logger.Error("Failed to record failure", "document_id", documentID, "error", merr)
		}
		return err
	}

	// 1. extract
	jp.advance(ctx, documentID, models.DocStatusProcessing, "extracting", 5)
	jp.catalog.UpdateDocumentStatus(ctx, documentID, models.DocStatusProcessing)

	content, err := os.ReadFile(doc.StoragePath)
	if err != nil {
		return fail("read source", err)
	}
	jp.advance(ctx, documentID, models.DocStatusProcessing, "extracting", 10)

	extracted, err := jp.extractor.Extract(ctx, content, doc.Filename, doc.ContentType)
	if err != nil {
		return fail("extract", err)
	}
	jp.advance(ctx, documentID, models.DocStatusProcessing, "extracted", 20)

	// 2. chunk
	jp.advance(ctx, documentID, models.DocStatusChunking, "chunking", 25)
	jp.catalog.UpdateDocumentStatus(ctx, documentID, models.DocStatusChunking)

	chunks := jp.chunker.Chunk(extracted.Text, doc.Filename)

	var tableStats TableStats
	if jp.cfg.EnableTableProcessing {
		tableChunks := jp.collectTableChunks(ctx, doc.Filename, extracted, &tableStats)
		for _, tc := range tableChunks {
			tc.Index = len(chunks)
			chunks = append(chunks, tc)
		}
	}
	for i := range chunks {
		chunks[i].Index = i
	}
	if len(chunks) == 0 {
		return fail("chunk", fmt.Errorf("no chunks produced"))
	}
	jp.advance(ctx, documentID, models.DocStatusChunking, "chunked", 40)
	jp.rdb.HSet(ctx, jobKey(documentID), "total_chunks", len(chunks))

	// 3. embed, batches of 100 with per-chunk fallback inside the gateway
	jp.advance(ctx, documentID, models.DocStatusEmbedding, "embedding", 45)
	jp.catalog.UpdateDocumentStatus(ctx, documentID, models.DocStatusEmbedding)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings := make([][]float32, len(chunks))
	failedTotal := 0
	for batchStart := 0; batchStart < len(texts); batchStart += 100 {
		batchEnd := batchStart + 100
		if batchEnd > len(texts) {
			batchEnd = len(texts)
		}
		vectors, failed, err := jp.gateway.EmbedBatch(ctx, texts[batchStart:batchEnd])
		if err != nil {
			return fail("embed", err)
		}
		copy(embeddings[batchStart:batchEnd], vectors)
		failedTotal += len(failed)

		progress := 45 + (batchEnd*35)/len(texts)
		jp.advance(ctx, documentID, models.DocStatusEmbedding, "embedding", progress)
		jp.rdb.HSet(ctx, jobKey(documentID), "processed_chunks", batchEnd)
	}
	if failedTotal > 0 {
		logger.Warn("Some chunks dropped after embedding failures", "document_id", documentID, "failed", failedTotal)
	}

	// 4. store
	jp.advance(ctx, documentID, models.DocStatusStoring, "storing", 85)
	jp.catalog.UpdateDocumentStatus(ctx, documentID, models.DocStatusStoring)

	stored, err := jp.store.StoreDocument(ctx, documentID, doc.KBID, chunks, embeddings)
	if err != nil {
		return fail("store", err)
	}

	// 5. images
	imagesIndexed := 0
	if len(extracted.EmbeddedImages) > 0 {
		imagesIndexed = jp.processImages(ctx, doc, extracted.EmbeddedImages)
	}

	// 6. finalize
	chunksByType := map[string]int{}
	for i, c := range chunks {
		if embeddings[i] == nil {
			continue
		}
		chunksByType[c.ChunkType]++
	}
	stats := &models.ProcessingStats{
		TotalPages:          extracted.Pages,
		TotalChunks:         stored,
		TotalImages:         imagesIndexed,
		TablesProcessed:     tableStats.TablesProcessed,
		TableChunksAdded:    tableStats.RowChunksCreated,
		TableProcessingCost: tableStats.CostEstimate,
		ProcessingTimeMs:    time.Since(start).Milliseconds(),
		ChunksByType:        chunksByType,
		Languages:           []string{extracted.Language},
		EmbeddingModel:      jp.gateway.Model(),
	}

	// final write checks the document still exists; deletion mid-job wins
	if _, err := jp.catalog.GetDocument(ctx, documentID); err != nil {
		if catalog.IsNotFound(err) {
			logger.Info("Document deleted during processing, dropping results", "document_id", documentID)
			jp.store.DeleteDocumentVectors(ctx, doc.KBID, documentID)
			jp.catalog.DeleteImagesForDocument(ctx, documentID)
			jp.images.InvalidateIndex(doc.KBID)
			jp.removeStored(documentID)
			return nil
		}
		return fail("finalize", err)
	}
	if err := jp.catalog.CompleteDocument(ctx, documentID, stats); err != nil {
		return fail("finalize", err)
	}
	jp.advance(ctx, documentID, models.DocStatusCompleted, "completed", 100)

	jp.notifyCompletion(ctx, doc, stats)
	if err := jp.catalog.RefreshKBStats(ctx, doc.KBID, jp.gateway.Dimension(), jp.gateway.Model()); err != nil {
		logger.Warn("KB stats refresh failed", "kb_id", doc.KBID, "error", err)
	}

	logger.Info("Document processed",
		"document_id", documentID,
		"kb_id", doc.KBID,
		"chunks", stored,
		"pages", extracted.Pages,
		"images", imagesIndexed,
		"ms", stats.ProcessingTimeMs)
	return nil
}

// processImages writes each embedded figure to the images directory and
// feeds it through the bounded image pipeline. Per-image failures are
// logged and skipped; a broken figure must not fail the document.
func (jp *JobProcessor) processImages(ctx context.Context, doc *models.Document, images []PageImage) int {
	dir := jp.imagesDir(doc.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("Image dir create failed", "document_id", doc.ID, "error", err)
		return 0
	}

	indexed := 0
	for i, img := range images {
		path := filepath.Join(dir, fmt.Sprintf("page%03d-%03d.png", img.PageNumber, i))
		if err := os.WriteFile(path, img.Data, 0o644); err != nil {
			logger.Warn("Image write failed", "document_id", doc.ID, "page", img.PageNumber, "error", err)
			continue
		}
		if _, err := jp.images.Process(ctx, doc.KBID, doc.ID, path, img.PageNumber, img.Data); err != nil {
			logger.Warn("Image indexing failed", "document_id", doc.ID, "page", img.PageNumber, "error", err)
			continue
		}
		indexed++
	}
	return indexed
}

func (jp *JobProcessor) collectTableChunks(ctx context.Context, docName string, extracted *ExtractionOutput, stats *TableStats) []TypedChunk {
	var chunks []TypedChunk
	for _, pageImage := range extracted.PageImages {
		chunks = append(chunks, jp.decomposer.ProcessPageImage(ctx, docName, pageImage.PageNumber, pageImage.Data, stats)...)
	}
	for _, table := range extracted.TableTexts {
		chunks = append(chunks, jp.decomposer.ProcessTextTable(docName, table.PageNumber, table.Text, stats)...)
	}
	return chunks
}

// Reprocess deletes the document's chunks and vectors and resets the job so
// the worker ingests it again from stored bytes.
func (jp *JobProcessor) Reprocess(ctx context.Context, documentID string) error {
	doc, err := jp.catalog.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(doc.StoragePath); err != nil {
		return fmt.Errorf("stored file missing: %w", err)
	}
	if err := jp.store.DeleteDocumentVectors(ctx, doc.KBID, documentID); err != nil {
		return fmt.Errorf("clear previous vectors: %w", err)
	}
	if err := jp.catalog.DeleteImagesForDocument(ctx, documentID); err != nil {
		return fmt.Errorf("clear previous images: %w", err)
	}
	jp.images.InvalidateIndex(doc.KBID)
	if err := os.RemoveAll(jp.imagesDir(documentID)); err != nil {
		logger.Warn("Image dir cleanup failed", "document_id", documentID, "error", err)
	}
	if err := jp.catalog.SetDocumentFields(ctx, documentID, bson.M{
		"status":        models.DocStatusQueued,
		"error_message": "",
	}); err != nil {
		return err
	}
	return jp.writeJob(ctx, &models.Job{
		DocumentID: documentID,
		KBID:       doc.KBID,
		Status:     models.DocStatusQueued,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	})
}

// Delete removes the document, its vectors, the job record and stored files.
func (jp *JobProcessor) Delete(ctx context.Context, documentID string) error {
	doc, err := jp.catalog.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := jp.store.DeleteDocument(ctx, doc.KBID, documentID); err != nil {
		return err
	}
	jp.images.InvalidateIndex(doc.KBID)
	jp.rdb.Del(ctx, jobKey(documentID))
	jp.removeStored(documentID)
	if err := jp.catalog.RefreshKBStats(ctx, doc.KBID, jp.gateway.Dimension(), jp.gateway.Model()); err != nil {
		logger.Warn("KB stats refresh failed", "kb_id", doc.KBID, "error", err)
	}
	return nil
}

// removeStored deletes the document's source and image directories.
func (jp *JobProcessor) removeStored(documentID string) {
	for _, dir := range []string{
		filepath.Join(jp.cfg.StoragePath, "documents", documentID),
		jp.imagesDir(documentID),
	} {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("Storage cleanup failed", "document_id", documentID, "dir", dir, "error", err)
		}
	}
}

// notifyCompletion POSTs the processing outcome to the configured callback.
// Best effort only.
func (jp *JobProcessor) notifyCompletion(ctx context.Context, doc *models.Document, stats *models.ProcessingStats) {
	if jp.cfg.CompletionCallbackURL == "" {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"document_id":      doc.ID,
		"kb_id":            doc.KBID,
		"tenant_id":        doc.TenantID,
		"status":           models.DocStatusCompleted,
		"processing_stats": stats,
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, jp.cfg.CompletionCallbackURL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Key", jp.cfg.InternalKey)

	resp, err := jp.httpClient.Do(req)
	if err != nil {
		logger.Warn("Completion callback failed", "document_id", doc.ID, "error", err)
		return
	}
	resp.Body.Close()
}
