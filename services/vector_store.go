package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"
	"knowledge-retrieval-service/utils"

	"github.com/redis/go-redis/v9"
)

const vectorContentPreview = 500

// VectorRecord is the JSON payload stored per vector key.
type VectorRecord struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id,omitempty"`
	KBID       string         `json:"kb_id"`
	Embedding  []float32      `json:"embedding"`
	Content    string         `json:"content"`
	ChunkType  string         `json:"chunk_type,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// VectorMatch is one scored candidate before hydration.
type VectorMatch struct {
	ChunkID    string
	DocumentID string
	Score      float64
	Content    string
	ChunkType  string
	Metadata   map[string]any
}

// VectorStore keeps per-KB chunk and product vectors in the KV store and
// mirrors chunk records into the catalog.
type VectorStore struct {
	rdb       *redis.Client
	catalog   *catalog.Catalog
	dimension int
	model     string
}

func NewVectorStore(rdb *redis.Client, cat *catalog.Catalog, dimension int, model string) *VectorStore {
	return &VectorStore{rdb: rdb, catalog: cat, dimension: dimension, model: model}
}

func vectorKey(kbID, chunkID string) string {
	return fmt.Sprintf("vector:%s:%s", kbID, chunkID)
}

func productVectorKey(kbID, productID string) string {
	return fmt.Sprintf("vector:%s:product:%s", kbID, productID)
}

// StoreDocument persists chunks to the catalog and their vectors to the KV
// store. Chunks whose embedding is nil are skipped with a warning.
func (vs *VectorStore) StoreDocument(ctx context.Context, documentID, kbID string, chunks []TypedChunk, embeddings [][]float32) (stored int, err error) {
	if len(chunks) != len(embeddings) {
		return 0, fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}

	var records []models.Chunk
	pipe := vs.rdb.Pipeline()
	for i, chunk := range chunks {
		if embeddings[i] == nil {
			logger.Warn("Skipping chunk without embedding", "document_id", documentID, "index", chunk.Index)
			continue
		}
		chunkID := fmt.Sprintf("%s_%d", documentID, chunk.Index)

		meta := map[string]any{
			"char_count": chunk.Metadata.CharCount,
			"word_count": chunk.Metadata.WordCount,
		}
		if chunk.Metadata.OriginalChunkType != "" {
			meta["original_chunk_type"] = chunk.Metadata.OriginalChunkType
		}
		if chunk.Metadata.ParentIndex != nil {
			meta["parent_index"] = *chunk.Metadata.ParentIndex
		}

		records = append(records, models.Chunk{
			ID:          chunkID,
			DocumentID:  documentID,
			KBID:        kbID,
			ChunkIndex:  chunk.Index,
			Content:     chunk.Content,
			ChunkType:   chunk.ChunkType,
			ContentType: chunk.ContentType,
			Metadata:    meta,
		})

		preview := utils.Truncate(chunk.Content, vectorContentPreview)
		payload, merr := json.Marshal(VectorRecord{
			ChunkID:    chunkID,
			DocumentID: documentID,
			KBID:       kbID,
			Embedding:  embeddings[i],
			Content:    preview,
			ChunkType:  chunk.ChunkType,
			Metadata:   meta,
		})
		if merr != nil {
			return 0, merr
		}
		pipe.Set(ctx, vectorKey(kbID, chunkID), payload, 0)
	}

	if err := vs.catalog.InsertChunks(ctx, records); err != nil {
		return 0, fmt.Errorf("insert chunks: %w", err)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("write vectors: %w", err)
	}
	return len(records), nil
}

// Search scans the KB's chunk vectors, scores by cosine, and returns the
// top-k matches hydrated with full content from the catalog.
func (vs *VectorStore) Search(ctx context.Context, kbID string, queryEmbedding []float32, topK int) ([]VectorMatch, int, error) {
	matches, scanned, err := vs.scanAndScore(ctx, vectorKey(kbID, "*"), queryEmbedding, func(key string) bool {
		return !strings.Contains(key, ":product:")
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}

	// hydrate full content and source metadata
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
	}
	chunks, err := vs.catalog.GetChunks(ctx, ids)
	if err != nil {
		logger.Warn("Chunk hydration failed, serving previews", "kb_id", kbID, "error", err)
		return matches, scanned, nil
	}
	for i := range matches {
		if full, ok := chunks[matches[i].ChunkID]; ok {
			matches[i].Content = full.Content
			matches[i].DocumentID = full.DocumentID
			if matches[i].Metadata == nil {
				matches[i].Metadata = map[string]any{}
			}
			matches[i].Metadata["chunk_index"] = full.ChunkIndex
		}
	}
	return matches, scanned, nil
}

func (vs *VectorStore) scanAndScore(ctx context.Context, pattern string, queryEmbedding []float32, keep func(string) bool) ([]VectorMatch, int, error) {
	var matches []VectorMatch
	scanned := 0

	iter := vs.rdb.Scan(ctx, 0, pattern, 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		key := iter.Val()
		if keep != nil && !keep(key) {
			continue
		}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan vectors: %w", err)
	}

	for start := 0; start < len(keys); start += 200 {
		end := start + 200
		if end > len(keys) {
			end = len(keys)
		}
		values, err := vs.rdb.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("fetch vectors: %w", err)
		}
		for _, value := range values {
			raw, ok := value.(string)
			if !ok {
				continue
			}
			var record VectorRecord
			if err := json.Unmarshal([]byte(raw), &record); err != nil {
				continue
			}
			scanned++
			matches = append(matches, VectorMatch{
				ChunkID:    record.ChunkID,
				DocumentID: record.DocumentID,
				Score:      CosineSimilarity(queryEmbedding, record.Embedding),
				Content:    record.Content,
				ChunkType:  record.ChunkType,
				Metadata:   record.Metadata,
			})
		}
	}
	return matches, scanned, nil
}

// DeleteDocument removes the document's vectors then its catalog records.
// Vector deletes are idempotent; missing keys are fine.
func (vs *VectorStore) DeleteDocument(ctx context.Context, kbID, documentID string) error {
	ids, err := vs.catalog.ChunkIDsForDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = vectorKey(kbID, id)
		}
		if err := vs.rdb.Del(ctx, keys...).Err(); err != nil {
			logger.Warn("Vector delete failed", "document_id", documentID, "error", err)
		}
	}
	return vs.catalog.DeleteDocument(ctx, documentID)
}

// DeleteDocumentVectors removes only the vectors and chunk records, keeping
// the Document row. Used before re-ingesting changed content in place.
func (vs *VectorStore) DeleteDocumentVectors(ctx context.Context, kbID, documentID string) error {
	ids, err := vs.catalog.ChunkIDsForDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = vectorKey(kbID, id)
		}
		if err := vs.rdb.Del(ctx, keys...).Err(); err != nil {
			logger.Warn("Vector delete failed", "document_id", documentID, "error", err)
		}
	}
	return vs.catalog.DeleteChunksForDocument(ctx, documentID)
}

// KBStats counts catalog chunks and KV vectors for one KB.
func (vs *VectorStore) KBStats(ctx context.Context, kbID string) (*models.KBStats, error) {
	chunkCount, err := vs.catalog.CountChunks(ctx, kbID)
	if err != nil {
		return nil, err
	}

	vectors := 0
	iter := vs.rdb.Scan(ctx, 0, vectorKey(kbID, "*"), 500).Iterator()
	for iter.Next(ctx) {
		if !strings.Contains(iter.Val(), ":product:") {
			vectors++
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return &models.KBStats{
		ChunkCount:  int(chunkCount),
		VectorCount: vectors,
		Dimension:   vs.dimension,
		Model:       vs.model,
	}, nil
}

// StoreProduct writes the product record and its vector.
func (vs *VectorStore) StoreProduct(ctx context.Context, product *models.Product, embedding []float32) error {
	if err := vs.catalog.UpsertProduct(ctx, product); err != nil {
		return err
	}
	preview := utils.Truncate(product.Title+" "+product.Description, vectorContentPreview)
	payload, err := json.Marshal(VectorRecord{
		ChunkID:   product.ID,
		KBID:      product.KBID,
		Embedding: embedding,
		Content:   preview,
		Metadata: map[string]any{
			"vendor":       product.Vendor,
			"product_type": product.ProductType,
			"handle":       product.Handle,
		},
	})
	if err != nil {
		return err
	}
	return vs.rdb.Set(ctx, productVectorKey(product.KBID, product.ID), payload, 0).Err()
}

// SearchProducts scans product vectors, applies filters, and enriches from
// the catalog with variants and a purchase URL.
func (vs *VectorStore) SearchProducts(ctx context.Context, kbID string, queryEmbedding []float32, topK int, filters *models.ProductFilters) ([]models.ProductResult, error) {
	matches, _, err := vs.scanAndScore(ctx, productVectorKey(kbID, "*"), queryEmbedding, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	var results []models.ProductResult
	for _, match := range matches {
		if len(results) >= topK {
			break
		}
		product, err := vs.catalog.GetProduct(ctx, match.ChunkID)
		if err != nil {
			continue
		}
		if !productPassesFilters(product, filters) {
			continue
		}
		results = append(results, models.ProductResult{
			ProductID:   product.ID,
			Title:       product.Title,
			Description: product.Description,
			Price:       product.Price,
			Vendor:      product.Vendor,
			ProductType: product.ProductType,
			InStock:     product.Inventory > 0,
			Variants:    product.Variants,
			PurchaseURL: purchaseURL(product),
			ImageURL:    product.ImageURL,
			Score:       match.Score,
		})
	}
	return results, nil
}

func productPassesFilters(p *models.Product, f *models.ProductFilters) bool {
	if f == nil {
		return true
	}
	if f.PriceMin != nil && p.Price < *f.PriceMin {
		return false
	}
	if f.PriceMax != nil && p.Price > *f.PriceMax {
		return false
	}
	if f.Vendor != "" && !strings.EqualFold(f.Vendor, p.Vendor) {
		return false
	}
	if f.ProductType != "" && !strings.EqualFold(f.ProductType, p.ProductType) {
		return false
	}
	if f.InStockOnly && p.Inventory <= 0 {
		return false
	}
	if f.HasVariants && len(p.Variants) == 0 {
		return false
	}
	return true
}

// purchaseURL builds the storefront link from shop domain and handle,
// slugifying the title when no handle is recorded.
func purchaseURL(p *models.Product) string {
	if p.ShopDomain == "" {
		return ""
	}
	handle := p.Handle
	if handle == "" {
		handle = utils.Slugify(p.Title)
	}
	return fmt.Sprintf("https://%s/products/%s", p.ShopDomain, handle)
}

// CosineSimilarity computes dot/(|a||b|), returning 0 for zero or
// mismatched vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
