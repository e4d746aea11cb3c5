package services

import (
	"context"
	"sort"
	"sync"

	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"

	"github.com/coder/hnsw"
)

// Above this many images per KB, a graph index replaces the flat scan.
const hnswThreshold = 1000

type imageEntry struct {
	image     models.Image
	embedding []float32
}

type kbImageIndex struct {
	entries map[string]imageEntry
	graph   *hnsw.Graph[string]
}

// ImageIndex holds per-KB in-memory image vector indexes, rebuilt lazily
// from the catalog. The graph cannot delete in place, so mutations
// invalidate the whole KB index.
type ImageIndex struct {
	mu      sync.RWMutex
	kbs     map[string]*kbImageIndex
	catalog *catalog.Catalog
}

func NewImageIndex(cat *catalog.Catalog) *ImageIndex {
	return &ImageIndex{kbs: make(map[string]*kbImageIndex), catalog: cat}
}

// Invalidate drops the KB's index so the next search rebuilds it.
func (idx *ImageIndex) Invalidate(kbID string) {
	idx.mu.Lock()
	delete(idx.kbs, kbID)
	idx.mu.Unlock()
}

// Search returns the top-k images for a query vector in the image space.
func (idx *ImageIndex) Search(ctx context.Context, kbID string, queryEmbedding []float32, topK int) ([]models.ImageResult, error) {
	kb, err := idx.ensure(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if len(kb.entries) == 0 {
		return []models.ImageResult{}, nil
	}

	var results []models.ImageResult
	if kb.graph != nil {
		for _, node := range kb.graph.Search(queryEmbedding, topK) {
			entry, ok := kb.entries[node.Key]
			if !ok {
				continue
			}
			results = append(results, imageResult(entry, CosineSimilarity(queryEmbedding, entry.embedding)))
		}
	} else {
		for _, entry := range kb.entries {
			results = append(results, imageResult(entry, CosineSimilarity(queryEmbedding, entry.embedding)))
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func imageResult(entry imageEntry, score float64) models.ImageResult {
	return models.ImageResult{
		ImageID:     entry.image.ID,
		DocumentID:  entry.image.DocumentID,
		StoragePath: entry.image.StoragePath,
		PageNumber:  entry.image.PageNumber,
		Description: entry.image.Description,
		Score:       score,
	}
}

func (idx *ImageIndex) ensure(ctx context.Context, kbID string) (*kbImageIndex, error) {
	idx.mu.RLock()
	kb, ok := idx.kbs[kbID]
	idx.mu.RUnlock()
	if ok {
		return kb, nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if kb, ok := idx.kbs[kbID]; ok {
		return kb, nil
	}

	images, err := idx.catalog.ImagesForKB(ctx, kbID)
	if err != nil {
		return nil, err
	}

	kb = &kbImageIndex{entries: make(map[string]imageEntry, len(images))}
	for _, img := range images {
		if len(img.Embedding) == 0 {
			continue
		}
		kb.entries[img.ID] = imageEntry{image: img, embedding: img.Embedding}
	}

	if len(kb.entries) > hnswThreshold {
		graph := hnsw.NewGraph[string]()
		graph.M = 16
		graph.EfSearch = 20
		graph.Distance = hnsw.CosineDistance
		for id, entry := range kb.entries {
			graph.Add(hnsw.MakeNode(id, entry.embedding))
		}
		kb.graph = graph
		logger.Info("Built HNSW image index", "kb_id", kbID, "images", len(kb.entries))
	}

	idx.kbs[kbID] = kb
	return kb, nil
}
