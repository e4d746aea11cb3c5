package catalog

import (
	"context"
	"fmt"
	"time"

	"knowledge-retrieval-service/models"
	"knowledge-retrieval-service/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Catalog is the relational-style record store backing documents, chunks,
// products, images, scrape sources and per-KB stats.
type Catalog struct {
	db *mongo.Database
}

func New(client *mongo.Client, dbName string) *Catalog {
	return &Catalog{db: client.Database(dbName)}
}

func (c *Catalog) Documents() *mongo.Collection     { return c.db.Collection("documents") }
func (c *Catalog) Chunks() *mongo.Collection        { return c.db.Collection("chunks") }
func (c *Catalog) Products() *mongo.Collection      { return c.db.Collection("products") }
func (c *Catalog) Images() *mongo.Collection        { return c.db.Collection("images") }
func (c *Catalog) ScrapeSources() *mongo.Collection { return c.db.Collection("scrape_sources") }
func (c *Catalog) KnowledgeBases() *mongo.Collection {
	return c.db.Collection("knowledge_bases")
}
func (c *Catalog) ScrapeJobs() *mongo.Collection { return c.db.Collection("scrape_jobs") }

// --- Documents ---

func (c *Catalog) InsertDocument(ctx context.Context, doc *models.Document) error {
	_, err := c.Documents().InsertOne(ctx, doc)
	return err
}

func (c *Catalog) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var doc models.Document
	err := c.Documents().FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Catalog) UpdateDocumentStatus(ctx context.Context, documentID, status string) error {
	_, err := c.Documents().UpdateOne(ctx,
		bson.M{"_id": documentID},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}},
	)
	return err
}

// MarkDocumentFailed records a failure, truncating the message to keep the
// record bounded.
func (c *Catalog) MarkDocumentFailed(ctx context.Context, documentID, errMsg string) error {
	errMsg = utils.Truncate(errMsg, 1000)
	_, err := c.Documents().UpdateOne(ctx,
		bson.M{"_id": documentID},
		bson.M{"$set": bson.M{
			"status":        models.DocStatusFailed,
			"error_message": errMsg,
			"updated_at":    time.Now(),
		}},
	)
	return err
}

func (c *Catalog) CompleteDocument(ctx context.Context, documentID string, stats *models.ProcessingStats) error {
	_, err := c.Documents().UpdateOne(ctx,
		bson.M{"_id": documentID},
		bson.M{"$set": bson.M{
			"status":           models.DocStatusCompleted,
			"processing_stats": stats,
			"error_message":    "",
			"updated_at":       time.Now(),
		}},
	)
	return err
}

func (c *Catalog) SetDocumentFields(ctx context.Context, documentID string, fields bson.M) error {
	fields["updated_at"] = time.Now()
	_, err := c.Documents().UpdateOne(ctx, bson.M{"_id": documentID}, bson.M{"$set": fields})
	return err
}

func (c *Catalog) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := c.Chunks().DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := c.Images().DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	_, err := c.Documents().DeleteOne(ctx, bson.M{"_id": documentID})
	return err
}

// DocumentsBySource returns documents produced by a scrape source, keyed by
// source URL, for change detection.
func (c *Catalog) DocumentsBySource(ctx context.Context, sourceID string) (map[string]*models.Document, error) {
	cursor, err := c.Documents().Find(ctx, bson.M{"scrape_source_id": sourceID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	byURL := make(map[string]*models.Document)
	for cursor.Next(ctx) {
		var doc models.Document
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		d := doc
		byURL[doc.SourceURL] = &d
	}
	return byURL, cursor.Err()
}

// DocumentsByKB returns every document in a knowledge base, newest first.
func (c *Catalog) DocumentsByKB(ctx context.Context, kbID string) ([]models.Document, error) {
	cursor, err := c.Documents().Find(ctx, bson.M{"kb_id": kbID},
		options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// --- Chunks ---

func (c *Catalog) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]interface{}, len(chunks))
	for i := range chunks {
		docs[i] = chunks[i]
	}
	_, err := c.Chunks().InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}

func (c *Catalog) GetChunk(ctx context.Context, chunkID string) (*models.Chunk, error) {
	var chunk models.Chunk
	err := c.Chunks().FindOne(ctx, bson.M{"_id": chunkID}).Decode(&chunk)
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// GetChunks fetches a batch of chunks by id in one round trip.
func (c *Catalog) GetChunks(ctx context.Context, chunkIDs []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	cursor, err := c.Chunks().Find(ctx, bson.M{"_id": bson.M{"$in": chunkIDs}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var chunk models.Chunk
		if err := cursor.Decode(&chunk); err != nil {
			return nil, err
		}
		ch := chunk
		out[chunk.ID] = &ch
	}
	return out, cursor.Err()
}

func (c *Catalog) ChunkIDsForDocument(ctx context.Context, documentID string) ([]string, error) {
	cursor, err := c.Chunks().Find(ctx, bson.M{"document_id": documentID},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cursor.Err()
}

func (c *Catalog) DeleteChunksForDocument(ctx context.Context, documentID string) error {
	_, err := c.Chunks().DeleteMany(ctx, bson.M{"document_id": documentID})
	return err
}

func (c *Catalog) CountChunks(ctx context.Context, kbID string) (int64, error) {
	return c.Chunks().CountDocuments(ctx, bson.M{"kb_id": kbID})
}

// --- Products ---

func (c *Catalog) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	var product models.Product
	err := c.Products().FindOne(ctx, bson.M{"_id": productID}).Decode(&product)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *Catalog) UpsertProduct(ctx context.Context, product *models.Product) error {
	product.UpdatedAt = time.Now()
	_, err := c.Products().UpdateOne(ctx,
		bson.M{"_id": product.ID},
		bson.M{"$set": product},
		options.Update().SetUpsert(true),
	)
	return err
}

// --- Images ---

func (c *Catalog) InsertImage(ctx context.Context, image *models.Image) error {
	_, err := c.Images().InsertOne(ctx, image)
	return err
}

func (c *Catalog) DeleteImagesForDocument(ctx context.Context, documentID string) error {
	_, err := c.Images().DeleteMany(ctx, bson.M{"document_id": documentID})
	return err
}

func (c *Catalog) ImagesForKB(ctx context.Context, kbID string) ([]models.Image, error) {
	cursor, err := c.Images().Find(ctx, bson.M{"kb_id": kbID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var images []models.Image
	if err := cursor.All(ctx, &images); err != nil {
		return nil, err
	}
	return images, nil
}

// --- Scrape sources ---

func (c *Catalog) InsertScrapeSource(ctx context.Context, source *models.ScrapeSource) error {
	_, err := c.ScrapeSources().InsertOne(ctx, source)
	return err
}

func (c *Catalog) GetScrapeSource(ctx context.Context, sourceID string) (*models.ScrapeSource, error) {
	var source models.ScrapeSource
	err := c.ScrapeSources().FindOne(ctx, bson.M{"_id": sourceID}).Decode(&source)
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func (c *Catalog) SetScrapeSourceFields(ctx context.Context, sourceID string, fields bson.M) error {
	fields["updated_at"] = time.Now()
	_, err := c.ScrapeSources().UpdateOne(ctx, bson.M{"_id": sourceID}, bson.M{"$set": fields})
	return err
}

// SourcesDueForSync lists sources whose next sync has elapsed. Sources
// already syncing are skipped; a NULL next_sync_at means "due now".
func (c *Catalog) SourcesDueForSync(ctx context.Context, limit int64) ([]models.ScrapeSource, error) {
	now := time.Now()
	filter := bson.M{
		"auto_sync_enabled": true,
		"sync_status":       bson.M{"$ne": models.SyncStatusSyncing},
		"$or": []bson.M{
			{"next_sync_at": nil},
			{"next_sync_at": bson.M{"$lte": now}},
		},
	}
	cursor, err := c.ScrapeSources().Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "next_sync_at", Value: 1}}).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sources []models.ScrapeSource
	if err := cursor.All(ctx, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

// --- Scrape jobs ---

func (c *Catalog) InsertScrapeJob(ctx context.Context, job *models.ScrapeJob) error {
	_, err := c.ScrapeJobs().InsertOne(ctx, job)
	return err
}

func (c *Catalog) GetScrapeJob(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	err := c.ScrapeJobs().FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Catalog) SetScrapeJobFields(ctx context.Context, jobID string, fields bson.M) error {
	fields["updated_at"] = time.Now()
	_, err := c.ScrapeJobs().UpdateOne(ctx, bson.M{"_id": jobID}, bson.M{"$set": fields})
	return err
}

// --- KB stats ---

// RefreshKBStats recomputes the denormalized per-KB counters from the
// underlying collections.
func (c *Catalog) RefreshKBStats(ctx context.Context, kbID string, dimension int, model string) error {
	docCount, err := c.Documents().CountDocuments(ctx, bson.M{"kb_id": kbID})
	if err != nil {
		return err
	}
	chunkCount, err := c.Chunks().CountDocuments(ctx, bson.M{"kb_id": kbID})
	if err != nil {
		return err
	}
	imageCount, err := c.Images().CountDocuments(ctx, bson.M{"kb_id": kbID})
	if err != nil {
		return err
	}
	productCount, err := c.Products().CountDocuments(ctx, bson.M{"kb_id": kbID})
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = c.KnowledgeBases().UpdateOne(ctx,
		bson.M{"kb_id": kbID},
		bson.M{
			"$set": bson.M{
				"stats": models.KBStats{
					DocumentCount: int(docCount),
					ChunkCount:    int(chunkCount),
					ImageCount:    int(imageCount),
					ProductCount:  int(productCount),
					Dimension:     dimension,
					Model:         model,
				},
				"updated_at": now,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (c *Catalog) GetKnowledgeBase(ctx context.Context, kbID string) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	err := c.KnowledgeBases().FindOne(ctx, bson.M{"kb_id": kbID}).Decode(&kb)
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

// IsNotFound reports whether err is the driver's missing-document error.
func IsNotFound(err error) bool {
	return err == mongo.ErrNoDocuments
}
