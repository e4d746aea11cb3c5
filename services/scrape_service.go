package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"knowledge-retrieval-service/internal/ai"
	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/internal/config"
	"knowledge-retrieval-service/internal/crawler"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"
	"knowledge-retrieval-service/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// ScrapeService turns crawled pages into indexed documents.
type ScrapeService struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	crawler *crawler.Crawler
	chunker *ContentAwareChunker
	gateway *ai.EmbeddingGateway
	store   *VectorStore
}

func NewScrapeService(cfg *config.Config, cat *catalog.Catalog, cr *crawler.Crawler, chunker *ContentAwareChunker, gateway *ai.EmbeddingGateway, store *VectorStore) *ScrapeService {
	return &ScrapeService{
		cfg:     cfg,
		catalog: cat,
		crawler: cr,
		chunker: chunker,
		gateway: gateway,
		store:   store,
	}
}

// ScrapeRequest describes a synchronous or asynchronous scrape.
type ScrapeRequest struct {
	KBID     string
	TenantID string
	URL      string
	MaxDepth int
	MaxPages int
	SourceID string // set when the scrape belongs to a tracked source
	Products bool
}

// ScrapeOutcome reports what a scrape ingested.
type ScrapeOutcome struct {
	PagesCrawled   int      `json:"pages_crawled"`
	PagesIngested  int      `json:"pages_ingested"`
	ProductsStored int      `json:"products_stored"`
	DocumentIDs    []string `json:"document_ids"`
	Method         string   `json:"method"`
}

// Scrape crawls the URL and ingests every page as a document.
func (s *ScrapeService) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeOutcome, error) {
	result, err := s.crawler.Crawl(ctx, crawler.CrawlConfig{
		URL:             req.URL,
		MaxDepth:        req.MaxDepth,
		MaxPages:        req.MaxPages,
		FollowLinks:     req.MaxDepth != 1,
		IncludeProducts: req.Products,
	})
	if err != nil {
		return nil, err
	}

	outcome := &ScrapeOutcome{PagesCrawled: len(result.Pages), Method: result.Method}
	for _, page := range result.Pages {
		docID, err := s.IngestPage(ctx, req.KBID, req.TenantID, req.SourceID, &page, "")
		if err != nil {
			logger.Warn("Page ingest failed", "url", page.URL, "error", err)
			continue
		}
		outcome.PagesIngested++
		outcome.DocumentIDs = append(outcome.DocumentIDs, docID)
	}

	for _, product := range result.Products {
		if err := s.storeProduct(ctx, req.KBID, &product); err != nil {
			logger.Warn("Product store failed", "title", product.Title, "error", err)
			continue
		}
		outcome.ProductsStored++
	}

	if outcome.PagesIngested == 0 {
		return nil, fmt.Errorf("crawled %d pages but ingested none", len(result.Pages))
	}
	if err := s.catalog.RefreshKBStats(ctx, req.KBID, s.gateway.Dimension(), s.gateway.Model()); err != nil {
		logger.Warn("KB stats refresh failed", "kb_id", req.KBID, "error", err)
	}
	return outcome, nil
}

// IngestPage chunks, embeds and stores one crawled page. When documentID is
// empty a new document is created; otherwise the page replaces the existing
// document's content in place.
func (s *ScrapeService) IngestPage(ctx context.Context, kbID, tenantID, sourceID string, page *models.CrawledPage, documentID string) (string, error) {
	text := page.Content
	if page.Title != "" && !strings.HasPrefix(text, page.Title) {
		text = page.Title + "\n\n" + text
	}

	newDocument := documentID == ""
	if newDocument {
		documentID = uuid.NewString()
		doc := &models.Document{
			ID:             documentID,
			KBID:           kbID,
			TenantID:       tenantID,
			Filename:       page.Title,
			ContentType:    "text/html",
			Size:           int64(len(page.Content)),
			Status:         models.DocStatusProcessing,
			ContentHash:    pageHash(page),
			ScrapeSourceID: sourceID,
			SourceURL:      page.URL,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		if doc.Filename == "" {
			doc.Filename = page.URL
		}
		if err := s.catalog.InsertDocument(ctx, doc); err != nil {
			return "", fmt.Errorf("insert document: %w", err)
		}
	} else {
		if err := s.catalog.SetDocumentFields(ctx, documentID, bson.M{
			"status":       models.DocStatusProcessing,
			"content_hash": pageHash(page),
			"size":         int64(len(page.Content)),
		}); err != nil {
			return "", fmt.Errorf("update document: %w", err)
		}
	}

	chunks := s.chunker.Chunk(text, page.URL+".html")
	if len(chunks) == 0 {
		s.catalog.MarkDocumentFailed(ctx, documentID, "no chunks produced from page content")
		return "", fmt.Errorf("no chunks produced for %s", page.URL)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, _, err := s.gateway.EmbedBatch(ctx, texts)
	if err != nil {
		s.catalog.MarkDocumentFailed(ctx, documentID, err.Error())
		return "", fmt.Errorf("embed page: %w", err)
	}

	stored, err := s.store.StoreDocument(ctx, documentID, kbID, chunks, embeddings)
	if err != nil {
		s.catalog.MarkDocumentFailed(ctx, documentID, err.Error())
		return "", fmt.Errorf("store page: %w", err)
	}

	stats := &models.ProcessingStats{
		TotalPages:     1,
		TotalChunks:    stored,
		EmbeddingModel: s.gateway.Model(),
	}
	if err := s.catalog.CompleteDocument(ctx, documentID, stats); err != nil {
		return "", err
	}
	return documentID, nil
}

func (s *ScrapeService) storeProduct(ctx context.Context, kbID string, product *models.Product) error {
	product.KBID = kbID
	embedding, err := s.gateway.Embed(ctx, productSearchText(product))
	if err != nil {
		return err
	}
	return s.store.StoreProduct(ctx, product, embedding)
}

// productSearchText concatenates the searchable product fields for
// embedding.
func productSearchText(product *models.Product) string {
	parts := []string{product.Title, product.Description, product.Vendor, product.ProductType}
	for _, v := range product.Variants {
		parts = append(parts, v.Title)
	}
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// RunScrapeJob executes an asynchronous scrape recorded in the catalog.
func (s *ScrapeService) RunScrapeJob(ctx context.Context, jobID string) error {
	job, err := s.catalog.GetScrapeJob(ctx, jobID)
	if err != nil {
		return err
	}

	s.catalog.SetScrapeJobFields(ctx, jobID, bson.M{"status": models.CrawlStatusCrawling})

	outcome, err := s.Scrape(ctx, ScrapeRequest{
		KBID:     job.KBID,
		TenantID: job.TenantID,
		URL:      job.URL,
		MaxDepth: job.MaxDepth,
		MaxPages: job.MaxPages,
	})
	now := time.Now()
	if err != nil {
		msg := utils.Truncate(err.Error(), maxErrorLen)
		s.catalog.SetScrapeJobFields(ctx, jobID, bson.M{
			"status":       models.CrawlStatusFailed,
			"error":        msg,
			"completed_at": now,
		})
		return err
	}

	return s.catalog.SetScrapeJobFields(ctx, jobID, bson.M{
		"status":          models.CrawlStatusCompleted,
		"total_pages":     outcome.PagesCrawled,
		"pages_scraped":   outcome.PagesCrawled,
		"pages_processed": outcome.PagesIngested,
		"completed_at":    now,
	})
}
