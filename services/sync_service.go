package services

import (
	"context"
	"fmt"
	"time"

	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/internal/config"
	"knowledge-retrieval-service/internal/crawler"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"
	"knowledge-retrieval-service/utils"

	"go.mongodb.org/mongo-driver/bson"
)

// pageHash fingerprints a crawled page for change detection.
func pageHash(page *models.CrawledPage) string {
	return utils.ContentHash(page.Title + "\n" + page.Content)
}

// SyncService keeps tracked scrape sources aligned with their remote
// content: it re-crawls, diffs page hashes against stored documents and
// applies only the delta.
type SyncService struct {
	cfg       *config.Config
	catalog   *catalog.Catalog
	crawler   *crawler.Crawler
	scraper   *ScrapeService
	store     *VectorStore
	scheduler *crawler.Scheduler
}

func NewSyncService(cfg *config.Config, cat *catalog.Catalog, cr *crawler.Crawler, scraper *ScrapeService, store *VectorStore) *SyncService {
	return &SyncService{
		cfg:       cfg,
		catalog:   cat,
		crawler:   cr,
		scraper:   scraper,
		store:     store,
		scheduler: crawler.NewScheduler(),
	}
}

// diff classifies freshly crawled pages against the source's existing
// documents by URL and content hash.
func (s *SyncService) diff(pages []models.CrawledPage, existing map[string]*models.Document) *models.ChangeSet {
	changes := &models.ChangeSet{}
	seen := make(map[string]bool, len(pages))

	for i := range pages {
		page := &pages[i]
		seen[page.URL] = true
		newHash := pageHash(page)

		doc, ok := existing[page.URL]
		if !ok {
			changes.NewPages = append(changes.NewPages, models.PageChange{
				URL:     page.URL,
				NewHash: newHash,
				Page:    page,
			})
			continue
		}
		if doc.ContentHash != newHash {
			changes.ChangedPages = append(changes.ChangedPages, models.PageChange{
				URL:        page.URL,
				DocumentID: doc.ID,
				OldHash:    doc.ContentHash,
				NewHash:    newHash,
				Page:       page,
			})
			continue
		}
		changes.UnchangedPages = append(changes.UnchangedPages, page.URL)
	}

	for url, doc := range existing {
		if !seen[url] {
			changes.RemovedPages = append(changes.RemovedPages, models.PageChange{
				URL:        url,
				DocumentID: doc.ID,
				OldHash:    doc.ContentHash,
			})
		}
	}
	return changes
}

// CheckChanges crawls the source and reports the pending delta without
// applying it.
func (s *SyncService) CheckChanges(ctx context.Context, sourceID string) (*models.ChangeSet, error) {
	source, err := s.catalog.GetScrapeSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	result, err := s.crawler.Crawl(ctx, crawler.CrawlConfig{
		URL:         source.URL,
		MaxDepth:    source.MaxDepth,
		MaxPages:    source.MaxPages,
		FollowLinks: source.ScrapeType != models.ScrapeTypeSingleURL,
	})
	if err != nil {
		return nil, err
	}
	existing, err := s.catalog.DocumentsBySource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return s.diff(result.Pages, existing), nil
}

// SyncSource re-crawls a source and applies the diff: ingest new pages,
// re-ingest changed pages under their existing document IDs, delete
// removed pages.
func (s *SyncService) SyncSource(ctx context.Context, sourceID string) (*models.SyncSummary, error) {
	source, err := s.catalog.GetScrapeSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source.SyncStatus == models.SyncStatusSyncing {
		return nil, fmt.Errorf("source %s is already syncing", sourceID)
	}

	s.catalog.SetScrapeSourceFields(ctx, sourceID, bson.M{
		"sync_status": models.SyncStatusSyncing,
		"last_error":  "",
	})

	summary, err := s.runSync(ctx, source)
	now := time.Now()
	if err != nil {
		msg := utils.Truncate(err.Error(), maxErrorLen)
		s.catalog.SetScrapeSourceFields(ctx, sourceID, bson.M{
			"sync_status": models.SyncStatusError,
			"last_error":  msg,
		})
		return nil, err
	}

	interval := source.SyncIntervalHours
	if interval <= 0 {
		interval = 24
	}
	next := now.Add(time.Duration(interval) * time.Hour)

	docs, countErr := s.catalog.DocumentsBySource(ctx, sourceID)
	fields := bson.M{
		"sync_status":  models.SyncStatusIdle,
		"last_sync_at": now,
		"next_sync_at": next,
	}
	if countErr == nil {
		fields["documents_count"] = len(docs)
	}
	s.catalog.SetScrapeSourceFields(ctx, sourceID, fields)

	logger.Info("Source synced",
		"source_id", sourceID,
		"new", summary.New,
		"changed", summary.Changed,
		"removed", summary.Removed,
		"unchanged", summary.Unchanged)
	return summary, nil
}

func (s *SyncService) runSync(ctx context.Context, source *models.ScrapeSource) (*models.SyncSummary, error) {
	result, err := s.crawler.Crawl(ctx, crawler.CrawlConfig{
		URL:         source.URL,
		MaxDepth:    source.MaxDepth,
		MaxPages:    source.MaxPages,
		FollowLinks: source.ScrapeType != models.ScrapeTypeSingleURL,
	})
	if err != nil {
		return nil, fmt.Errorf("crawl: %w", err)
	}

	existing, err := s.catalog.DocumentsBySource(ctx, source.ID)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	changes := s.diff(result.Pages, existing)

	summary := &models.SyncSummary{Unchanged: len(changes.UnchangedPages)}

	for _, change := range changes.NewPages {
		if _, err := s.scraper.IngestPage(ctx, source.KBID, source.TenantID, source.ID, change.Page, ""); err != nil {
			logger.Warn("Sync ingest of new page failed", "url", change.URL, "error", err)
			continue
		}
		summary.New++
	}

	// changed pages keep their document identity: clear the old vectors
	// first, then ingest the fresh content under the same ID
	for _, change := range changes.ChangedPages {
		if err := s.store.DeleteDocumentVectors(ctx, source.KBID, change.DocumentID); err != nil {
			logger.Warn("Sync vector cleanup failed", "document_id", change.DocumentID, "error", err)
			continue
		}
		if _, err := s.scraper.IngestPage(ctx, source.KBID, source.TenantID, source.ID, change.Page, change.DocumentID); err != nil {
			logger.Warn("Sync re-ingest failed", "url", change.URL, "error", err)
			continue
		}
		summary.Changed++
	}

	for _, change := range changes.RemovedPages {
		if err := s.store.DeleteDocument(ctx, source.KBID, change.DocumentID); err != nil {
			logger.Warn("Sync removal failed", "document_id", change.DocumentID, "error", err)
			continue
		}
		summary.Removed++
	}

	if changes.HasChanges() {
		if err := s.catalog.RefreshKBStats(ctx, source.KBID, s.scraper.gateway.Dimension(), s.scraper.gateway.Model()); err != nil {
			logger.Warn("KB stats refresh failed", "kb_id", source.KBID, "error", err)
		}
	}
	return summary, nil
}

// Start begins the periodic sweep over sources due for sync.
func (s *SyncService) Start() error {
	interval := time.Duration(s.cfg.SyncCheckIntervalMin) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if err := s.scheduler.ScheduleInterval("source-sync", interval, s.runDueSources); err != nil {
		return err
	}
	s.scheduler.Start()
	logger.Info("Sync scheduler started", "interval", interval.String())
	return nil
}

func (s *SyncService) Stop() {
	s.scheduler.Stop()
}

// runDueSources syncs up to ten due sources, serially so one slow site
// cannot fan out into parallel crawls.
func (s *SyncService) runDueSources() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	sources, err := s.catalog.SourcesDueForSync(ctx, 10)
	if err != nil {
		logger.Error("Due-source query failed", "error", err)
		return err
	}
	for _, source := range sources {
		if _, err := s.SyncSource(ctx, source.ID); err != nil {
			logger.Error("Scheduled sync failed", "source_id", source.ID, "error", err)
		}
	}
	return nil
}
