package routes

import (
	"net/http"
	"time"

	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/internal/queue"
	"knowledge-retrieval-service/middleware"
	"knowledge-retrieval-service/models"
	"knowledge-retrieval-service/services"
	"knowledge-retrieval-service/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
)

// SetupScrapeRoutes wires crawling, async scrape jobs and tracked sources.
func SetupScrapeRoutes(router *gin.Engine, cat *catalog.Catalog, scraper *services.ScrapeService, sync *services.SyncService, store *services.VectorStore, asynqClient *asynq.Client) {
	v1 := router.Group("/api/v1")
	v1.POST("/documents/scrape-url", handleScrapeURL(scraper))
	v1.POST("/documents/scrape-url-async", handleScrapeURLAsync(cat, asynqClient))
	v1.GET("/documents/scrape-job/:job_id/status", handleGetScrapeJob(cat))

	v1.POST("/scrape-sources", handleCreateSource(cat, asynqClient))
	v1.GET("/scrape-sources/:source_id", handleGetSource(cat))
	v1.PUT("/scrape-sources/:source_id", handleUpdateSource(cat))
	v1.DELETE("/scrape-sources/:source_id", handleDeleteSource(cat, store))
	v1.POST("/scrape-sources/:source_id/sync", handleSyncSource(asynqClient))
	v1.GET("/scrape-sources/:source_id/check-changes", handleCheckChanges(sync))
}

type scrapeURLRequest struct {
	KBID     string `json:"kb_id" binding:"required"`
	URL      string `json:"url" binding:"required"`
	MaxDepth int    `json:"max_depth"`
	MaxPages int    `json:"max_pages"`
	Products bool   `json:"extract_products"`
}

func handleScrapeURL(scraper *services.ScrapeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req scrapeURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "kb_id and url are required", gin.H{"error": err.Error()})
			return
		}

		outcome, err := scraper.Scrape(c.Request.Context(), services.ScrapeRequest{
			KBID:     req.KBID,
			TenantID: middleware.GetTenantID(c),
			URL:      req.URL,
			MaxDepth: req.MaxDepth,
			MaxPages: req.MaxPages,
			Products: req.Products,
		})
		if err != nil {
			utils.RespondWithError(c, http.StatusBadGateway,
				"scrape_failed", "Failed to scrape the URL", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, outcome)
	}
}

func handleScrapeURLAsync(cat *catalog.Catalog, asynqClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req scrapeURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "kb_id and url are required", gin.H{"error": err.Error()})
			return
		}

		job := &models.ScrapeJob{
			ID:        uuid.NewString(),
			KBID:      req.KBID,
			TenantID:  middleware.GetTenantID(c),
			URL:       req.URL,
			Status:    models.CrawlStatusPending,
			MaxDepth:  req.MaxDepth,
			MaxPages:  req.MaxPages,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := cat.InsertScrapeJob(c.Request.Context(), job); err != nil {
			utils.RespondWithInternalError(c, "Failed to create scrape job", nil)
			return
		}

		task, err := queue.NewScrapeJobTask(job.ID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue scrape job", nil)
			return
		}
		if _, err := asynqClient.Enqueue(task); err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue scrape job", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
	}
}

func handleGetScrapeJob(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := cat.GetScrapeJob(c.Request.Context(), c.Param("job_id"))
		if err != nil {
			if catalog.IsNotFound(err) {
				utils.RespondWithNotFound(c, "Scrape job not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to load scrape job", nil)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

type createSourceRequest struct {
	KBID              string `json:"kb_id" binding:"required"`
	URL               string `json:"url" binding:"required"`
	ScrapeType        string `json:"scrape_type"`
	MaxDepth          int    `json:"max_depth"`
	MaxPages          int    `json:"max_pages"`
	AutoSyncEnabled   bool   `json:"auto_sync_enabled"`
	SyncIntervalHours int    `json:"sync_interval_hours"`
}

func handleCreateSource(cat *catalog.Catalog, asynqClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSourceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "kb_id and url are required", gin.H{"error": err.Error()})
			return
		}
		scrapeType := req.ScrapeType
		if scrapeType == "" {
			scrapeType = models.ScrapeTypeCrawl
		}
		interval := req.SyncIntervalHours
		if interval <= 0 {
			interval = 24
		}

		source := &models.ScrapeSource{
			ID:                uuid.NewString(),
			KBID:              req.KBID,
			TenantID:          middleware.GetTenantID(c),
			URL:               req.URL,
			ScrapeType:        scrapeType,
			MaxDepth:          req.MaxDepth,
			MaxPages:          req.MaxPages,
			AutoSyncEnabled:   req.AutoSyncEnabled,
			SyncIntervalHours: interval,
			SyncStatus:        models.SyncStatusIdle,
			CreatedAt:         time.Now(),
			UpdatedAt:         time.Now(),
		}
		if err := cat.InsertScrapeSource(c.Request.Context(), source); err != nil {
			utils.RespondWithInternalError(c, "Failed to create scrape source", nil)
			return
		}

		// initial sync populates the source right away
		if task, err := queue.NewSourceSyncTask(source.ID); err == nil {
			if _, err := asynqClient.Enqueue(task); err != nil {
				logger.Warn("Initial sync enqueue failed", "source_id", source.ID, "error", err)
			}
		}
		c.JSON(http.StatusCreated, source)
	}
}

func handleGetSource(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		source, err := cat.GetScrapeSource(c.Request.Context(), c.Param("source_id"))
		if err != nil {
			if catalog.IsNotFound(err) {
				utils.RespondWithNotFound(c, "Scrape source not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to load scrape source", nil)
			return
		}
		c.JSON(http.StatusOK, source)
	}
}

type updateSourceRequest struct {
	AutoSyncEnabled   *bool `json:"auto_sync_enabled"`
	SyncIntervalHours *int  `json:"sync_interval_hours"`
	MaxDepth          *int  `json:"max_depth"`
	MaxPages          *int  `json:"max_pages"`
}

func handleUpdateSource(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		sourceID := c.Param("source_id")
		var req updateSourceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", nil)
			return
		}

		fields := bson.M{}
		if req.AutoSyncEnabled != nil {
			fields["auto_sync_enabled"] = *req.AutoSyncEnabled
		}
		if req.SyncIntervalHours != nil {
			fields["sync_interval_hours"] = *req.SyncIntervalHours
		}
		if req.MaxDepth != nil {
			fields["max_depth"] = *req.MaxDepth
		}
		if req.MaxPages != nil {
			fields["max_pages"] = *req.MaxPages
		}
		if len(fields) == 0 {
			utils.RespondWithBadRequest(c, "No updatable fields provided", nil)
			return
		}

		if err := cat.SetScrapeSourceFields(c.Request.Context(), sourceID, fields); err != nil {
			utils.RespondWithInternalError(c, "Failed to update scrape source", nil)
			return
		}
		source, err := cat.GetScrapeSource(c.Request.Context(), sourceID)
		if err != nil {
			if catalog.IsNotFound(err) {
				utils.RespondWithNotFound(c, "Scrape source not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to load scrape source", nil)
			return
		}
		c.JSON(http.StatusOK, source)
	}
}

// handleDeleteSource removes the source and every document it produced.
func handleDeleteSource(cat *catalog.Catalog, store *services.VectorStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sourceID := c.Param("source_id")

		source, err := cat.GetScrapeSource(c.Request.Context(), sourceID)
		if err != nil {
			if catalog.IsNotFound(err) {
				utils.RespondWithNotFound(c, "Scrape source not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to load scrape source", nil)
			return
		}

		docs, err := cat.DocumentsBySource(c.Request.Context(), sourceID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load source documents", nil)
			return
		}
		deleted := 0
		for _, doc := range docs {
			if err := store.DeleteDocument(c.Request.Context(), source.KBID, doc.ID); err != nil {
				logger.Warn("Source document cleanup failed", "document_id", doc.ID, "error", err)
				continue
			}
			deleted++
		}

		if _, err := cat.ScrapeSources().DeleteOne(c.Request.Context(), bson.M{"_id": sourceID}); err != nil {
			utils.RespondWithInternalError(c, "Failed to delete scrape source", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"source_id":         sourceID,
			"deleted":           true,
			"documents_deleted": deleted,
		})
	}
}

func handleSyncSource(asynqClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		sourceID := c.Param("source_id")
		task, err := queue.NewSourceSyncTask(sourceID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue sync", nil)
			return
		}
		if _, err := asynqClient.Enqueue(task); err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue sync", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"source_id": sourceID, "status": "sync_enqueued"})
	}
}

func handleCheckChanges(sync *services.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		changes, err := sync.CheckChanges(c.Request.Context(), c.Param("source_id"))
		if err != nil {
			if catalog.IsNotFound(err) {
				utils.RespondWithNotFound(c, "Scrape source not found")
				return
			}
			utils.RespondWithError(c, http.StatusBadGateway,
				"check_failed", "Failed to check for changes", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"changes":     changes,
			"has_changes": changes.HasChanges(),
			"summary": models.SyncSummary{
				New:       len(changes.NewPages),
				Changed:   len(changes.ChangedPages),
				Removed:   len(changes.RemovedPages),
				Unchanged: len(changes.UnchangedPages),
			},
		})
	}
}
