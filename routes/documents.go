package routes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"knowledge-retrieval-service/internal/ai"
	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/internal/config"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/internal/queue"
	"knowledge-retrieval-service/middleware"
	"knowledge-retrieval-service/models"
	"knowledge-retrieval-service/services"
	"knowledge-retrieval-service/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// SetupDocumentRoutes wires the ingestion endpoints.
func SetupDocumentRoutes(router *gin.Engine, cfg *config.Config, db *mongo.Database, cat *catalog.Catalog, jobs *services.JobProcessor, store *services.VectorStore, asynqClient *asynq.Client) {
	v1 := router.Group("/api/v1")
	v1.POST("/documents/upload", handleUpload(cfg, db, cat, jobs, asynqClient, false))
	v1.POST("/documents/upload-sync", handleUpload(cfg, db, cat, jobs, asynqClient, true))
	v1.GET("/documents/:document_id", handleGetDocument(cat))
	v1.GET("/documents/:document_id/status", handleDocumentStatus(cat, jobs))
	v1.DELETE("/documents/:document_id", handleDeleteDocument(jobs))
	v1.POST("/documents/:document_id/reprocess", handleReprocess(jobs, asynqClient))
	v1.GET("/kb/:kb_id/stats", handleKBStats(store))
}

func handleUpload(cfg *config.Config, db *mongo.Database, cat *catalog.Catalog, jobs *services.JobProcessor, asynqClient *asynq.Client, sync bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		kbID := c.PostForm("kb_id")
		if kbID == "" {
			utils.RespondWithBadRequest(c, "kb_id is required", nil)
			return
		}
		tenantID := c.PostForm("tenant_id")
		if tenantID == "" {
			tenantID = middleware.GetTenantID(c)
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "A file is required in the 'file' form field", nil)
			return
		}
		if fileHeader.Size > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge,
				"file_too_large", "File exceeds the maximum allowed size",
				gin.H{"max_bytes": cfg.MaxFileSize})
			return
		}

		contentType := fileHeader.Header.Get("Content-Type")
		if !contentTypeAllowed(cfg, contentType) {
			utils.RespondWithError(c, http.StatusUnsupportedMediaType,
				"unsupported_type", "File type is not supported",
				gin.H{"content_type": contentType, "allowed": cfg.AllowedTypes})
			return
		}

		// rough token estimate for quota accounting: one token per 4 bytes
		if tenantID != "" {
			if err := ai.CheckTenantQuota(c.Request.Context(), db, tenantID, int(fileHeader.Size/4)); err != nil {
				if errors.Is(err, ai.ErrQuotaExceeded) {
					utils.RespondWithError(c, http.StatusTooManyRequests,
						"quota_exceeded", "Daily AI token quota exceeded", nil)
					return
				}
				logger.Warn("Quota check failed", "tenant_id", tenantID, "error", err)
			}
		}

		file, err := fileHeader.Open()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read upload", nil)
			return
		}
		content, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read upload", nil)
			return
		}

		documentID := c.PostForm("document_id")
		if documentID == "" {
			documentID = uuid.NewString()
		}
		var metadata map[string]any
		if raw := c.PostForm("metadata"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
				utils.RespondWithBadRequest(c, "metadata must be a JSON object", nil)
				return
			}
		}

		doc := &models.Document{
			ID:          documentID,
			KBID:        kbID,
			TenantID:    tenantID,
			Filename:    fileHeader.Filename,
			ContentType: contentType,
			Size:        fileHeader.Size,
			Status:      models.DocStatusQueued,
			ContentHash: utils.ContentHash(string(content)),
			Metadata:    metadata,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		if err := jobs.CreateJob(c.Request.Context(), doc, content); err != nil {
			utils.RespondWithInternalError(c, "Failed to create processing job", gin.H{"error": err.Error()})
			return
		}

		if sync {
			if err := jobs.Process(c.Request.Context(), doc.ID); err != nil {
				utils.RespondWithInternalError(c, "Document processing failed", gin.H{
					"document_id": doc.ID,
					"error":       err.Error(),
				})
				return
			}
			completed, err := cat.GetDocument(c.Request.Context(), doc.ID)
			if err != nil {
				utils.RespondWithInternalError(c, "Failed to load processed document", nil)
				return
			}
			c.JSON(http.StatusOK, completed)
			return
		}

		task, err := queue.NewDocumentProcessTask(doc.ID, kbID, tenantID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue processing task", nil)
			return
		}
		if _, err := asynqClient.Enqueue(task); err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue processing task", gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"document_id":            doc.ID,
			"kb_id":                  kbID,
			"status":                 models.DocStatusQueued,
			"estimated_time_seconds": services.EstimateSeconds(fileHeader.Size),
		})
	}
}

func contentTypeAllowed(cfg *config.Config, contentType string) bool {
	if contentType == "" {
		return false
	}
	for _, allowed := range cfg.AllowedTypes {
		if contentType == allowed {
			return true
		}
	}
	// fall back on the generic CSV/octet types browsers send
	return contentType == "text/csv" || contentType == "application/octet-stream"
}

func handleGetDocument(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := cat.GetDocument(c.Request.Context(), c.Param("document_id"))
		if err != nil {
			if catalog.IsNotFound(err) {
				utils.RespondWithNotFound(c, "Document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to load document", nil)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// handleDocumentStatus serves the live job record while it exists, then
// falls back to the document's persisted status.
func handleDocumentStatus(cat *catalog.Catalog, jobs *services.JobProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("document_id")

		job, err := jobs.GetJob(c.Request.Context(), documentID)
		if err == nil {
			c.JSON(http.StatusOK, job)
			return
		}
		if !errors.Is(err, redis.Nil) {
			logger.Warn("Job record read failed", "document_id", documentID, "error", err)
		}

		doc, err := cat.GetDocument(c.Request.Context(), documentID)
		if err != nil {
			if catalog.IsNotFound(err) {
				utils.RespondWithNotFound(c, "Document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to load document", nil)
			return
		}
		progress := 0
		if doc.Status == models.DocStatusCompleted || doc.Status == models.DocStatusFailed {
			progress = 100
		}
		c.JSON(http.StatusOK, gin.H{
			"document_id":   doc.ID,
			"kb_id":         doc.KBID,
			"status":        doc.Status,
			"progress":      progress,
			"error_message": doc.ErrorMessage,
		})
	}
}

func handleDeleteDocument(jobs *services.JobProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("document_id")
		if err := jobs.Delete(c.Request.Context(), documentID); err != nil {
			if catalog.IsNotFound(err) {
				utils.RespondWithNotFound(c, "Document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to delete document", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"document_id": documentID, "deleted": true})
	}
}

func handleReprocess(jobs *services.JobProcessor, asynqClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("document_id")

		if err := jobs.Reprocess(c.Request.Context(), documentID); err != nil {
			if catalog.IsNotFound(err) {
				utils.RespondWithNotFound(c, "Document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to reset document", gin.H{"error": err.Error()})
			return
		}

		doc, err := jobs.GetJob(c.Request.Context(), documentID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read job record", nil)
			return
		}
		task, err := queue.NewDocumentProcessTask(documentID, doc.KBID, "")
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue processing task", nil)
			return
		}
		if _, err := asynqClient.Enqueue(task); err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue processing task", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"document_id": documentID,
			"status":      models.DocStatusQueued,
		})
	}
}

func handleKBStats(store *services.VectorStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := store.KBStats(c.Request.Context(), c.Param("kb_id"))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to compute knowledge base stats", nil)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
