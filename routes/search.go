package routes

import (
	"net/http"
	"strings"
	"time"

	"knowledge-retrieval-service/internal/ai"
	"knowledge-retrieval-service/internal/telemetry"
	"knowledge-retrieval-service/models"
	"knowledge-retrieval-service/services"
	"knowledge-retrieval-service/utils"

	"github.com/gin-gonic/gin"
)

// SetupSearchRoutes wires the retrieval endpoints.
func SetupSearchRoutes(router *gin.Engine, search *services.SearchService, gateway *ai.EmbeddingGateway, metrics *telemetry.Metrics) {
	v1 := router.Group("/api/v1")
	v1.POST("/search", handleSearch(search, "", metrics))
	v1.POST("/search/products", handleSearch(search, "product", metrics))
	v1.POST("/search/images", handleSearch(search, "image", metrics))
	v1.POST("/embeddings", handleEmbeddings(gateway))
}

func handleSearch(search *services.SearchService, forceType string, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "kb_id and query are required", gin.H{"error": err.Error()})
			return
		}
		if forceType != "" {
			req.SearchType = forceType
		}
		if req.SearchType != "" && req.SearchType != "text" && req.SearchType != "image" && req.SearchType != "product" {
			utils.RespondWithBadRequest(c, "search_type must be one of text, image, product", nil)
			return
		}

		start := time.Now()
		resp, err := search.Search(c.Request.Context(), req)
		if err != nil {
			if strings.Contains(err.Error(), "must not be empty") {
				utils.RespondWithBadRequest(c, "Query must not be empty", nil)
				return
			}
			utils.RespondWithInternalError(c, "Search failed", gin.H{"error": err.Error()})
			return
		}

		if metrics != nil {
			searchType := req.SearchType
			if searchType == "" {
				searchType = "text"
			}
			metrics.RecordSearch(time.Since(start).Seconds(), searchType, resp.Cached)
			outcome := "miss"
			if resp.Cached {
				outcome = "hit"
			}
			metrics.RecordCacheEvent(req.KBID, outcome)
		}
		c.JSON(http.StatusOK, resp)
	}
}

type embeddingsRequest struct {
	Texts []string `json:"texts" binding:"required"`
}

// handleEmbeddings exposes the embedding gateway directly for callers that
// manage their own vectors.
func handleEmbeddings(gateway *ai.EmbeddingGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req embeddingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "texts is required", nil)
			return
		}
		if len(req.Texts) == 0 || len(req.Texts) > 100 {
			utils.RespondWithBadRequest(c, "texts must contain between 1 and 100 entries", nil)
			return
		}

		vectors, failed, err := gateway.EmbedBatch(c.Request.Context(), req.Texts)
		if err != nil {
			utils.RespondWithInternalError(c, "Embedding failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"model":          gateway.Model(),
			"dimension":      gateway.Dimension(),
			"embeddings":     vectors,
			"failed_indices": failed,
		})
	}
}
