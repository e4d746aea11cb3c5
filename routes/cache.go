package routes

import (
	"net/http"

	"knowledge-retrieval-service/internal/config"
	"knowledge-retrieval-service/middleware"
	"knowledge-retrieval-service/services"
	"knowledge-retrieval-service/utils"

	"github.com/gin-gonic/gin"
)

// SetupCacheRoutes wires semantic-cache inspection and invalidation. Cache
// clearing is reserved for internal callers.
func SetupCacheRoutes(router *gin.Engine, cfg *config.Config, cache *services.SemanticCache) {
	v1 := router.Group("/api/v1")
	v1.GET("/cache/stats", handleCacheStats(cache))
	v1.DELETE("/cache/clear", middleware.RequireInternalKey(cfg), handleCacheClear(cache))
}

func handleCacheStats(cache *services.SemanticCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		kbID := c.Query("kb_id")
		if kbID == "" {
			utils.RespondWithBadRequest(c, "kb_id query parameter is required", nil)
			return
		}
		stats, err := cache.Stats(c.Request.Context(), kbID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read cache stats", nil)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func handleCacheClear(cache *services.SemanticCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		kbID := c.Query("kb_id")
		if kbID == "" {
			utils.RespondWithBadRequest(c, "kb_id query parameter is required", nil)
			return
		}
		removed, err := cache.Clear(c.Request.Context(), kbID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to clear cache", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"kb_id":           kbID,
			"entries_removed": removed,
		})
	}
}
