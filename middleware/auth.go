package middleware

import (
	"crypto/subtle"
	"net/http"

	"knowledge-retrieval-service/internal/config"
	"knowledge-retrieval-service/utils"

	"github.com/gin-gonic/gin"
)

// RequireAPIKey authenticates requests with the shared X-API-Key header.
// Health endpoints are exempt.
func RequireAPIKey(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/health" || c.FullPath() == "/ready" {
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			utils.RespondWithError(c, http.StatusUnauthorized,
				"unauthorized", "API key is required", nil)
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) != 1 {
			utils.RespondWithError(c, http.StatusUnauthorized,
				"unauthorized", "Invalid API key", nil)
			c.Abort()
			return
		}

		// callers scope requests to a tenant via header
		if tenantID := c.GetHeader("X-Tenant-ID"); tenantID != "" {
			c.Set("tenant_id", tenantID)
		}
		c.Next()
	}
}

// RequireInternalKey guards internal endpoints (callbacks, admin
// operations) with the second shared secret.
func RequireInternalKey(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Internal-Key")
		if cfg.InternalKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(cfg.InternalKey)) != 1 {
			utils.RespondWithError(c, http.StatusUnauthorized,
				"unauthorized", "Invalid internal key", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetTenantID returns the tenant scope set during authentication.
func GetTenantID(c *gin.Context) string {
	if tenantID, exists := c.Get("tenant_id"); exists {
		if id, ok := tenantID.(string); ok {
			return id
		}
	}
	return ""
}
