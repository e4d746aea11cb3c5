package routes

import (
	"fmt"
	"strings"

	"knowledge-retrieval-service/services"
	"knowledge-retrieval-service/utils"

	"github.com/gin-gonic/gin"
)

// SetupExportRoutes wires knowledge-base export downloads.
func SetupExportRoutes(router *gin.Engine, export *services.ExportService) {
	router.GET("/api/v1/kb/:kb_id/export", handleExportKB(export))
}

func handleExportKB(export *services.ExportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		format := c.DefaultQuery("format", "json")

		result, err := export.ExportKB(c.Request.Context(), c.Param("kb_id"), format)
		if err != nil {
			if strings.Contains(err.Error(), "unsupported export format") {
				utils.RespondWithBadRequest(c, "format must be one of json, excel, both", nil)
				return
			}
			utils.RespondWithInternalError(c, "Export failed", gin.H{"error": err.Error()})
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		c.Data(200, result.ContentType, result.Data)
	}
}
