package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/cloudcode-relay/internal/config"
)

// Models handles GET /v1/models.
func (h *Handler) Models(c *gin.Context) {
	models := make([]gin.H, 0, len(config.SupportedModels))
	for _, id := range config.SupportedModels {
		models = append(models, gin.H{
			"type":         "model",
			"id":           id,
			"display_name": id,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"data":     models,
		"has_more": false,
	})
}
