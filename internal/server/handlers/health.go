package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/cloudcode-relay/internal/utils"
)

var startTime = time.Now()

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	status := h.Accounts.GetStatus()

	code := http.StatusOK
	state := "ok"
	if status.Usable == 0 {
		code = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(code, gin.H{
		"status":   state,
		"uptime":   time.Since(startTime).Round(time.Second).String(),
		"accounts": status,
	})
}

// Logs handles GET /logs: the recent in-memory log history.
func (h *Handler) Logs(c *gin.Context) {
	entries := utils.LogHistory()
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"time":    e.Time,
			"level":   e.Level.String(),
			"message": e.Message,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}
