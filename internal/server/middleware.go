package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/cloudcode-relay/internal/utils"
)

// corsMiddleware allows browser clients to reach the API directly.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key, anthropic-version")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger logs one line per request with latency and status.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		line := "[HTTP] %s %s -> %d (%s)"
		args := []interface{}{c.Request.Method, c.Request.URL.Path, status, latency.Round(time.Millisecond)}

		switch {
		case status >= 500:
			utils.Error(line, args...)
		case status >= 400:
			utils.Warn(line, args...)
		default:
			utils.Debug(line, args...)
		}
	}
}

// apiKeyAuth rejects requests that do not carry the configured key in
// x-api-key or a bearer Authorization header. No-op when key is empty.
func apiKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("x-api-key")
		if provided == "" {
			auth := c.GetHeader("Authorization")
			provided = strings.TrimPrefix(auth, "Bearer ")
		}
		if provided != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "invalid x-api-key",
				},
			})
			return
		}
		c.Next()
	}
}
