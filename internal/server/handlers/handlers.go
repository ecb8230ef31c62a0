// Package handlers implements the HTTP API: the Anthropic-compatible
// messages surface and the operational endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/cloudcode-relay/internal/account"
	"github.com/poemonsense/cloudcode-relay/internal/cloudcode"
	"github.com/poemonsense/cloudcode-relay/internal/config"
	errs "github.com/poemonsense/cloudcode-relay/internal/errors"
)

// Handler carries the shared dependencies of all HTTP handlers.
type Handler struct {
	Cfg        *config.Config
	Accounts   *account.Manager
	Dispatcher *cloudcode.Dispatcher
}

// New creates the handler set.
func New(cfg *config.Config, accounts *account.Manager, dispatcher *cloudcode.Dispatcher) *Handler {
	return &Handler{Cfg: cfg, Accounts: accounts, Dispatcher: dispatcher}
}

// writeError renders err as an Anthropic-style error body.
func writeError(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{
		"type": "error",
		"error": gin.H{
			"type":    errs.APIErrorType(err),
			"message": err.Error(),
		},
	})
}

// writeInvalidRequest renders a 400 with the given message.
func writeInvalidRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    "invalid_request_error",
			"message": message,
		},
	})
}
