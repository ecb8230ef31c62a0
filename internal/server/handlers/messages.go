package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/cloudcode-relay/internal/config"
	errs "github.com/poemonsense/cloudcode-relay/internal/errors"
	"github.com/poemonsense/cloudcode-relay/internal/format"
	"github.com/poemonsense/cloudcode-relay/internal/server/sse"
	"github.com/poemonsense/cloudcode-relay/internal/tokenizer"
	"github.com/poemonsense/cloudcode-relay/internal/utils"
	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
)

// Messages handles POST /v1/messages, both streaming and non-streaming.
func (h *Handler) Messages(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.RequestBodyLimit)

	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeInvalidRequest(c, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeInvalidRequest(c, "messages must not be empty")
		return
	}

	if !req.Stream {
		resp, err := h.Dispatcher.SendMessage(c.Request.Context(), &req)
		if err != nil {
			utils.Error("[API] Request for %s failed: %v", req.Model, err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	h.streamMessages(c, &req)
}

// streamMessages relays a streaming dispatch as SSE. The response headers are
// held back until the first event arrives so dispatch failures still produce
// a proper JSON error with the right status code.
func (h *Handler) streamMessages(c *gin.Context, req *anthropic.MessagesRequest) {
	events, errCh := h.Dispatcher.SendMessageStream(c.Request.Context(), req)

	first, ok := <-events
	if !ok {
		err := <-errCh
		if err == nil {
			err = errs.NewAPIError(http.StatusBadGateway, "stream produced no events")
		}
		utils.Error("[API] Stream for %s failed: %v", req.Model, err)
		writeError(c, err)
		return
	}

	w, err := sse.NewWriter(c.Writer)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := w.WriteEvent(first.Type, first.Data); err != nil {
		return
	}
	for ev := range events {
		if err := w.WriteEvent(ev.Type, ev.Data); err != nil {
			// Client went away; the dispatch goroutine unwinds on context
			// cancellation.
			return
		}
	}

	select {
	case err := <-errCh:
		if err != nil {
			utils.Error("[API] Stream for %s ended with error: %v", req.Model, err)
			_ = w.WriteError(errs.APIErrorType(err), err.Error())
		}
	default:
	}
}

// CountTokens handles POST /v1/messages/count_tokens. Text-only requests are
// estimated locally; requests carrying media ask upstream.
func (h *Handler) CountTokens(c *gin.Context) {
	var req anthropic.CountTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeInvalidRequest(c, "model is required")
		return
	}

	if format.HasMedia(req.Messages) {
		if n, err := h.Dispatcher.CountTokens(c.Request.Context(), &req); err == nil {
			c.JSON(http.StatusOK, anthropic.CountTokensResponse{InputTokens: n})
			return
		} else {
			utils.Warn("[API] Upstream token count failed, falling back to estimate: %v", err)
		}
	}

	c.JSON(http.StatusOK, anthropic.CountTokensResponse{
		InputTokens: tokenizer.EstimateTokens(&req),
	})
}
