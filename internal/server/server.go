// Package server wires the HTTP API together.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/cloudcode-relay/internal/account"
	"github.com/poemonsense/cloudcode-relay/internal/cloudcode"
	"github.com/poemonsense/cloudcode-relay/internal/config"
	"github.com/poemonsense/cloudcode-relay/internal/metrics"
	"github.com/poemonsense/cloudcode-relay/internal/server/handlers"
	"github.com/poemonsense/cloudcode-relay/internal/utils"
)

// Server is the HTTP front of the relay.
type Server struct {
	cfg        *config.Config
	engine     *gin.Engine
	httpServer *http.Server
	dispatcher *cloudcode.Dispatcher
}

// New builds the server and its routes.
func New(cfg *config.Config, accounts *account.Manager, dispatcher *cloudcode.Dispatcher) *Server {
	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), corsMiddleware(), requestLogger())

	h := handlers.New(cfg, accounts, dispatcher)

	engine.GET("/health", h.Health)
	engine.GET("/account-limits", h.AccountLimits)
	engine.GET("/logs", h.Logs)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := apiKeyAuth(cfg.Server.APIKey)
	engine.POST("/", auth, h.Messages)

	v1 := engine.Group("/v1", auth)
	{
		v1.GET("/models", h.Models)
		v1.POST("/messages", h.Messages)
		v1.POST("/messages/count_tokens", h.CountTokens)
	}

	return &Server{
		cfg:        cfg,
		engine:     engine,
		dispatcher: dispatcher,
	}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Success("[Server] Listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	utils.Info("[Server] Shutting down")
	s.dispatcher.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
