// Package gateway assembles the HTTP server: REST routes, the websocket
// event stream, and the shared middleware chain.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/httpmw"
	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/gateway/handlers"
)

// Server is the daemon's HTTP front door.
type Server struct {
	httpServer *http.Server
	handlers   *handlers.Handlers
	logger     *logger.Logger
}

// New builds the server with routes registered but not yet listening.
func New(cfg config.ServerConfig, deps handlers.Deps, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "agord"))
	router.Use(httpmw.OtelTracing("agord"))

	h := handlers.New(deps)
	h.RegisterRoutes(router)

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: router,
			// Websocket streams and blocking permission requests outlive
			// any sane write timeout, so only the header read is bounded.
			ReadHeaderTimeout: cfg.ReadTimeoutDuration(),
		},
		handlers: h,
		logger:   log.WithFields(zap.String("component", "gateway-server")),
	}
}

// Start blocks serving requests until Shutdown or a listen error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
