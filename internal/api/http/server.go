// Package http serves the converter API over gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/api/http/middlewares"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

// ServerConfig holds listener settings
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Controller registers its routes on the router
type Controller interface {
	RegisterRoutes(r *gin.Engine)
}

// Server is the API server and its controllers
type Server struct {
	cfg         ServerConfig
	logger      *observability.Logger
	controllers []Controller
	srv         *http.Server
}

// NewServer creates a server
func NewServer(cfg ServerConfig, logger *observability.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Server{cfg: cfg, logger: logger.Component("http")}
}

// AddController adds one or more controllers
func (s *Server) AddController(c ...Controller) {
	s.controllers = append(s.controllers, c...)
}

// Router builds the gin engine with middlewares and every controller's routes
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  s.cfg.AllowedOrigins,
			AllowMethods:  []string{"GET", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middlewares.RequestIDHeader},
			ExposeHeaders: []string{middlewares.RequestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}
	r.Use(middlewares.RequestID, middlewares.RequestLogger(s.logger), middlewares.PrometheusMetrics)

	for _, c := range s.controllers {
		c.RegisterRoutes(r)
	}
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.LogInfo(ctx, "HTTP server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.LogInfo(ctx, "HTTP server stopped")
	return nil
}
