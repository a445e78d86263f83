// Package server assembles the Gin engine, middleware stack, and routes,
// and manages graceful shutdown.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/daedalos/fetchproxy/internal/api/http"
	"github.com/daedalos/fetchproxy/internal/api/middleware"
	"github.com/daedalos/fetchproxy/internal/infrastructure/config"
	"github.com/daedalos/fetchproxy/internal/infrastructure/logging"
	"github.com/daedalos/fetchproxy/internal/infrastructure/monitoring"
	"github.com/daedalos/fetchproxy/internal/infrastructure/tracing"
	"github.com/daedalos/fetchproxy/internal/proxy"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// New creates a server instance from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		var err error
		logger, err = logging.New(logging.Config{Level: cfg.Logging.Level})
		if err != nil {
			return nil, err
		}
	}

	logger.Info("initializing fetch proxy",
		zap.String("port", cfg.Server.Port),
		zap.Int64("max_body_bytes", cfg.Fetch.MaxBodyBytes),
		zap.Int("fetch_timeout_seconds", cfg.Fetch.TimeoutSeconds),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("fetchproxy", logger.Logger)
	svc := proxy.New(cfg, logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(svc, logger)
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/fetch", handlers.Fetch)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.NoRoute(handlers.NoRoute)

	return &Server{
		router:  router,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting HTTP server", zap.String("addr", addr))

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	defer s.logger.Sync()

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
