package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/moodlearchiver/internal/api/http"
	"github.com/GriffinCanCode/moodlearchiver/internal/api/middleware"
	"github.com/GriffinCanCode/moodlearchiver/internal/api/ws"
	"github.com/GriffinCanCode/moodlearchiver/internal/domain/download"
	"github.com/GriffinCanCode/moodlearchiver/internal/domain/session"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/config"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/logging"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/monitoring"
)

const shutdownTimeout = 10 * time.Second

// Server is the local HTTP API in front of the session store and the
// download orchestrator
type Server struct {
	router   *gin.Engine
	handlers *apihttp.Handlers
	logger   *logging.Logger
	config   *config.Config

	cancelJobs context.CancelFunc
}

// NewServer wires middleware and routes around already constructed domain
// services. metrics may be nil.
func NewServer(cfg *config.Config, sessions *session.Store, orchestrator *download.Orchestrator, logger *logging.Logger, metrics *monitoring.Metrics) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("server")

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}
	router.Use(middleware.CORS(corsConfig))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	jobs, cancelJobs := context.WithCancel(context.Background())
	handlers := apihttp.NewHandlers(sessions, orchestrator, logger, apihttp.Options{
		DefaultBackend: cfg.Moodle.Backend,
		OutputDir:      cfg.Storage.OutputDir,
		Jobs:           jobs,
	})
	wsHandler := ws.NewHandler(orchestrator, logger, metrics, cfg.Server.AllowedOrigins)

	router.GET("/health", handlers.Health)

	router.GET("/session", handlers.GetSession)
	router.POST("/session", handlers.Login)
	router.DELETE("/session", handlers.Logout)
	router.POST("/session/extend", handlers.ExtendSession)

	router.GET("/courses", handlers.ListCourses)

	router.GET("/selection", handlers.GetSelection)
	router.POST("/selection/toggle/:id", handlers.ToggleSelection)
	router.POST("/selection/all", handlers.SelectAll)
	router.DELETE("/selection", handlers.ClearSelection)

	router.POST("/downloads", handlers.StartDownload)
	router.GET("/downloads/current", handlers.CurrentDownload)
	router.GET("/downloads/archive/:name", handlers.GetArchive)

	router.POST("/logs", handlers.IngestLogs)

	router.GET("/downloads/stream", wsHandler.HandleConnection)

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	return &Server{
		router:     router,
		handlers:   handlers,
		logger:     logger,
		config:     cfg,
		cancelJobs: cancelJobs,
	}
}

// Router exposes the configured engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
}

// Run serves until ctx is cancelled, then shuts down gracefully. A running
// download is cancelled and awaited before Run returns.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.stopJobs()
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.stopJobs()
	if err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) stopJobs() {
	s.cancelJobs()
	s.handlers.Wait()
}
