// Package server exposes the pipeline, the artifact catalog and batch runs
// over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/entrhq/gridscout/pkg/batch"
	"github.com/entrhq/gridscout/pkg/catalog"
	"github.com/entrhq/gridscout/pkg/heal"
	"github.com/entrhq/gridscout/pkg/logging"
	"github.com/entrhq/gridscout/pkg/metrics"
	"github.com/entrhq/gridscout/pkg/types"
	"github.com/entrhq/gridscout/pkg/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline runs one exploration-to-artifact session.
type Pipeline interface {
	Run(ctx context.Context, req workflow.Request, emit func(*types.Event)) (*workflow.Result, error)
}

// Config holds the server's collaborators.
type Config struct {
	Addr                 string
	EnableCORS           bool
	Pipeline             Pipeline
	Catalog              *catalog.Catalog
	Tester               heal.Tester
	DefaultMaxConcurrent int
	Registry             *prometheus.Registry
	Metrics              *metrics.Metrics
	Logger               *logging.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg        Config
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	batches    *batch.Runner
	runs       *runRegistry
	logger     *logging.Logger
	startTime  time.Time

	// Sessions and batches run under ctx so they outlive the request that
	// started them.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server and registers its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		runs:      newRunRegistry(),
		logger:    cfg.Logger,
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if cfg.Tester != nil {
		s.batches = batch.NewRunner(cfg.Tester, batch.WithLogger(cfg.Logger.With("batch")), batch.WithMetrics(cfg.Metrics))
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	if s.cfg.Registry != nil {
		s.engine.GET("/metrics", gin.WrapH(metrics.Handler(s.cfg.Registry)))
	}

	api := s.engine.Group("/api")
	{
		api.GET("/scripts", s.handleListScripts)
		api.POST("/run", s.handleStartRun)
		api.GET("/runs/:id", s.handleGetRun)
		api.POST("/execute-script", s.handleExecuteScript)
	}

	ws := s.engine.Group("/ws")
	{
		ws.GET("/agent/:id", s.handleAgentStream)
		ws.GET("/parallel", s.handleParallel)
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("listening on %s", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop cancels running sessions and batches and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	s.logger.Infof("server stopped")
	return err
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).Round(time.Second).String(),
		"active_runs": s.runs.active(),
	})
}
