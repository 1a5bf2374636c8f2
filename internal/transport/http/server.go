// Package httpapi exposes the signal-ingest, query and backtest API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hadoku/internal/agentcfg"
	"hadoku/internal/backtest"
	"hadoku/internal/budget"
	"hadoku/internal/domain"
	"hadoku/internal/engine"
	"hadoku/internal/logger"
)

// SignalStore is the persistence surface the API needs on top of the router.
type SignalStore interface {
	InsertSignal(ctx context.Context, sig domain.Signal) (int64, bool, error)
	AllOpenPositions(ctx context.Context) ([]domain.Position, error)
	ListTrades(ctx context.Context, agentID string, limit int) ([]domain.TradeRecord, error)
}

// ServerConfig collects the server's dependencies.
type ServerConfig struct {
	Addr     string
	APIKey   string
	Store    SignalStore
	Router   *engine.Router
	Registry *agentcfg.Registry
	Ledger   *budget.Ledger
	Backtest *backtest.Service
}

type Server struct {
	addr   string
	router *gin.Engine
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil || cfg.Router == nil || cfg.Registry == nil || cfg.Ledger == nil {
		return nil, errors.New("http: server requires store, router, registry and ledger")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9985"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	if cfg.APIKey != "" {
		api.Use(apiKeyAuth(cfg.APIKey))
	}
	h := &handlers{
		store:    cfg.Store,
		router:   cfg.Router,
		registry: cfg.Registry,
		ledger:   cfg.Ledger,
		backtest: cfg.Backtest,
	}
	api.POST("/signals", h.ingestSignals)
	api.POST("/signals/process", h.processSignals)
	api.GET("/positions", h.listPositions)
	api.GET("/trades", h.listTrades)
	api.GET("/agents", h.listAgents)
	api.POST("/budgets/resync", h.resyncBudgets)
	if cfg.Backtest != nil {
		api.POST("/backtest", h.startBacktest)
		api.GET("/backtest", h.listBacktests)
		api.GET("/backtest/:id", h.getBacktest)
	}

	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Addr() string { return s.addr }

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http: listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler exposes the gin engine; used by httptest in tests.
func (s *Server) Handler() http.Handler { return s.router }

func apiKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-API-Key") != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}
