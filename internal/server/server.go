// Package server exposes the HTTP surface of the proxy: the streaming chat
// endpoint, health, metrics, and usage statistics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/eztalk/eztalk-proxy/internal/config"
	"github.com/eztalk/eztalk-proxy/internal/metrics"
	"github.com/eztalk/eztalk-proxy/internal/usage"
	"github.com/eztalk/eztalk-proxy/internal/websearch"
)

// Server wires the chat handlers to their collaborators.
type Server struct {
	engine     *gin.Engine
	httpClient *http.Client
	usage      *usage.Store

	// mu guards the fields swapped by config hot reload; request goroutines
	// take read snapshots through config and searchClient.
	mu     sync.RWMutex
	cfg    *config.Config
	search *websearch.Client
}

// New builds the server. usageStore may be nil, in which case accounting is
// disabled.
func New(cfg *config.Config, search *websearch.Client, usageStore *usage.Store) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		engine: gin.New(),
		search: search,
		usage:  usageStore,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.APITimeoutSeconds) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxConnections,
				MaxIdleConnsPerHost: cfg.MaxConnections,
				MaxConnsPerHost:     cfg.MaxConnections,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/v1")
	v1.POST("/chat", s.handleChat)
	v1.GET("/usage/stats", s.handleUsageStats)
}

// Handler returns the root HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// UpdateConfig swaps in a reloaded configuration. Endpoint and credential
// changes apply to subsequent requests; in-flight streams keep the settings
// they started with.
func (s *Server) UpdateConfig(cfg *config.Config) {
	search := websearch.NewClient(cfg.GoogleAPIKey, cfg.GoogleCSEID,
		cfg.SearchResultCount, cfg.SearchSnippetMaxLength)
	s.mu.Lock()
	s.cfg = cfg
	s.search = search
	s.mu.Unlock()
}

// config returns the current configuration snapshot. The Config value is
// never mutated after load, so the pointer is safe to read from without the
// lock once taken.
func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// searchClient returns the current web search client.
func (s *Server) searchClient() *websearch.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.search
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleUsageStats(c *gin.Context) {
	if s.usage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "usage accounting is disabled"})
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("invalid since value: %v", err)})
			return
		}
		since = parsed
	}
	stats, err := s.usage.StatsByModel(since)
	if err != nil {
		logrus.Errorf("usage stats query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "usage stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "stats": stats})
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.config()
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logrus.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
