package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/vizulabs-com/vizpilot-mcp/internal/audit"
	"github.com/vizulabs-com/vizpilot-mcp/internal/auth"
	"github.com/vizulabs-com/vizpilot-mcp/internal/cache"
	"github.com/vizulabs-com/vizpilot-mcp/internal/protocol"
	"github.com/vizulabs-com/vizpilot-mcp/internal/ratelimit"
	"github.com/vizulabs-com/vizpilot-mcp/internal/store"
	"github.com/vizulabs-com/vizpilot-mcp/internal/tools"
	"github.com/vizulabs-com/vizpilot-mcp/internal/watermark"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/config"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/database"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/health"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

// Engine owns the server lifecycle: it connects the catalog and counter
// stores, assembles the access pipeline, and runs the HTTP listener.
type Engine struct {
	cfg    *config.Config
	logger *logger.Logger

	db     *database.PostgreSQL
	rdb    *database.Redis
	health *health.Checker

	httpServer *http.Server

	requestCount int64
	errorCount   int64

	mu      sync.Mutex
	running bool
}

func New(cfg *config.Config, log *logger.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: log,
		health: health.NewChecker(),
	}
}

// Start connects the backing stores, wires the pipeline and begins serving.
// It returns once the listener is up; serve errors are logged from the
// listener goroutine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	db, err := database.NewPostgreSQL(ctx, database.PostgresFromConfig(e.cfg))
	if err != nil {
		return fmt.Errorf("connect catalog store: %w", err)
	}
	e.db = db

	rdb, err := database.NewRedis(ctx, database.RedisFromConfig(e.cfg))
	if err != nil {
		db.Close()
		return fmt.Errorf("connect counter store: %w", err)
	}
	e.rdb = rdb

	catalog := store.NewPostgres(db, e.logger)
	authenticator := auth.NewAuthenticator(catalog, e.logger)
	limiter := ratelimit.New(rdb.Client(), e.cfg, e.logger)
	contentCache := cache.New(rdb.Client(), e.cfg, e.logger)
	marker := watermark.New(e.cfg.WatermarkEnabled)
	recorder := audit.NewRecorder(catalog, e.logger)

	toolHandler := tools.NewHandler(catalog, contentCache, limiter, marker, authenticator, recorder, e.cfg, e.logger)

	mcpHandler := protocol.NewHandler(e.logger, e.cfg.ServerName, e.cfg.ServerVersion)
	mcpHandler.SetToolHandler(toolHandler)

	router := mux.NewRouter()
	router.Handle("/mcp", e.instrument(mcpHandler)).Methods(http.MethodPost)
	router.HandleFunc("/health", e.handleHealth).Methods(http.MethodGet)

	e.httpServer = &http.Server{
		Addr:         e.cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go e.refreshHealth(ctx)

	go func() {
		e.logger.Infof("MCP server listening on %s", e.cfg.ListenAddr)
		if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Errorf("HTTP server failed: %v", err)
		}
	}()

	return nil
}

// Stop drains the listener and closes the store connections.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	if e.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := e.httpServer.Shutdown(shutdownCtx); err != nil {
			e.logger.Warnf("HTTP shutdown: %v", err)
		}
	}

	if e.rdb != nil {
		e.rdb.Close()
	}
	if e.db != nil {
		e.db.Close()
	}

	e.logger.Info("MCP server stopped")
	return nil
}

// Metrics returns the engine's request counters.
func (e *Engine) Metrics() map[string]int64 {
	return map[string]int64{
		"request_count": atomic.LoadInt64(&e.requestCount),
		"error_count":   atomic.LoadInt64(&e.errorCount),
	}
}

// instrument counts requests and 5xx responses around a handler.
func (e *Engine) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&e.requestCount, 1)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= http.StatusInternalServerError {
			atomic.AddInt64(&e.errorCount, 1)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// refreshHealth pings the backing stores on an interval so /health reads a
// recent snapshot instead of probing inline.
func (e *Engine) refreshHealth(ctx context.Context) {
	run := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		e.health.RunCheck("postgres", func() error { return e.db.Ping(checkCtx) })
		e.health.RunCheck("redis", func() error { return e.rdb.Ping(checkCtx) })
	}
	run()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := e.health.OverallStatus()

	checks := map[string]string{}
	for _, c := range e.health.Checks() {
		checks[c.Name] = string(c.Status)
	}

	code := http.StatusOK
	if status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"service": e.cfg.ServerName,
		"version": e.cfg.ServerVersion,
		"checks":  checks,
		"metrics": e.Metrics(),
	})
}
