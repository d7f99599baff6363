package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poppa/pike-lsp-sub000/internal/bridge"
	"github.com/poppa/pike-lsp-sub000/internal/metrics"
	"github.com/poppa/pike-lsp-sub000/internal/procmgr"
	"github.com/poppa/pike-lsp-sub000/internal/stdlib"
)

// Router exposes the operational HTTP surface.
// Endpoints (under basePath):
//
//	GET  /health        aggregated interpreter health
//	GET  /status        child process snapshot plus recent stderr
//	GET  /stats         cache counters
//	GET  /modules/*path cached module lookup (resolves on first use)
//	POST /cache/clear   drop positive and negative cache
//	POST /restart       replace the interpreter session
//	GET  /metrics       prometheus exposition
type Router struct {
	backend  Backend
	cache    ModuleCache
	basePath string
}

// Backend is the slice of the bridge the HTTP surface consumes.
type Backend interface {
	Health(ctx context.Context) bridge.HealthInfo
	Status() procmgr.Status
	StderrTail() []string
	Restart() error
}

// ModuleCache is the slice of the stdlib index the HTTP surface consumes.
type ModuleCache interface {
	GetModule(ctx context.Context, path string) *stdlib.Module
	Stats() stdlib.Stats
	Clear()
}

func NewRouter(backend Backend, cache ModuleCache, basePath string) *Router {
	return &Router{backend: backend, cache: cache, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/health", r.handleHealth)
	group.GET("/status", r.handleStatus)
	group.GET("/stats", r.handleStats)
	group.GET("/modules/*path", r.handleModule)
	group.POST("/cache/clear", r.handleCacheClear)
	group.POST("/restart", r.handleRestart)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down via http.Server's Shutdown or Close.
func NewServer(addr, basePath string, tlsCfg *tls.Config, backend Backend, cache ModuleCache) *http.Server {
	r := NewRouter(backend, cache, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if tlsCfg != nil {
			_ = srv.ListenAndServeTLS("", "")
		} else {
			_ = srv.ListenAndServe()
		}
	}()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealth(c *gin.Context) {
	info := r.backend.Health(c.Request.Context())
	code := http.StatusOK
	if !info.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, info)
}

type statusResp struct {
	procmgr.Status
	StderrTail []string `json:"stderr_tail,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{
		Status:     r.backend.Status(),
		StderrTail: r.backend.StderrTail(),
	})
}

func (r *Router) handleStats(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.cache.Stats())
}

func (r *Router) handleModule(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if !isSafeModulePath(path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid module path"})
		return
	}
	m := r.cache.GetModule(c.Request.Context(), path)
	if m == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "module does not resolve: " + path})
		return
	}
	writeJSON(c, http.StatusOK, m)
}

func (r *Router) handleCacheClear(c *gin.Context) {
	r.cache.Clear()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.backend.Restart(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
