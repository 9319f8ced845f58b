// Package httpapi is a reference HTTP adapter exposing the supervisor's
// snapshot and health-check surface as JSON. It demonstrates spec §1/§6's
// "an HTTP listener is an external collaborator" boundary: nothing under
// internal/ imports gin, and this package only ever calls the supervisor
// through its already-public Go API, the same as any other embedder would.
// Grounded on the teacher's handlers package (RegisterRoutes(*gin.RouterGroup)
// per-handler idiom, api/internal/handlers/agents.go).
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pluginhost/core/internal/apperrors"
	"github.com/pluginhost/core/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps a gin engine serving the plugin host's status surface.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	sup    *supervisor.Supervisor
}

// New constructs a Server. promReg may be nil; when non-nil, /metrics serves
// that registry's collectors.
func New(sup *supervisor.Supervisor, promReg *prometheus.Registry) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestID())

	s := &Server{engine: engine, sup: sup}
	s.registerRoutes(promReg)
	return s
}

func (s *Server) registerRoutes(promReg *prometheus.Registry) {
	v1 := s.engine.Group("/api/v1")
	v1.GET("/plugins", s.listSnapshot)
	v1.POST("/plugins/:id/health", s.checkHealth)
	v1.POST("/plugins/:id/reload", s.reload)

	if promReg != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))
	}
}

// listSnapshot returns every record's stable view plus aggregate counts.
func (s *Server) listSnapshot(c *gin.Context) {
	snapshots, byStatus, byHealth := s.sup.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"plugins":    snapshots,
		"by_status":  byStatus,
		"by_health":  byHealth,
	})
}

// checkHealth runs an on-demand health check for one plugin.
func (s *Server) checkHealth(c *gin.Context) {
	id := c.Param("id")
	result, err := s.sup.CheckHealth(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// reload unloads and reloads one plugin by id.
func (s *Server) reload(c *gin.Context) {
	id := c.Param("id")
	if err := s.sup.ReloadOne(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloaded": id})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if hostErr, ok := err.(*apperrors.HostError); ok {
		switch hostErr.Kind {
		case apperrors.UnknownPlugin:
			status = http.StatusNotFound
		case apperrors.AccessDenied:
			status = http.StatusForbidden
		case apperrors.Timeout:
			status = http.StatusGatewayTimeout
		default:
			status = http.StatusUnprocessableEntity
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ListenAndServe starts the HTTP server on addr; it blocks until Shutdown is
// called or the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
