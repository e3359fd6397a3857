// Package admin serves the operator HTTP endpoint for a running fleet.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/flockctl/internal/drone"
	"github.com/danmuck/flockctl/internal/observability"
	"github.com/danmuck/flockctl/internal/swarm"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	Version         = "0.1.0"
	shutdownTimeout = 5 * time.Second
	healthTimeout   = 10 * time.Second
)

// Fleet is the part of swarm.Fleet the admin endpoint needs.
type Fleet interface {
	Agents() []swarm.AgentInfo
	HealthCheck(ctx context.Context) ([]swarm.Health, error)
	InvokeOnAll(ctx context.Context, name string, args ...string) (swarm.Results, error)
}

type Server struct {
	ID      string    `json:"id"`
	Addr    string    `json:"addr"`
	Started time.Time `json:"started"`

	fleet    Fleet
	registry *drone.Registry
	router   *gin.Engine
}

func New(id, addr string, fleet Fleet, registry *drone.Registry, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	if registry == nil {
		registry = drone.DefaultRegistry()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminAccess(log.Logger, id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       id,
		Addr:     addr,
		Started:  time.Now(),
		fleet:    fleet,
		registry: registry,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.Started).String(),
			"agents":  len(s.fleet.Agents()),
			"version": Version,
		})
	})

	s.router.GET("/agents", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agents": s.fleet.Agents()})
	})

	s.router.GET("/capabilities", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"capabilities": s.registry.List()})
	})

	s.router.POST("/capabilities/:name", s.handleInvoke)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	entries, err := s.fleet.HealthCheck(ctx)
	status := http.StatusOK
	healthy := err == nil
	for _, e := range entries {
		if !e.OK {
			healthy = false
		}
	}
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	body := gin.H{
		"status":  healthStatus(healthy),
		"uptime":  time.Since(s.Started).String(),
		"agents":  entries,
		"version": Version,
	}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}

type invokeRequest struct {
	Args []string `json:"args"`
}

type invokeResult struct {
	Index   int    `json:"index"`
	AgentID uint64 `json:"agent_id"`
	OK      bool   `json:"ok"`
	Reply   string `json:"reply,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleInvoke(c *gin.Context) {
	name := c.Param("name")
	var req invokeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	results, err := s.fleet.InvokeOnAll(c.Request.Context(), name, req.Args...)
	if err != nil && results == nil {
		c.JSON(invokeStatus(err), gin.H{"error": err.Error()})
		return
	}
	out := make([]invokeResult, len(results))
	for i, res := range results {
		out[i] = invokeResult{Index: res.Index, AgentID: res.AgentID, OK: res.OK()}
		if reply, ok := res.Value.(string); ok {
			out[i].Reply = reply
		}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	body := gin.H{"capability": name, "results": out, "status": "ok"}
	status := http.StatusOK
	switch {
	case err != nil:
		status = invokeStatus(err)
		body["status"] = "failed"
		body["error"] = err.Error()
	case !results.OK():
		body["status"] = "partial"
	}
	log.Info().
		Str("capability", name).
		Strs("args", req.Args).
		Int("failed", len(results.Failed())).
		Msg("admin.Server capability invoked")
	c.JSON(status, body)
}

// Serve listens until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Msg("admin.Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func invokeStatus(err error) int {
	switch {
	case errors.Is(err, drone.ErrUnknownCapability):
		return http.StatusNotFound
	case errors.Is(err, drone.ErrInvalidArgs):
		return http.StatusBadRequest
	case errors.Is(err, swarm.ErrMembership):
		return http.StatusConflict
	case errors.Is(err, swarm.ErrProtocol):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func healthStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "degraded"
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
