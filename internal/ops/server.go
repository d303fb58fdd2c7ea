// Package ops serves health, metrics and tracking lookups for the SLA worker.
package ops

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// TrackingReader looks up a ticket's tracking row.
type TrackingReader interface {
	Tracking(ctx context.Context, ticketID string) (*sla.Tracking, error)
}

type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

type Server struct {
	R        *gin.Engine
	checks   map[string]Check
	tracking TrackingReader
	policies sla.PolicyLister
}

// New builds the ops router. checks are run by /readyz; tracking and
// policies may be nil.
func New(cfg Config, checks map[string]Check, tracking TrackingReader, policies sla.PolicyLister) *Server {
	s := &Server{R: gin.New(), checks: checks, tracking: tracking, policies: policies}
	s.R.Use(gin.Recovery())
	s.R.Use(RequestID())
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		s.R.Use(RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)))
	}
	s.R.Use(Logger())

	s.R.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	s.R.GET("/readyz", s.ready)
	s.R.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.R.GET("/sla/tickets/:id", s.getTracking)
	s.R.GET("/sla/policies", s.listPolicies)
	return s
}

func (s *Server) ready(c *gin.Context) {
	failed := gin.H{}
	for name, check := range s.checks {
		if err := check(c.Request.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) getTracking(c *gin.Context) {
	if s.tracking == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "tracking not available"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	tr, err := s.tracking.Tracking(c.Request.Context(), id.String())
	if errors.Is(err, sla.ErrTrackingNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (s *Server) listPolicies(c *gin.Context) {
	if s.policies == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "policies not available"})
		return
	}
	ps, err := s.policies.ListPolicies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ps)
}

// Serve runs the router on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.R}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
