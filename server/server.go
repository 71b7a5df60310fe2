// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	gen "github.com/ineyio/gengateway"
)

// Generator is the part of *gen.Gateway the server needs.
type Generator interface {
	Generate(ctx context.Context, req gen.GenerationRequest) (gen.GenerationResult, error)
	Stats() gen.CircuitStats
}

// Server wires the HTTP routes.
type Server struct {
	gw       Generator
	cache    gen.CacheAdmin
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	origins  []string
	engine   *gin.Engine
}

// Option configures Server.
type Option func(*Server)

// WithCacheAdmin exposes cache statistics on /v1/stats.
func WithCacheAdmin(c gen.CacheAdmin) Option {
	return func(s *Server) { s.cache = c }
}

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAllowedOrigins enables CORS for the given origins. "*" allows any.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New builds the gin engine with all routes registered.
func New(gw Generator, opts ...Option) *Server {
	s := &Server{gw: gw, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), otelgin.Middleware("gengateway"), s.requestLog())
	if len(s.origins) > 0 {
		s.engine.Use(cors.New(cors.Config{
			AllowOrigins:  s.origins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID"},
			ExposeHeaders: []string{"X-Request-ID"},
			MaxAge:        12 * time.Hour,
		}))
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	if s.gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/generate", s.generate)
		v1.GET("/stats", s.stats)
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatsResponse reports protection and cache state.
type StatsResponse struct {
	Circuit gen.CircuitStats `json:"circuit"`
	Cache   *gen.CacheStats  `json:"cache,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) generate(c *gin.Context) {
	var req gen.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json: " + err.Error()})
		return
	}

	res, err := s.gw.Generate(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, gen.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) stats(c *gin.Context) {
	resp := StatsResponse{Circuit: s.gw.Stats()}
	if s.cache != nil {
		st, err := s.cache.Stats(c.Request.Context())
		if err != nil {
			s.logger.Warn("cache stats failed", "error", err)
		} else {
			resp.Cache = &st
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
