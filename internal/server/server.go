// Package server is the public HTTP API: evaluation requests and results,
// the fleet callback routes, and a few operator endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-discover/internal/agents"
	"github.com/ahrav/go-discover/internal/bridge"
	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/httpapi"
	"github.com/ahrav/go-discover/internal/scoring"
)

// ErrOperatorOnly rejects operator routes without the operator key.
var ErrOperatorOnly = errors.New("operator key required")

// Orchestrator starts and repairs evaluations.
type Orchestrator interface {
	RunEvaluation(ctx context.Context, brand domain.Brand, tier domain.Tier) (*domain.Evaluation, error)
	Redispatch(ctx context.Context, evaluationID, agent string) error
}

// Store reads evaluation results.
type Store interface {
	GetEvaluation(ctx context.Context, id string) (*domain.Evaluation, error)
	ListDimensionScores(ctx context.Context, evaluationID string) ([]domain.DimensionScore, error)
	Ping(ctx context.Context) error
}

// QueueStatuser reports fleet health; the bridge client implements it.
type QueueStatuser interface {
	QueueStatus(ctx context.Context) (*domain.QueueStatus, error)
}

// Server wires the API routes.
type Server struct {
	orch      Orchestrator
	store     Store
	registry  *agents.Registry
	engine    *scoring.Engine
	callbacks *bridge.CallbackHandler
	queue     QueueStatuser
	opKey     string
	logger    *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithCallbacks mounts the fleet callback routes.
func WithCallbacks(h *bridge.CallbackHandler) Option { return func(s *Server) { s.callbacks = h } }

// WithQueueStatus proxies fleet health on /api/v1/queue/status.
func WithQueueStatus(q QueueStatuser) Option { return func(s *Server) { s.queue = q } }

// WithOperatorKey enables operator routes for callers presenting key.
func WithOperatorKey(key string) Option { return func(s *Server) { s.opKey = key } }

// WithEngine overrides the scoring engine used for hybrid views.
func WithEngine(e *scoring.Engine) Option { return func(s *Server) { s.engine = e } }

// New builds the API server.
func New(orch Orchestrator, store Store, registry *agents.Registry, opts ...Option) *Server {
	s := &Server{
		orch:     orch,
		store:    store,
		registry: registry,
		engine:   scoring.NewEngine(),
		logger:   slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the gin engine serving every route.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(httpapi.Recovery(s.logger), httpapi.RequestLogger(s.logger))

	r.GET("/healthz", s.health)
	v1 := r.Group("/api/v1")
	v1.POST("/evaluations", s.createEvaluation)
	v1.GET("/evaluations/:id", s.getEvaluation)
	v1.GET("/evaluations/:id/hybrid", s.getHybrid)
	v1.POST("/evaluations/:id/agents/:agent/redispatch", s.operator, s.redispatch)
	v1.GET("/queue/status", s.queueStatus)

	if s.callbacks != nil {
		s.callbacks.Register(r)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) operator(c *gin.Context) {
	if s.opKey == "" || httpapi.BearerToken(c) != s.opKey {
		httpapi.AbortWithStatus(c, http.StatusForbidden, ErrOperatorOnly)
		return
	}
	c.Next()
}

func (s *Server) queueStatus(c *gin.Context) {
	if s.queue == nil {
		httpapi.AbortWithStatus(c, http.StatusServiceUnavailable, errors.New("remote fleet is not configured"))
		return
	}
	qs, err := s.queue.QueueStatus(c.Request.Context())
	if err != nil {
		httpapi.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, qs)
}
