package fleet

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/httpapi"
)

// DefaultJobEstimate is the assumed duration of one job when estimating
// start times.
const DefaultJobEstimate = 90 * time.Second

// ErrUnauthorized rejects requests without the fleet API key.
var ErrUnauthorized = errors.New("missing or invalid fleet api key")

// ServerConfig tunes the queue API.
type ServerConfig struct {
	// APIKey, when set, must be presented as a bearer token.
	APIKey      string
	Workers     int
	JobEstimate time.Duration
}

// Server exposes the queue over HTTP.
type Server struct {
	queue  Queue
	cfg    ServerConfig
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewServer returns a queue API over q.
func NewServer(q Queue, cfg ServerConfig) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.JobEstimate <= 0 {
		cfg.JobEstimate = DefaultJobEstimate
	}
	return &Server{
		queue:  q,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default().With("component", "fleet_server"),
	}
}

// Handler returns the gin engine serving the queue routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(httpapi.Recovery(s.logger), httpapi.RequestLogger(s.logger))
	s.Register(r)
	return r
}

// Register mounts the queue routes on r.
func (s *Server) Register(r gin.IRouter) {
	g := r.Group("/api/v1/queue", s.authenticate)
	g.POST("/enqueue", s.enqueue)
	g.GET("/status", s.status)
	g.GET("/jobs/:jobId", s.job)
}

func (s *Server) authenticate(c *gin.Context) {
	if s.cfg.APIKey != "" && httpapi.BearerToken(c) != s.cfg.APIKey {
		httpapi.AbortWithStatus(c, http.StatusUnauthorized, ErrUnauthorized)
		return
	}
	c.Next()
}

func (s *Server) enqueue(c *gin.Context) {
	var req domain.EnqueueRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		httpapi.Abort(c, err)
		return
	}

	job := &Job{
		ID:         s.newID(),
		Request:    req,
		Status:     JobQueued,
		EnqueuedAt: s.now().UTC(),
	}
	pos, err := s.queue.Push(c.Request.Context(), job)
	if err != nil {
		s.logger.Error("failed to enqueue", "evaluation_id", req.EvaluationID, "error", err)
		httpapi.AbortWithStatus(c, http.StatusServiceUnavailable, err)
		return
	}
	s.logger.Info("job enqueued", "job_id", job.ID, "evaluation_id", req.EvaluationID,
		"agents", req.Agents, "priority", req.Priority, "position", pos)
	c.JSON(http.StatusAccepted, job.Handle(pos, s.estimate(job.EnqueuedAt, pos)))
}

// estimate assumes every worker drains one job per JobEstimate.
func (s *Server) estimate(from time.Time, position int) time.Time {
	ahead := (position - 1) / s.cfg.Workers
	return from.Add(time.Duration(ahead) * s.cfg.JobEstimate)
}

func (s *Server) status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	qs := domain.QueueStatus{Workers: s.cfg.Workers, Healthy: true}
	if err := s.queue.Ping(ctx); err != nil {
		s.logger.Warn("queue unhealthy", "error", err)
		qs.Healthy = false
		c.JSON(http.StatusServiceUnavailable, qs)
		return
	}
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		qs.Healthy = false
		c.JSON(http.StatusServiceUnavailable, qs)
		return
	}
	qs.Depth = depth
	c.JSON(http.StatusOK, qs)
}

func (s *Server) job(c *gin.Context) {
	job, err := s.queue.Get(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		httpapi.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Handle(0, job.EnqueuedAt))
}
