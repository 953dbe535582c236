package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wxai-gateway/agent-gateway/internal/config"
	"github.com/wxai-gateway/agent-gateway/internal/metrics"
	"github.com/wxai-gateway/agent-gateway/internal/models"
	"github.com/wxai-gateway/agent-gateway/internal/translator"
	"github.com/wxai-gateway/agent-gateway/internal/watsonx"
	"go.uber.org/zap"
)

// Upstream runs a conversation against the AI service.
type Upstream interface {
	RunSync(ctx context.Context, messages []models.Message) ([]models.Message, error)
	RunStream(ctx context.Context, messages []models.Message) (translator.ChunkSource, error)
}

// clientUpstream adapts a watsonx.Client to Upstream.
type clientUpstream struct {
	client *watsonx.Client
}

// FromClient wraps a watsonx client for use by the server.
func FromClient(client *watsonx.Client) Upstream {
	return clientUpstream{client: client}
}

func (u clientUpstream) RunSync(ctx context.Context, messages []models.Message) ([]models.Message, error) {
	return u.client.RunSync(ctx, messages)
}

func (u clientUpstream) RunStream(ctx context.Context, messages []models.Message) (translator.ChunkSource, error) {
	stream, err := u.client.RunStream(ctx, messages)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Server represents the API server
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	router   *gin.Engine
	upstream Upstream
	metrics  *metrics.Collector
}

// New creates a new server instance. collector may be nil.
func New(cfg *config.Config, logger *zap.Logger, upstream Upstream, collector *metrics.Collector) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   gin.New(),
		upstream: upstream,
		metrics:  collector,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggerMiddleware())

	if s.cfg.Security.EnableCORS {
		s.router.Use(s.corsMiddleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ping", s.ping)

	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.router.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	// the agent client posts to the bare path; OpenAI SDKs append /v1
	for _, prefix := range []string{"", "/v1"} {
		api := s.router.Group(prefix)
		api.Use(s.apiKeyAuthMiddleware())
		api.POST("/chat/completions", s.chatCompletions)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
