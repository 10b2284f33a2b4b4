// Package server exposes the webhook HTTP surface: one endpoint per mail
// provider, a health probe, and prometheus metrics.
package server

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/replypost-io/replypost/internal/inbound/webhook"
	"github.com/replypost-io/replypost/internal/pipeline"
)

// Dispatcher runs one message through the pipeline.
type Dispatcher interface {
	Process(ctx context.Context, msg *pipeline.CanonicalMessage) (*pipeline.Result, error)
}

// Server handles inbound webhook traffic.
type Server struct {
	parsers    webhook.Registry
	secrets    map[string]string // provider name -> shared secret
	dispatcher Dispatcher
	logger     *log.Logger
	registry   *prometheus.Registry
}

// Option customizes a Server.
type Option func(*Server)

// New builds a webhook server. secrets maps provider names to their
// verification secrets; providers without a secret are disabled.
func New(parsers webhook.Registry, secrets map[string]string, dispatcher Dispatcher, opts ...Option) *Server {
	s := &Server{
		parsers:    parsers,
		secrets:    secrets,
		dispatcher: dispatcher,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithLogger overrides the request logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRegistry serves /metrics from the given registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/webhooks/:provider", s.handleWebhook)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.registry != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
	return router
}

// handleWebhook authenticates, parses, and dispatches a provider payload.
// Failed authentication answers with an empty status and no body so the
// endpoint gives probing callers nothing to work with. Messages dispatch
// independently; one bad sibling never blocks the rest of a batch.
func (s *Server) handleWebhook(c *gin.Context) {
	name := c.Param("provider")
	parser, ok := s.parsers[name]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	secret, ok := s.secrets[name]
	if !ok || secret == "" {
		s.logger.Printf("webhook: provider %s has no secret configured, refusing", name)
		c.Status(http.StatusForbidden)
		return
	}

	if err := parser.Verify(c.Request, secret); err != nil {
		s.logger.Printf("webhook: %s verification failed: %v", name, err)
		c.Status(http.StatusForbidden)
		return
	}

	msgs, err := parser.Parse(c.Request)
	if err != nil {
		s.logger.Printf("webhook: %s payload rejected: %v", name, err)
		c.Status(http.StatusNotAcceptable)
		return
	}

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if _, err := s.dispatcher.Process(c.Request.Context(), msg); err != nil {
			s.logger.Printf("webhook: %s message %d: dispatch error: %v", name, msg.SequenceNumber, err)
		}
	}
	c.Status(http.StatusOK)
}
