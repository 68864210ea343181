// Package server implements the HTTP surface of the platform. One Server
// type serves every topology: the composition root passes only the services
// a node should expose, and route groups for absent services are simply not
// registered.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/rota/internal/auth"
	"github.com/ashita-ai/rota/internal/ctxutil"
	"github.com/ashita-ai/rota/internal/projection"
	"github.com/ashita-ai/rota/internal/ratelimit"
	"github.com/ashita-ai/rota/internal/service/decision"
	"github.com/ashita-ai/rota/internal/service/executor"
	"github.com/ashita-ai/rota/internal/service/explain"
	"github.com/ashita-ai/rota/internal/service/health"
	"github.com/ashita-ai/rota/internal/service/ingest"
	"github.com/ashita-ai/rota/internal/service/learner"
	"github.com/ashita-ai/rota/internal/storage"
)

// Config holds the dependencies and settings for one HTTP server. Service
// fields are optional; nil skips that route group.
type Config struct {
	DB     *storage.DB
	Logger *slog.Logger

	Ingest   *ingest.Service
	Learner  *learner.Service
	Decision *decision.Service
	Explain  *explain.Service
	Executor *executor.Service
	Health   *health.Service

	Projector *projection.Projector
	Broker    *Broker
	MCP       *mcpserver.MCPServer

	Tokens        *auth.TokenManager
	AuthEnabled   bool
	AdminKeyHash  string
	WebhookSecret string
	Limiter       ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	Version             string
	ServiceName         string
	OpenAPISpec         []byte
}

// Server is the platform HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// New builds the server with the route groups for the configured services.
func New(cfg Config) *Server {
	h := &handlers{
		cfg:     cfg,
		logger:  cfg.Logger,
		started: time.Now(),
	}
	g := guard{
		tokens:     cfg.Tokens,
		adminHash:  cfg.AdminKeyHash,
		logger:     cfg.Logger,
		authActive: cfg.AuthEnabled && cfg.Tokens != nil,
	}

	reqID := func(r *http.Request) string {
		return ctxutil.RequestIDFromContext(r.Context())
	}
	limited := ratelimit.MiddlewareWithRequestID(cfg.Limiter, clientKeyFunc, reqID)
	limitFn := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			limited(next).ServeHTTP(w, r)
		}
	}

	mux := http.NewServeMux()

	if cfg.Ingest != nil {
		mux.HandleFunc("POST /v1/workitems", limitFn(g.requireToken(h.handleCreateWorkItem)))
		mux.HandleFunc("GET /v1/workitems/{id}", limitFn(h.handleGetWorkItem))
		mux.HandleFunc("GET /v1/workitems", limitFn(h.handleListWorkItems))
		mux.HandleFunc("POST /v1/workitems/{id}/outcome", limitFn(g.requireToken(h.handleRecordOutcome)))
		// Webhooks authenticate with the HMAC secret, not service tokens.
		mux.HandleFunc("POST /webhooks/incoming", limitFn(h.handleAlertWebhook))
		mux.HandleFunc("POST /webhooks/tracker", limitFn(h.handleTrackerWebhook))
	}

	if cfg.Learner != nil {
		mux.HandleFunc("GET /v1/profiles", limitFn(h.handleGetProfiles))
		mux.HandleFunc("GET /v1/stats", limitFn(h.handleGetStats))
		mux.HandleFunc("POST /v1/outcomes", limitFn(g.requireToken(h.handleProcessOutcome)))
		mux.HandleFunc("POST /v1/sync/closed", limitFn(g.requireAdmin(h.handleSyncClosed)))
		mux.HandleFunc("POST /v1/humans", limitFn(g.requireToken(h.handleCreateHuman)))
		mux.HandleFunc("GET /v1/humans", limitFn(h.handleListHumans))
		mux.HandleFunc("GET /v1/humans/{id}", limitFn(h.handleGetHuman))
		if cfg.Projector != nil {
			mux.HandleFunc("POST /v1/admin/projection/refit", g.requireAdmin(h.handleProjectionRefit))
		}
	}

	if cfg.Decision != nil {
		mux.HandleFunc("POST /v1/decide", limitFn(g.requireToken(h.handleDecide)))
		mux.HandleFunc("GET /v1/decisions/{work_item_id}", limitFn(h.handleGetDecision))
		mux.HandleFunc("GET /v1/audit/{work_item_id}", limitFn(h.handleGetAudit))
		if cfg.Health != nil {
			mux.HandleFunc("GET /v1/health/routing", limitFn(h.handleRoutingHealth))
		}
		if cfg.Broker != nil {
			// Long-lived connection; no rate limit.
			mux.HandleFunc("GET /v1/events", h.handleEvents)
		}
	}

	if cfg.Explain != nil {
		mux.HandleFunc("POST /v1/explain", limitFn(g.requireToken(h.handleExplain)))
	}

	if cfg.Executor != nil {
		mux.HandleFunc("POST /v1/execute", limitFn(g.requireToken(h.handleExecute)))
		mux.HandleFunc("GET /v1/executed_actions", limitFn(h.handleGetExecutedAction))
	}

	// MCP StreamableHTTP transport, token-gated like the write paths.
	if cfg.MCP != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCP)
		mux.Handle("/mcp", g.requireToken(mcpHTTP.ServeHTTP))
	}

	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)
	mux.HandleFunc("GET /openapi.yaml", h.handleOpenAPISpec)

	// Middleware chain, outermost first: request id → security headers →
	// tracing → logging → auth → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = authMiddleware(cfg.Tokens, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// clientKeyFunc keys the rate limiter by service claim when present, client
// IP otherwise. Admin tokens are exempt.
func clientKeyFunc(r *http.Request) string {
	if claims := ctxutil.ClaimsFromContext(r.Context()); claims != nil {
		if claims.Admin {
			return ""
		}
		return "svc:" + claims.Service
	}
	return "ip:" + ratelimit.IPKeyFunc(r)
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
