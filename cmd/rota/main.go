// Command rota runs the incident-routing platform.
//
// Modes:
//
//	rota [serve]   all-in-one server: every service on one port (default)
//	rota split     one node of the split topology; ROTA_SERVICES selects
//	               which route groups this node exposes, peers are reached
//	               through the ROTA_*_URL base URLs
//	rota mcp       read-only MCP server on stdin/stdout
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/rota"
	"github.com/ashita-ai/rota/api"
	"github.com/ashita-ai/rota/internal/auth"
	"github.com/ashita-ai/rota/internal/client"
	"github.com/ashita-ai/rota/internal/config"
	"github.com/ashita-ai/rota/internal/llm"
	"github.com/ashita-ai/rota/internal/mcp"
	"github.com/ashita-ai/rota/internal/projection"
	"github.com/ashita-ai/rota/internal/ratelimit"
	"github.com/ashita-ai/rota/internal/relay"
	"github.com/ashita-ai/rota/internal/search"
	"github.com/ashita-ai/rota/internal/server"
	"github.com/ashita-ai/rota/internal/service/decision"
	"github.com/ashita-ai/rota/internal/service/embedding"
	"github.com/ashita-ai/rota/internal/service/executor"
	"github.com/ashita-ai/rota/internal/service/explain"
	"github.com/ashita-ai/rota/internal/service/health"
	"github.com/ashita-ai/rota/internal/service/ingest"
	"github.com/ashita-ai/rota/internal/service/learner"
	"github.com/ashita-ai/rota/internal/storage"
	"github.com/ashita-ai/rota/internal/telemetry"
	"github.com/ashita-ai/rota/internal/tracker"
	"github.com/ashita-ai/rota/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// Default ports per service role in the split topology, matching the
// ROTA_*_URL config defaults.
var rolePorts = map[string]int{
	"ingest":   8001,
	"decision": 8002,
	"explain":  8003,
	"execute":  8004,
	"learner":  8005,
}

func main() {
	os.Exit(run0())
}

func run0() int {
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("ROTA_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// MCP mode owns stdout for the protocol; logs go to stderr either way.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	var err error
	switch mode {
	case "serve":
		err = runServe(ctx, logger)
	case "split":
		err = runSplit(ctx, logger)
	case "mcp":
		err = runMCP(ctx, logger)
	default:
		err = fmt.Errorf("unknown mode %q (want serve, split, or mcp)", mode)
	}
	if err != nil {
		slog.Error("fatal error", "mode", mode, "error", err)
		return 1
	}
	return 0
}

// runServe starts the all-in-one server: one process, every route group.
func runServe(ctx context.Context, logger *slog.Logger) error {
	app, err := rota.New(
		rota.WithVersion(version),
		rota.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

// runMCP serves the read-only MCP surface over stdio. Tools and resources
// read through the same local services the HTTP surface uses; nothing here
// can write.
func runMCP(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, "", logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(context.Background())

	embedder := embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	projector := projection.New(db, logger)
	trackerClient := tracker.NewHTTPClient(cfg.TrackerURL, cfg.TrackerToken, cfg.TrackerTimeout)

	learnerSvc := learner.New(db, trackerClient, embedder, projector, logger)
	decisionSvc := decision.New(db, learnerSvc, embedder, nil, logger)

	return mcp.New(db, learnerSvc, decisionSvc, logger).ServeStdio()
}

// node is one process of the split topology: the subset of services it
// exposes plus the background workers those services need.
type node struct {
	roles  map[string]bool
	srv    *server.Server
	outbox *search.OutboxWorker
	index  *search.QdrantIndex
	spool  *relay.Spool
	relay  *relay.Relay
	broker *server.Broker
}

// runSplit starts one node of the split topology. ROTA_SERVICES is a comma
// list of roles (ingest, decision, explain, execute, learner); peers are
// reached through the typed HTTP clients using the ROTA_*_URL base URLs.
func runSplit(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	roles, err := parseRoles(os.Getenv("ROTA_SERVICES"))
	if err != nil {
		return err
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort(roles)
	}
	logger.Info("rota node starting", "version", version, "roles", roleList(roles), "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(context.Background())

	// Every node may race to apply migrations at startup; the runner's
	// schema_migrations tracking makes that safe.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	tokens, err := auth.NewTokenManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Peer calls carry a service token naming this node's roles. With auth
	// off (no key configured) the header is simply omitted.
	var peerToken string
	if cfg.JWTPrivateKeyPath != "" {
		peerToken, _, err = tokens.IssueServiceToken(roleList(roles), false)
		if err != nil {
			return fmt.Errorf("issue peer token: %w", err)
		}
	}

	n, err := buildNode(cfg, roles, db, tokens, peerToken, logger)
	if err != nil {
		return err
	}
	return n.run(ctx, logger)
}

// buildNode wires the services this node exposes. A role that is not local
// is reached through its typed HTTP client, so the wiring below reads the
// same whether a dependency is in-process or remote.
func buildNode(cfg config.Config, roles map[string]bool, db *storage.DB, tokens *auth.TokenManager, peerToken string, logger *slog.Logger) (*node, error) {
	n := &node{roles: roles}

	peer := func(baseURL string, timeout time.Duration) (*client.Client, error) {
		return client.New(client.Config{BaseURL: baseURL, Token: peerToken, Timeout: timeout})
	}

	embedder := newEmbeddingProvider(cfg, logger)
	projector := projection.New(db, logger)
	trackerClient := tracker.NewHTTPClient(cfg.TrackerURL, cfg.TrackerToken, cfg.TrackerTimeout)

	var llmClient llm.Client
	if cfg.LLMURL != "" {
		llmClient = llm.New(cfg.LLMURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
	} else {
		llmClient = llm.Disabled{}
	}

	var searchIndex search.Index
	if cfg.QdrantURL != "" && (roles["ingest"] || roles["decision"] || roles["learner"]) {
		index, err := search.NewQdrantIndex(search.QdrantConfig{
			URL:                  cfg.QdrantURL,
			APIKey:               cfg.QdrantAPIKey,
			WorkItemCollection:   cfg.WorkItemCollection,
			CapabilityCollection: cfg.CapabilityCollection,
			Dims:                 uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := index.EnsureCollections(context.Background()); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("qdrant ensure collections: %w", err)
		}
		n.index = index
		searchIndex = index
		n.outbox = search.NewOutboxWorker(db, index, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	}

	// Learner: local service or remote client. The local service also backs
	// the decision role's profile source and the ingest role's outcome
	// deliverer when co-located.
	var learnerSvc *learner.Service
	var profileSource decision.ProfileSource
	var deliverer relay.Deliverer
	if roles["learner"] {
		learnerSvc = learner.New(db, trackerClient, embedder, projector, logger)
		profileSource = learnerSvc
		deliverer = learnerSvc
	} else {
		c, err := peer(cfg.LearnerURL, cfg.PeerReadTimeout)
		if err != nil {
			return nil, fmt.Errorf("learner client: %w", err)
		}
		lc := client.NewLearner(c)
		profileSource = lc
		deliverer = lc
	}

	// Explain and Execute: consumed by the decision role's forward path.
	var explainer decision.Explainer
	var ticketer decision.Ticketer
	var explainSvc *explain.Service
	var executorSvc *executor.Service
	if roles["explain"] {
		explainSvc = explain.New(llmClient, logger)
		explainer = explainSvc
	} else if roles["decision"] {
		c, err := peer(cfg.ExplainURL, cfg.LLMTimeout)
		if err != nil {
			return nil, fmt.Errorf("explain client: %w", err)
		}
		explainer = client.NewExplain(c)
	}
	if roles["execute"] {
		executorSvc = executor.New(db, trackerClient, logger)
		ticketer = executorSvc
	} else if roles["decision"] {
		c, err := peer(cfg.ExecuteURL, cfg.PeerWriteTimeout)
		if err != nil {
			return nil, fmt.Errorf("execute client: %w", err)
		}
		ticketer = client.NewExecutor(c)
	}

	var decisionSvc *decision.Service
	var healthSvc *health.Service
	if roles["decision"] {
		decisionSvc = decision.New(db, profileSource, embedder, searchIndex, logger)
		healthSvc = health.New(db)
		if cfg.FanoutEnabled {
			fwd := decision.NewForwarder(db, decisionSvc, profileSource, explainer, ticketer, logger)
			decisionSvc.RegisterHook(fwd.Forward)
		}
		if db.NotifyConn() != nil {
			n.broker = server.NewBroker(db, logger)
		}
	}

	var ingestSvc *ingest.Service
	if roles["ingest"] {
		if cfg.SpoolPath != "" {
			spool, err := relay.OpenSpool(cfg.SpoolPath)
			if err != nil {
				return nil, fmt.Errorf("outcome spool: %w", err)
			}
			n.spool = spool
		}
		n.relay = relay.New(n.spool, deliverer, logger)

		var decideFn ingest.DecideFunc
		if cfg.DecideOnCreate {
			if roles["decision"] {
				decideFn = func(ctx context.Context, workItemID string) error {
					_, err := decisionSvc.Decide(ctx, workItemID)
					return err
				}
			} else {
				c, err := peer(cfg.DecisionURL, cfg.PeerWriteTimeout)
				if err != nil {
					return nil, fmt.Errorf("decision client: %w", err)
				}
				dc := client.NewDecision(c)
				decideFn = func(ctx context.Context, workItemID string) error {
					_, err := dc.Decide(ctx, workItemID)
					return err
				}
			}
		}
		ingestSvc = ingest.New(db, embedder, projector,
			ingest.NewNormalizer(llmClient, logger), n.relay, decideFn, logger)
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	n.srv = server.New(server.Config{
		DB:                  db,
		Logger:              logger,
		Ingest:              ingestSvc,
		Learner:             learnerSvc,
		Decision:            decisionSvc,
		Explain:             explainSvc,
		Executor:            executorSvc,
		Health:              healthSvc,
		Projector:           projector,
		Broker:              n.broker,
		Tokens:              tokens,
		AuthEnabled:         cfg.JWTPrivateKeyPath != "" || cfg.JWTPublicKeyPath != "",
		AdminKeyHash:        cfg.AdminAPIKeyHash,
		WebhookSecret:       cfg.WebhookSecret,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Version:             version,
		ServiceName:         cfg.ServiceName,
		OpenAPISpec:         api.OpenAPISpec,
	})
	return n, nil
}

// run starts the node's workers and HTTP server, then blocks until ctx is
// cancelled or the server fails. Shutdown is phased: stop HTTP, drain the
// outbox, close the spool.
func (n *node) run(ctx context.Context, logger *slog.Logger) error {
	if n.outbox != nil {
		n.outbox.Start(ctx)
	}
	if n.broker != nil {
		go n.broker.Start(ctx)
	}
	if n.relay != nil {
		go func() {
			if err := n.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outcome relay stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := n.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("rota node shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := n.srv.Shutdown(httpCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if n.outbox != nil {
		outboxCtx, outboxCancel := context.WithTimeout(context.Background(), 10*time.Second)
		n.outbox.Drain(outboxCtx)
		outboxCancel()
	}
	if n.index != nil {
		_ = n.index.Close()
	}
	if n.spool != nil {
		_ = n.spool.Close()
	}

	logger.Info("rota node stopped")
	return nil
}

func parseRoles(env string) (map[string]bool, error) {
	if strings.TrimSpace(env) == "" {
		return nil, fmt.Errorf("split mode requires ROTA_SERVICES (comma list of: ingest, decision, explain, execute, learner)")
	}
	roles := map[string]bool{}
	for _, r := range strings.Split(env, ",") {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := rolePorts[r]; !ok {
			return nil, fmt.Errorf("unknown service role %q", r)
		}
		roles[r] = true
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("ROTA_SERVICES selected no roles")
	}
	return roles, nil
}

// defaultPort picks the port for a node without an explicit ROTA_PORT: the
// role's well-known port for a single-role node, 8080 otherwise.
func defaultPort(roles map[string]bool) int {
	if len(roles) == 1 {
		for r := range roles {
			return rolePorts[r]
		}
	}
	return 8080
}

func roleList(roles map[string]bool) string {
	out := make([]string, 0, len(roles))
	for _, r := range []string{"ingest", "decision", "explain", "execute", "learner"} {
		if roles[r] {
			out = append(out, r)
		}
	}
	return strings.Join(out, ",")
}

// newEmbeddingProvider selects the embedding backend from config. "auto"
// prefers OpenAI when a key is present, then Ollama, then noop.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	provider := cfg.EmbeddingProvider
	if provider == "auto" {
		switch {
		case cfg.OpenAIAPIKey != "":
			provider = "openai"
		case cfg.OllamaURL != "":
			provider = "ollama"
		default:
			provider = "noop"
		}
	}

	switch provider {
	case "openai":
		logger.Info("embeddings: openai", "model", cfg.EmbeddingModel, "dims", cfg.EmbeddingDimensions)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	case "ollama":
		logger.Info("embeddings: ollama", "model", cfg.OllamaModel, "dims", cfg.EmbeddingDimensions)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.EmbeddingDimensions)
	default:
		logger.Warn("embeddings: noop", "effect", "similarity features are neutral")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
}
