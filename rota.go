// Package rota is the public API for embedding the rota routing server.
//
// Consumers import this package to construct and extend the all-in-one
// server without forking it:
//
//	app, err := rota.New(
//	    rota.WithVersion(version),
//	    rota.WithLogger(logger),
//	    rota.WithDecisionHook(myHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: rota (root) imports
// internal/*, but internal/* never imports rota (root). Public types
// (Decision, WorkItem) are standalone structs with no internal imports;
// conversion helpers live here because this is the only file that sees both
// sides of the boundary.
package rota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/rota/api"
	"github.com/ashita-ai/rota/internal/auth"
	"github.com/ashita-ai/rota/internal/config"
	"github.com/ashita-ai/rota/internal/llm"
	"github.com/ashita-ai/rota/internal/mcp"
	"github.com/ashita-ai/rota/internal/model"
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

// defaultAllInOnePort is used when ROTA_PORT is unset in the all-in-one
// topology.
const defaultAllInOnePort = 8080

// App is the all-in-one rota server lifecycle. Construct with New(), run
// with Run(). App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	index        *search.QdrantIndex // nil when Qdrant is not configured
	outbox       *search.OutboxWorker
	spool        *relay.Spool // nil when no spool path
	relay        *relay.Relay
	broker       *server.Broker // nil when no notify connection
	decisionSvc  *decision.Service
	learnerSvc   *learner.Service
	explainSvc   *explain.Service
	executorSvc  *executor.Service
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the rota server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if cfg.Port == 0 {
		cfg.Port = defaultAllInOnePort
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("rota starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	fail := func(err error) (*App, error) {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, err
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		return fail(fmt.Errorf("migrations: %w", err))
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			return fail(fmt.Errorf("extra migrations[%d]: %w", i, err))
		}
	}

	// Verify critical tables exist after migration.
	var schemaOK bool
	if err := db.Pool().QueryRow(context.Background(),
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'work_items')`,
	).Scan(&schemaOK); err != nil {
		return fail(fmt.Errorf("schema verification: %w", err))
	}
	if !schemaOK {
		return fail(fmt.Errorf("critical table 'work_items' does not exist after migration — check that the pgvector extension is created"))
	}

	tokens, err := auth.NewTokenManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}
	authEnabled := cfg.JWTPrivateKeyPath != "" || cfg.JWTPublicKeyPath != ""

	// Embedding provider — external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &embeddingAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Qdrant nearest-neighbor index and its outbox worker.
	var index *search.QdrantIndex
	var outboxWorker *search.OutboxWorker
	var searchIndex search.Index
	if cfg.QdrantURL != "" {
		index, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:                  cfg.QdrantURL,
			APIKey:               cfg.QdrantAPIKey,
			WorkItemCollection:   cfg.WorkItemCollection,
			CapabilityCollection: cfg.CapabilityCollection,
			Dims:                 uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("qdrant: %w", err))
		}
		if err := index.EnsureCollections(context.Background()); err != nil {
			_ = index.Close()
			return fail(fmt.Errorf("qdrant ensure collections: %w", err))
		}
		searchIndex = index
		outboxWorker = search.NewOutboxWorker(db, index, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		logger.Info("qdrant: enabled",
			"work_items", cfg.WorkItemCollection, "capabilities", cfg.CapabilityCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)", "effect", "vector similarity degrades to neutral")
	}

	trackerClient := tracker.NewHTTPClient(cfg.TrackerURL, cfg.TrackerToken, cfg.TrackerTimeout)

	var llmClient llm.Client
	if cfg.LLMURL != "" {
		llmClient = llm.New(cfg.LLMURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
		logger.Info("llm: enabled", "model", cfg.LLMModel)
	} else {
		llmClient = llm.Disabled{}
		logger.Info("llm: disabled (no ROTA_LLM_URL)", "effect", "deterministic fallbacks")
	}

	projector := projection.New(db, logger)

	learnerSvc := learner.New(db, trackerClient, embedder, projector, logger)
	decisionSvc := decision.New(db, learnerSvc, embedder, searchIndex, logger)
	explainSvc := explain.New(llmClient, logger)
	executorSvc := executor.New(db, trackerClient, logger)
	healthSvc := health.New(db)

	// Outcome relay: spooled when a path is configured, direct otherwise.
	var spool *relay.Spool
	if cfg.SpoolPath != "" {
		spool, err = relay.OpenSpool(cfg.SpoolPath)
		if err != nil {
			return fail(fmt.Errorf("outcome spool: %w", err))
		}
		logger.Info("outcome spool: enabled", "path", cfg.SpoolPath)
	} else {
		logger.Info("outcome spool: disabled (no ROTA_SPOOL_PATH)", "effect", "outcomes forwarded directly")
	}
	outcomeRelay := relay.New(spool, learnerSvc, logger)

	var decideFn ingest.DecideFunc
	if cfg.DecideOnCreate {
		decideFn = func(ctx context.Context, workItemID string) error {
			_, err := decisionSvc.Decide(ctx, workItemID)
			return err
		}
	}
	ingestSvc := ingest.New(db, embedder, projector,
		ingest.NewNormalizer(llmClient, logger), outcomeRelay, decideFn, logger)

	var broker *server.Broker
	if db.NotifyConn() != nil {
		broker = server.NewBroker(db, logger)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	app := &App{
		cfg:          cfg,
		db:           db,
		index:        index,
		outbox:       outboxWorker,
		spool:        spool,
		relay:        outcomeRelay,
		broker:       broker,
		decisionSvc:  decisionSvc,
		learnerSvc:   learnerSvc,
		explainSvc:   explainSvc,
		executorSvc:  executorSvc,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}

	// Built-in orchestration: Explain then Execute after every decision.
	if cfg.FanoutEnabled {
		fwd := decision.NewForwarder(db, decisionSvc, learnerSvc, explainSvc, executorSvc, logger)
		decisionSvc.RegisterHook(fwd.Forward)
	} else {
		logger.Info("decision fan-out: disabled (ROTA_FANOUT_ENABLED=false)")
	}
	for _, h := range o.decisionHooks {
		h := h
		decisionSvc.RegisterHook(func(ctx context.Context, dec model.Decision) error {
			return h.OnDecision(ctx, toPublicDecision(dec))
		})
	}

	mcpSrv := mcp.New(db, learnerSvc, decisionSvc, logger)

	app.srv = server.New(server.Config{
		DB:                  db,
		Logger:              logger,
		MCP:                 mcpSrv.MCPServer(),
		Ingest:              ingestSvc,
		Learner:             learnerSvc,
		Decision:            decisionSvc,
		Explain:             explainSvc,
		Executor:            executorSvc,
		Health:              healthSvc,
		Projector:           projector,
		Broker:              broker,
		Tokens:              tokens,
		AuthEnabled:         authEnabled,
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

	return app, nil
}

// Run starts all background goroutines and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if a.outbox != nil {
		a.outbox.Start(ctx)
	}
	if a.broker != nil {
		go a.broker.Start(ctx)
	}
	go func() {
		if err := a.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("outcome relay stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown: stop accepting HTTP requests and
// drain in-flight, then drain remaining outbox entries to Qdrant, then close
// the spool, database pool, and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("rota shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if a.outbox != nil {
		outboxCtx, outboxCancel := context.WithTimeout(ctx, 10*time.Second)
		a.outbox.Drain(outboxCtx)
		outboxCancel()
	}

	if a.index != nil {
		_ = a.index.Close()
	}
	if a.spool != nil {
		_ = a.spool.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("rota stopped")
	return nil
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

// embeddingAdapter wraps a public EmbeddingProvider as the internal
// pgvector-typed interface.
type embeddingAdapter struct {
	p EmbeddingProvider
}

func (a *embeddingAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v), nil
}

func (a *embeddingAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vs))
	for i, v := range vs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *embeddingAdapter) Dimensions() int {
	return a.p.Dimensions()
}

func toPublicDecision(d model.Decision) Decision {
	return Decision{
		ID:             d.ID,
		WorkItemID:     d.WorkItemID,
		PrimaryHumanID: d.PrimaryHumanID,
		BackupHumanIDs: d.BackupHumanIDs,
		Confidence:     d.Confidence,
		CreatedAt:      d.CreatedAt,
	}
}
