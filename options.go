package rota

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port              int
	databaseURL       string
	notifyURL         string
	logger            *slog.Logger
	version           string
	embeddingProvider EmbeddingProvider
	decisionHooks     []DecisionHook
	extraMigrations   []fs.FS
}

// WithPort overrides the TCP port from config (ROTA_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when using a connection pooler (e.g. PgBouncer) for queries — LISTEN/NOTIFY
// requires a direct (non-pooled) connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider (OpenAI/Ollama/noop).
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithDecisionHook registers a hook to receive every committed routing decision.
// Multiple hooks may be registered; all registered hooks receive every decision.
func WithDecisionHook(hook DecisionHook) Option {
	return func(o *resolvedOptions) { o.decisionHooks = append(o.decisionHooks, hook) }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run after
// the built-in migrations. Multiple filesystems may be registered; they are
// applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
