package rota

import "context"

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces the auto-detected
// OpenAI/Ollama/noop provider. Uses []float32 (not pgvector.Vector) so
// external consumers don't inherit the pgvector dependency; New() wraps it
// in an adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// DecisionHook receives every committed routing decision. Hooks run after
// commit on a detached context; a hook error is logged and never affects the
// decision. Multiple hooks may be registered via multiple WithDecisionHook
// calls; they run in registration order, after the built-in Explain/Execute
// orchestration when that is enabled.
type DecisionHook interface {
	OnDecision(ctx context.Context, decision Decision) error
}
