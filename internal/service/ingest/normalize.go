package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ashita-ai/rota/internal/llm"
)

// normalizeSystemPrompt pins the cleanup behavior so identical raw logs yield
// identical descriptions.
const normalizeSystemPrompt = `Clean and normalize this error log into a concise incident description.
Rules:
- Remove log-level prefixes, timestamps, and host noise.
- Keep the failing component, the error, and any request path or identifier.
- One to three sentences, plain text, no markdown.
- Do not invent details that are not in the log.
Return only the cleaned description.`

// logPrefixes are stripped from the head of each line by the deterministic
// fallback.
var logPrefixes = []string{
	"[ERROR]", "[CRITICAL]", "[WARN]",
	"ERROR:", "CRITICAL:", "WARN:",
}

// Normalizer derives a clean description from an inbound event. The LLM path
// runs at temperature zero; any failure falls through to FallbackClean.
type Normalizer struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewNormalizer(client llm.Client, logger *slog.Logger) *Normalizer {
	return &Normalizer{llm: client, logger: logger}
}

// Normalize returns the description to embed. When a raw log is present the
// LLM cleans it; otherwise, or on any LLM failure, the deterministic fallback
// runs on whichever text is available.
func (n *Normalizer) Normalize(ctx context.Context, description string, rawLog *string) string {
	source := strings.TrimSpace(description)
	if rawLog != nil && strings.TrimSpace(*rawLog) != "" {
		raw := strings.TrimSpace(*rawLog)
		out, err := n.llm.Complete(ctx, llm.Request{
			System: normalizeSystemPrompt,
			Prompt: raw,
		})
		if err == nil && strings.TrimSpace(out) != "" {
			return strings.TrimSpace(out)
		}
		if err != nil && !errors.Is(err, llm.ErrUnavailable) {
			n.logger.Warn("llm normalization failed, using fallback", "error", err)
		}
		if source == "" {
			source = raw
		}
	}
	return FallbackClean(source)
}

// FallbackClean is the deterministic normalizer: per-line log-level prefix
// stripping, then whitespace collapse.
func FallbackClean(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		for _, prefix := range logPrefixes {
			if strings.HasPrefix(line, prefix) {
				line = strings.TrimSpace(strings.TrimPrefix(line, prefix))
				break
			}
		}
		lines[i] = line
	}
	return strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
}
