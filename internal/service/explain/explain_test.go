package explain

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/rota/internal/llm"
	"github.com/ashita-ai/rota/internal/model"
)

func ptr[T any](v T) *T { return &v }

type stubLLM struct {
	out string
	err error
	// captured
	req llm.Request
}

func (s *stubLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	s.req = req
	return s.out, s.err
}

func explainReq() model.ExplainRequest {
	return model.ExplainRequest{
		DecisionID:  "dec-1",
		WorkItemID:  "wi-1",
		Service:     "api",
		Severity:    model.Sev2,
		Description: "500 on /v1/users",
		Primary: model.CandidateFeatures{
			HumanID:       "h1",
			DisplayName:   "Hana",
			FitScore:      0.85,
			ResolvesCount: 12,
			Pages7d:       0,
		},
		Backups: []model.CandidateFeatures{{
			HumanID:       "h2",
			DisplayName:   "Ben",
			FitScore:      0.75,
			ResolvesCount: 8,
		}},
	}
}

func validLLMOutput(t *testing.T) string {
	t.Helper()
	out, err := json.Marshal(llmBundle{
		Bullets: []model.EvidenceBullet{
			{Type: model.EvidenceRecentResolution, Text: "Hana resolved 12 api incidents", TimeWindow: "last 90 days", Source: "learner_stats"},
			{Type: model.EvidenceLowLoad, Text: "Hana had no pages", TimeWindow: "last 7 days", Source: "load_view"},
			{Type: model.EvidenceFitScore, Text: "fit 0.85", TimeWindow: "current", Source: "learner_stats"},
		},
		WhyNotNextBest: "Hana over Ben: 0.85 vs 0.75 fit",
	})
	require.NoError(t, err)
	return string(out)
}

func TestExplainUsesLLMWhenValid(t *testing.T) {
	stub := &stubLLM{out: validLLMOutput(t)}
	s := New(stub, slog.Default())

	bundle, err := s.Explain(context.Background(), explainReq())
	require.NoError(t, err)

	assert.Equal(t, model.GeneratedByLLM, bundle.GeneratedBy)
	assert.Equal(t, "dec-1", bundle.DecisionID)
	assert.Len(t, bundle.Bullets, 3)
	assert.True(t, stub.req.JSONObject, "must request a JSON object response")
	assert.Contains(t, stub.req.Prompt, `"h1"`, "features listed verbatim")
}

func TestExplainFallsBackOnInvalidJSON(t *testing.T) {
	s := New(&stubLLM{out: "here are some thoughts, not JSON"}, slog.Default())

	bundle, err := s.Explain(context.Background(), explainReq())
	require.NoError(t, err)
	assert.Equal(t, model.GeneratedByFallback, bundle.GeneratedBy)
	assert.NotEmpty(t, bundle.Bullets)
}

func TestExplainFallsBackOnSchemaViolation(t *testing.T) {
	// Two bullets only: under the minimum of three.
	out := `{"bullets":[
	  {"type":"general","text":"a","time_window":"now","source":"x"},
	  {"type":"general","text":"b","time_window":"now","source":"x"}],
	  "why_not_next_best":"c"}`
	s := New(&stubLLM{out: out}, slog.Default())

	bundle, err := s.Explain(context.Background(), explainReq())
	require.NoError(t, err)
	assert.Equal(t, model.GeneratedByFallback, bundle.GeneratedBy)
}

func TestExplainFallsBackOnUnknownBulletType(t *testing.T) {
	out := `{"bullets":[
	  {"type":"vibes","text":"a","time_window":"now","source":"x"},
	  {"type":"general","text":"b","time_window":"now","source":"x"},
	  {"type":"general","text":"c","time_window":"now","source":"x"}],
	  "why_not_next_best":"d"}`
	s := New(&stubLLM{out: out}, slog.Default())

	bundle, err := s.Explain(context.Background(), explainReq())
	require.NoError(t, err)
	assert.Equal(t, model.GeneratedByFallback, bundle.GeneratedBy)
}

func TestExplainFallsBackWhenDisabled(t *testing.T) {
	s := New(llm.Disabled{}, slog.Default())

	bundle, err := s.Explain(context.Background(), explainReq())
	require.NoError(t, err)
	assert.Equal(t, model.GeneratedByFallback, bundle.GeneratedBy)
}

func TestExplainFallsBackOnTransportError(t *testing.T) {
	s := New(&stubLLM{err: errors.New("connection refused")}, slog.Default())

	bundle, err := s.Explain(context.Background(), explainReq())
	require.NoError(t, err)
	assert.Equal(t, model.GeneratedByFallback, bundle.GeneratedBy)
}

func TestExplainRejectsMissingIDs(t *testing.T) {
	s := New(llm.Disabled{}, slog.Default())
	_, err := s.Explain(context.Background(), model.ExplainRequest{})
	assert.Error(t, err)
}

func TestFallbackPredicates(t *testing.T) {
	req := explainReq()
	req.Primary.LastResolvedAt = ptr("2026-08-20T10:00:00Z")
	req.Primary.OnCall = true
	req.Primary.SimilarIncidentScore = ptr(0.91)

	bundle := Fallback(req)

	types := map[model.EvidenceType]int{}
	for _, b := range bundle.Bullets {
		types[b.Type]++
	}
	assert.Equal(t, 2, types[model.EvidenceRecentResolution], "resolves_count and last_resolved_at")
	assert.Equal(t, 1, types[model.EvidenceOnCall])
	assert.Equal(t, 1, types[model.EvidenceLowLoad], "pages_7d == 0")
	assert.Equal(t, 1, types[model.EvidenceSimilarIncident])
	assert.Equal(t, 1, types[model.EvidenceFitScore])
	assert.LessOrEqual(t, len(bundle.Bullets), 7)
}

func TestFallbackAlwaysEmitsABullet(t *testing.T) {
	req := model.ExplainRequest{
		DecisionID: "dec-1",
		WorkItemID: "wi-1",
		Service:    "api",
		Primary:    model.CandidateFeatures{HumanID: "h1", Pages7d: 3},
	}
	bundle := Fallback(req)

	require.Len(t, bundle.Bullets, 1)
	assert.Equal(t, model.EvidenceGeneral, bundle.Bullets[0].Type)
}

func TestFallbackWhyNotNextBest(t *testing.T) {
	bundle := Fallback(explainReq())
	assert.Equal(t,
		"Hana was chosen over Ben: fit score 0.85 vs 0.75, 12 vs 8 resolutions, 0 vs 0 transfers.",
		bundle.WhyNotNextBest)

	req := explainReq()
	req.Backups = nil
	assert.Equal(t,
		"Hana was the only viable candidate; no backups were available.",
		Fallback(req).WhyNotNextBest)
}

func TestFallbackDeterministic(t *testing.T) {
	a := Fallback(explainReq())
	b := Fallback(explainReq())
	assert.Equal(t, a, b)
}

func TestSummarizeTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("障", 300)
	got := summarize(long)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 500)
	assert.Equal(t, 500/3, utf8.RuneCountInString(got))

	short := "db connection pool exhausted"
	assert.Equal(t, short, summarize(short))
}
