package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/rota/internal/llm"
	"github.com/ashita-ai/rota/internal/model"
)

func ptr[T any](v T) *T { return &v }

type stubLLM struct {
	out string
	err error
	req llm.Request
}

func (s *stubLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	s.req = req
	return s.out, s.err
}

func TestFallbackClean(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bracketed prefix", "[ERROR] db connection refused", "db connection refused"},
		{"bare prefix", "CRITICAL: disk full on node-3", "disk full on node-3"},
		{"multiline", "[WARN] slow query\nERROR: timeout after 30s", "slow query timeout after 30s"},
		{"whitespace collapse", "  too   many\t\tspaces  ", "too many spaces"},
		{"no prefix untouched", "payment service returned 502", "payment service returned 502"},
		{"prefix only at line head", "saw [ERROR] mid-sentence", "saw [ERROR] mid-sentence"},
		{"empty", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FallbackClean(tc.in))
		})
	}
}

func TestNormalizePrefersLLMForRawLogs(t *testing.T) {
	stub := &stubLLM{out: "Database connection pool exhausted on api"}
	n := NewNormalizer(stub, slog.Default())

	got := n.Normalize(context.Background(), "", ptr("[ERROR] 2026-08-25 conn pool exhausted host=api-7"))
	assert.Equal(t, "Database connection pool exhausted on api", got)
	assert.Contains(t, stub.req.System, "Clean and normalize")
}

func TestNormalizeFallsBackOnLLMFailure(t *testing.T) {
	n := NewNormalizer(&stubLLM{err: errors.New("boom")}, slog.Default())

	got := n.Normalize(context.Background(), "", ptr("[ERROR] conn pool exhausted"))
	assert.Equal(t, "conn pool exhausted", got)
}

func TestNormalizeFallsBackWhenDisabled(t *testing.T) {
	n := NewNormalizer(llm.Disabled{}, slog.Default())

	got := n.Normalize(context.Background(), "checkout broken", ptr("ERROR: 500 on /checkout"))
	// Description wins over the raw log when the LLM is unavailable.
	assert.Equal(t, "checkout broken", got)
}

func TestNormalizeWithoutRawLogSkipsLLM(t *testing.T) {
	stub := &stubLLM{out: "should not be used"}
	n := NewNormalizer(stub, slog.Default())

	got := n.Normalize(context.Background(), "[WARN] elevated latency", nil)
	assert.Equal(t, "elevated latency", got)
	assert.Empty(t, stub.req.Prompt, "no raw log means no LLM call")
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":{}}`)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifySignature("s3cret", body, sig))
	assert.True(t, VerifySignature("s3cret", body, "v1="+sig))
	assert.False(t, VerifySignature("s3cret", body, "deadbeef"))
	assert.False(t, VerifySignature("s3cret", []byte("tampered"), sig))
	// No secret configured disables verification.
	assert.True(t, VerifySignature("", body, ""))
}

func TestServiceFromAlertName(t *testing.T) {
	assert.Equal(t, "api", ServiceFromAlertName("API Gateway"))
	assert.Equal(t, "frontend", ServiceFromAlertName("frontend app"))
	assert.Equal(t, "checkout", ServiceFromAlertName("Checkout"), "unknown names fall through lowercased")

	t.Setenv("ROTA_SERVICE_MAP_LEGACY_BILLING", "backend")
	assert.Equal(t, "backend", ServiceFromAlertName("Legacy Billing"))
}

func TestSeverityFromUrgency(t *testing.T) {
	assert.Equal(t, model.Sev2, severityFromUrgency("high"))
	assert.Equal(t, model.Sev3, severityFromUrgency("low"))
	assert.Equal(t, model.Sev3, severityFromUrgency(""))
	assert.Equal(t, model.Sev3, severityFromUrgency("weird"))
}

func TestAlertWebhookShape(t *testing.T) {
	payload := `{
	  "event": "incident.triggered",
	  "incident": {
	    "incident_number": 4211,
	    "title": "High error rate",
	    "urgency": "high",
	    "service": {"name": "API Gateway"},
	    "details": {"body": "5xx above 10% for 5m"}
	  }
	}`
	var hook model.AlertWebhook
	require.NoError(t, json.Unmarshal([]byte(payload), &hook))

	assert.Equal(t, "incident.triggered", hook.Event)
	assert.Equal(t, 4211, hook.Incident.IncidentNumber)
	assert.Equal(t, "API Gateway", hook.Incident.Service.Name)
	assert.Equal(t, "high", hook.Incident.Urgency)
	require.NotNil(t, hook.Incident.Details)
	assert.Equal(t, "5xx above 10% for 5m", hook.Incident.Details.Body)
}
