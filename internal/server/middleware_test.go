package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/rota/internal/auth"
	"github.com/ashita-ai/rota/internal/ctxutil"
)

func TestRequestIDMiddlewareGeneratesAndEchoes(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ctxutil.RequestIDFromContext(r.Context())
	})
	h := requestIDMiddleware(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/humans", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/humans", nil)
	req.Header.Set("X-Request-ID", "req-123")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", seen, "caller-supplied id is kept")
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/humans", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
}

func TestTracingMiddlewareStartsRecordingSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	var valid, recording bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := trace.SpanFromContext(r.Context())
		valid = span.SpanContext().IsValid()
		recording = span.IsRecording()
	})
	h := requestIDMiddleware(tracingMiddleware(next))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/decide", nil))
	assert.True(t, valid, "handler must see a real span context")
	assert.True(t, recording, "span must be recording inside the handler")
}

func TestGuardOpenWhenAuthDisabled(t *testing.T) {
	g := guard{logger: slog.Default()}
	called := false
	h := g.requireToken(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/workitems", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardRejectsMissingToken(t *testing.T) {
	tokens, err := auth.NewTokenManager("", "", time.Hour)
	require.NoError(t, err)
	g := guard{tokens: tokens, logger: slog.Default(), authActive: true}

	h := g.requireToken(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without claims")
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/workitems", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareValidatesBearer(t *testing.T) {
	tokens, err := auth.NewTokenManager("", "", time.Hour)
	require.NoError(t, err)
	token, _, err := tokens.IssueServiceToken("ingest", false)
	require.NoError(t, err)

	g := guard{tokens: tokens, logger: slog.Default(), authActive: true}
	var service string
	inner := g.requireToken(func(w http.ResponseWriter, r *http.Request) {
		service = ctxutil.ClaimsFromContext(r.Context()).Service
	})
	h := authMiddleware(tokens, inner)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/decide", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ingest", service)
}

func TestGuardAdminViaAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("swordfish")
	require.NoError(t, err)
	g := guard{adminHash: hash, logger: slog.Default(), authActive: true}

	called := false
	h := g.requireAdmin(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/closed", nil)
	req.Header.Set("X-API-Key", "swordfish")
	h.ServeHTTP(rec, req)
	assert.True(t, called)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/sync/closed", nil)
	req.Header.Set("X-API-Key", "wrong")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardAdminViaAdminToken(t *testing.T) {
	tokens, err := auth.NewTokenManager("", "", time.Hour)
	require.NoError(t, err)
	adminToken, _, err := tokens.IssueServiceToken("ops", true)
	require.NoError(t, err)

	g := guard{tokens: tokens, logger: slog.Default(), authActive: true}
	called := false
	h := authMiddleware(tokens, g.requireAdmin(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/closed", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	h.ServeHTTP(rec, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddlewareConvertsPanics(t *testing.T) {
	h := recoveryMiddleware(slog.Default(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/humans", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestBodyLimitMiddleware(t *testing.T) {
	h := bodyLimitMiddleware(8, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		_, err := r.Body.Read(buf)
		if err != nil && err.Error() == "http: request body too large" {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/workitems", strings.NewReader("this body is longer than eight bytes"))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
