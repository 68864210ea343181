package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/auth"
	"github.com/ashita-ai/rota/internal/ctxutil"
	"github.com/ashita-ai/rota/internal/telemetry"
)

// requestIDMiddleware accepts, generates, and echoes X-Request-ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctxutil.WithRequestID(r.Context(), reqID)))
	})
}

// securityHeadersMiddleware sets baseline response headers. The API serves
// JSON only, so a restrictive set is safe everywhere.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// tracingMiddleware starts a server span per request so downstream code
// picks a real span off the context. Runs after requestIDMiddleware so the
// request id lands on the span.
func tracingMiddleware(next http.Handler) http.Handler {
	tracer := telemetry.Tracer("rota/http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("http.request_id", ctxutil.RequestIDFromContext(r.Context())),
			),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE streaming keeps working behind the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// loggingMiddleware logs one line per request and records latency metrics.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	meter := telemetry.Meter("rota/server")
	duration, _ := meter.Float64Histogram("rota.http.duration",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		duration.Record(r.Context(), elapsed.Seconds(), metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.Int("status", rec.status),
		))
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", ctxutil.RequestIDFromContext(r.Context()))
	})
}

// recoveryMiddleware converts panics into 500 responses.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()))
				writeErr(w, r, logger, apperr.Newf(apperr.KindInternal, "panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// bodyLimitMiddleware caps request body size.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates bearer tokens when a token manager is configured
// and stores the claims in the context. Requests without a token pass
// through; route guards decide whether claims are required.
func authMiddleware(tokens *auth.TokenManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokens == nil {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			claims, err := tokens.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err == nil {
				r = r.WithContext(ctxutil.WithClaims(r.Context(), claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// guard wraps route-level access checks.
type guard struct {
	tokens     *auth.TokenManager
	adminHash  string // argon2id encoded; empty disables the API-key path
	logger     *slog.Logger
	authActive bool
}

// requireToken gates mutating routes on a valid service token. Open when no
// token manager is configured.
func (g guard) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.authActive {
			next(w, r)
			return
		}
		if ctxutil.ClaimsFromContext(r.Context()) == nil {
			writeErr(w, r, g.logger, apperr.New(apperr.KindUnauthorized, "missing or invalid service token"))
			return
		}
		next(w, r)
	}
}

// requireAdmin gates admin routes: an admin-scoped token or the configured
// API key.
func (g guard) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.authActive {
			next(w, r)
			return
		}
		if claims := ctxutil.ClaimsFromContext(r.Context()); claims != nil && claims.Admin {
			next(w, r)
			return
		}
		if g.adminHash != "" {
			if key := r.Header.Get("X-API-Key"); key != "" {
				ok, err := auth.VerifyAPIKey(key, g.adminHash)
				if err == nil && ok {
					next(w, r)
					return
				}
			} else {
				// Equalize timing whether or not a key was sent.
				auth.DummyVerify()
			}
		}
		writeErr(w, r, g.logger, apperr.New(apperr.KindForbidden, "admin credentials required"))
	}
}
