package server

import (
	"net/http"
	"time"

	"github.com/ashita-ai/rota/internal/model"
)

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		ServiceName: h.cfg.ServiceName,
		Postgres:    "ok",
		Uptime:      int64(time.Since(h.started).Seconds()),
	}
	if err := h.cfg.DB.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Postgres = "unreachable"
	}
	writeData(w, r, http.StatusOK, resp)
}

// handleReadyz answers 503 until Postgres is reachable, so load balancers
// hold traffic during startup.
func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.DB.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handlers) handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	if len(h.cfg.OpenAPISpec) == 0 {
		http.Error(w, "openapi spec not embedded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(h.cfg.OpenAPISpec)
}
