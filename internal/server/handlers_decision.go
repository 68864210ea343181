package server

import (
	"net/http"
	"time"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/model"
)

// zeroTime clears a connection deadline via ResponseController.
var zeroTime time.Time

func (h *handlers) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req model.DecideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	resp, err := h.cfg.Decision.Decide(r.Context(), req.WorkItemID)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	status := http.StatusCreated
	if resp.Existing {
		status = http.StatusOK
	}
	writeData(w, r, status, resp)
}

func (h *handlers) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	dec, err := h.cfg.Decision.GetDecision(r.Context(), r.PathValue("work_item_id"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, dec)
}

func (h *handlers) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	audit, err := h.cfg.Decision.GetAudit(r.Context(), r.PathValue("work_item_id"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, audit)
}

func (h *handlers) handleRoutingHealth(w http.ResponseWriter, r *http.Request) {
	rh, err := h.cfg.Health.Compute(r.Context())
	if err != nil {
		writeErr(w, r, h.logger, apperr.Wrap(apperr.KindInternal, "routing health", err))
		return
	}
	writeData(w, r, http.StatusOK, rh)
}

// handleEvents streams decision notifications as Server-Sent Events until
// the client disconnects.
func (h *handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, r, h.logger, apperr.New(apperr.KindInternal, "streaming unsupported"))
		return
	}

	// Clear the server write deadline: this connection outlives it.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(zeroTime)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := h.cfg.Broker.Subscribe()
	defer h.cfg.Broker.Unsubscribe(ch)

	// Initial comment so proxies flush headers promptly.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
