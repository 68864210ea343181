package server

import (
	"net/http"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/model"
)

func (h *handlers) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req model.ExplainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	bundle, err := h.cfg.Explain.Explain(r.Context(), req)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, bundle)
}

func (h *handlers) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req model.ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	resp, err := h.cfg.Executor.Execute(r.Context(), req)
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

func (h *handlers) handleGetExecutedAction(w http.ResponseWriter, r *http.Request) {
	decisionID := r.URL.Query().Get("decision_id")
	if decisionID == "" {
		writeErr(w, r, h.logger, apperr.New(apperr.KindInvalidInput, "decision_id query parameter is required"))
		return
	}
	action, err := h.cfg.Executor.GetAction(r.Context(), decisionID)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, action)
}
