package server

import (
	"net/http"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/model"
)

func (h *handlers) handleGetProfiles(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		writeErr(w, r, h.logger, apperr.New(apperr.KindInvalidInput, "service query parameter is required"))
		return
	}
	profiles, err := h.cfg.Learner.GetProfiles(r.Context(), service)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, profiles)
}

func (h *handlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	humanID := r.URL.Query().Get("human_id")
	if humanID == "" {
		writeErr(w, r, h.logger, apperr.New(apperr.KindInvalidInput, "human_id query parameter is required"))
		return
	}
	stats, err := h.cfg.Learner.GetStats(r.Context(), humanID)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, stats)
}

func (h *handlers) handleProcessOutcome(w http.ResponseWriter, r *http.Request) {
	var o model.Outcome
	if err := decodeJSON(r, &o); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	result, err := h.cfg.Learner.ProcessOutcome(r.Context(), o)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, result)
}

func (h *handlers) handleSyncClosed(w http.ResponseWriter, r *http.Request) {
	var req model.SyncClosedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	result, err := h.cfg.Learner.SyncClosed(r.Context(), req)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, result)
}

func (h *handlers) handleCreateHuman(w http.ResponseWriter, r *http.Request) {
	var req model.CreateHumanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	human, err := h.cfg.Learner.CreateHuman(r.Context(), req)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusCreated, human)
}

func (h *handlers) handleListHumans(w http.ResponseWriter, r *http.Request) {
	humans, err := h.cfg.Learner.ListHumans(r.Context())
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, humans)
}

func (h *handlers) handleGetHuman(w http.ResponseWriter, r *http.Request) {
	human, err := h.cfg.Learner.GetHuman(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, human)
}

func (h *handlers) handleProjectionRefit(w http.ResponseWriter, r *http.Request) {
	fitted, err := h.cfg.Projector.Refit(r.Context(), 0)
	if err != nil {
		writeErr(w, r, h.logger, apperr.Wrap(apperr.KindInternal, "projection refit", err))
		return
	}
	writeData(w, r, http.StatusOK, map[string]int{"samples": fitted})
}
