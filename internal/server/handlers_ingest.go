package server

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/service/ingest"
)

// handlers carries the configured services for route methods.
type handlers struct {
	cfg     Config
	logger  *slog.Logger
	started time.Time
}

func (h *handlers) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req model.CreateWorkItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	item, err := h.cfg.Ingest.CreateWorkItem(r.Context(), req)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusCreated, item)
}

func (h *handlers) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.cfg.Ingest.GetWorkItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, item)
}

func (h *handlers) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := model.WorkItemFilters{
		Service:  q.Get("service"),
		Severity: model.Severity(q.Get("severity")),
	}
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	filters.Offset, _ = strconv.Atoi(q.Get("offset"))
	if filters.Severity != "" && !model.ValidSeverity(filters.Severity) {
		writeErr(w, r, h.logger, apperr.Newf(apperr.KindInvalidInput, "unknown severity %q", filters.Severity))
		return
	}

	items, err := h.cfg.Ingest.ListWorkItems(r.Context(), filters)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	writeList(w, r, items, len(items), limit, max(filters.Offset, 0))
}

func (h *handlers) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var o model.Outcome
	if err := decodeJSON(r, &o); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	o.WorkItemID = r.PathValue("id")

	recorded, err := h.cfg.Ingest.RecordOutcome(r.Context(), o)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusAccepted, recorded)
}

// handleAlertWebhook verifies the HMAC signature before touching the body
// payload. Non-incident events are acknowledged with 204.
func (h *handlers) handleAlertWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, r, h.logger, apperr.Wrap(apperr.KindInvalidInput, "read webhook body", err))
		return
	}
	if !ingest.VerifySignature(h.cfg.WebhookSecret, body, r.Header.Get("X-Rota-Signature")) {
		writeErr(w, r, h.logger, apperr.New(apperr.KindUnauthorized, "webhook signature mismatch"))
		return
	}

	var hook model.AlertWebhook
	if err := unmarshalBody(body, &hook); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}

	item, handled, err := h.cfg.Ingest.HandleAlert(r.Context(), hook)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if !handled {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeData(w, r, http.StatusCreated, item)
}

func (h *handlers) handleTrackerWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, r, h.logger, apperr.Wrap(apperr.KindInvalidInput, "read webhook body", err))
		return
	}
	if !ingest.VerifySignature(h.cfg.WebhookSecret, body, r.Header.Get("X-Rota-Signature")) {
		writeErr(w, r, h.logger, apperr.New(apperr.KindUnauthorized, "webhook signature mismatch"))
		return
	}

	var hook model.TrackerOutcomeWebhook
	if err := unmarshalBody(body, &hook); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}

	outcome, err := h.cfg.Ingest.HandleTrackerOutcome(r.Context(), hook)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusAccepted, outcome)
}
