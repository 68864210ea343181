package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/ctxutil"
	"github.com/ashita-ai/rota/internal/model"
)

func meta(r *http.Request) model.ResponseMeta {
	return model.ResponseMeta{
		RequestID: ctxutil.RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
	}
}

// writeData writes the success envelope.
func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{Data: data, Meta: meta(r)})
}

// writeList writes the list envelope with pagination hints.
func writeList(w http.ResponseWriter, r *http.Request, data any, count, limit, offset int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(model.ListResponse{
		Data:    data,
		HasMore: count == limit,
		Limit:   limit,
		Offset:  offset,
		Meta:    meta(r),
	})
}

// writeErr maps an error to the envelope via its apperr kind. Internal errors
// are logged with their cause and masked on the wire.
func writeErr(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	msg := err.Error()
	var details any
	var ae *apperr.Error
	if errors.As(err, &ae) {
		details = ae.Details
	}
	if kind == apperr.KindInternal {
		logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path,
			"request_id", ctxutil.RequestIDFromContext(r.Context()),
			"error", err)
		msg = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    kind.Code(),
			Message: msg,
			Details: details,
		},
		Meta: meta(r),
	})
}

// decodeJSON decodes a request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, "invalid JSON body", err)
	}
	return nil
}

// unmarshalBody decodes an already-read body, as webhook handlers do after
// signature verification.
func unmarshalBody(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, "invalid JSON body", err)
	}
	return nil
}
