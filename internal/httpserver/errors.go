package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mailbridge/internal/backend"
	"mailbridge/internal/dispatch"
	"mailbridge/internal/domain"
	"mailbridge/internal/intake"
	"mailbridge/internal/poller"
)

const (
	ErrBadForm     = "bad form"
	ErrMissingID   = "missing id"
	ErrMissingURL  = "missing url"
	ErrBadLimit    = "limit must be a positive integer"
	ErrDependency  = "dependency error"
	ErrNotFound    = "not found"
	ErrNotWatched  = "campaign not open"
	ErrUnavailable = "backend unavailable"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// writeError maps core errors onto status codes: local validation is 400,
// a guard rejection is 409, a backend failure is 502 (or 404 when the
// backend said so) and anything else is 500.
func writeError(w http.ResponseWriter, op string, err error) {
	var (
		ve *intake.ValidationError
		te *backend.TransportError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Reason: string(ve.Reason)})
	case errors.Is(err, intake.ErrSubmitInProgress),
		errors.Is(err, dispatch.ErrRecordInFlight),
		errors.Is(err, dispatch.ErrCampaignInFlight),
		errors.Is(err, dispatch.ErrAlreadySent),
		errors.Is(err, dispatch.ErrNoRecipients),
		errors.Is(err, dispatch.ErrAllSent):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, dispatch.ErrUnknownRecord):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrNotWatched):
		writeJSON(w, http.StatusNotFound, errorBody{Error: ErrNotWatched})
	case errors.Is(err, dispatch.ErrClosed), errors.Is(err, poller.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: ErrUnavailable})
	case errors.As(err, &te) && te.NotFound():
		writeJSON(w, http.StatusNotFound, errorBody{Error: ErrNotFound})
	case errors.As(err, &te):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: te.Error()})
	default:
		slog.Error("console request failed", "op", op, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: ErrDependency})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
