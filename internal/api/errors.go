package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ryanbastic/go-fieldmap/internal/circuitbreaker"
	"github.com/ryanbastic/go-fieldmap/internal/draft"
	"github.com/ryanbastic/go-fieldmap/internal/geometry"
	"github.com/ryanbastic/go-fieldmap/internal/notify"
	"github.com/ryanbastic/go-fieldmap/internal/persist"
	"github.com/ryanbastic/go-fieldmap/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// refusals are state-machine rejections: the request was well formed but
// the session is in the wrong state for it.
var refusals = []error{
	draft.ErrDraftActive,
	draft.ErrNotDrawing,
	draft.ErrBusy,
	draft.ErrNothingSelected,
	draft.ErrNotPersisted,
	draft.ErrNotDraft,
	draft.ErrStaleTicket,
}

// StatusFor maps a domain error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case persist.IsValidation(err),
		errors.Is(err, notify.ErrInvalidPlugin),
		errors.Is(err, geometry.ErrUnsupportedGeometry):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrForbidden),
		errors.Is(err, draft.ErrShapeNotAllowed),
		errors.Is(err, draft.ErrControlDisabled):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, notify.ErrPluginNotFound):
		return http.StatusNotFound
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	for _, r := range refusals {
		if errors.Is(err, r) {
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

// toHTTP converts err into a huma error. Server-side failures are logged
// and their detail is not sent to the client.
func toHTTP(logger *slog.Logger, op string, err error) error {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "op", op, "status", status, "error", err)
		switch status {
		case http.StatusServiceUnavailable:
			return huma.Error503ServiceUnavailable("store unavailable, retry later")
		case http.StatusGatewayTimeout:
			return huma.Error504GatewayTimeout("store timed out")
		}
		return huma.Error500InternalServerError("internal server error")
	}
	return huma.NewError(status, err.Error())
}
