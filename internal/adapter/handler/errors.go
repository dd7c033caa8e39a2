package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindTimeout, domain.KindUnavailable:
		// the body kind tells a timeout apart from an unreachable dependency
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the taxonomy kind and a message that never
// carries driver text. Server side failures are logged with the full error.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	kind := domain.KindOf(err)
	if !kind.Exposable() {
		log.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, statusFor(kind), errorResponse{Error: errorBody{Kind: kind, Message: domain.PublicMessage(err)}})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
