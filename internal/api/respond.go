package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"gwi.com/answer-engine/internal/core"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Detail string `json:"detail"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func statusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch core.KindOf(err) {
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindNotFound, core.KindNoResults:
		return http.StatusNotFound
	case core.KindInvalid:
		return http.StatusBadRequest
	case core.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the client-facing text for err. Storage and upstream
// details stay in the logs.
func publicMessage(err error) string {
	var e *core.Error
	if !errors.As(err, &e) {
		return "Error processing request"
	}
	switch e.Kind {
	case core.KindUnauthorized:
		return "Invalid token"
	case core.KindForbidden:
		return "Not authorized"
	case core.KindNotFound, core.KindNoResults, core.KindInvalid:
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	return "Error processing request"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	event := log.Debug()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("request failed")

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, errorResponse{Detail: publicMessage(err)})
}

// decodeJSON reads a bounded JSON body into v and validates it.
func (h *APIHandler) decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.E(core.KindInvalid, op, errors.New("Invalid request body: "+err.Error()))
	}
	if err := h.validate.Struct(v); err != nil {
		return core.E(core.KindInvalid, op, err)
	}
	return nil
}
