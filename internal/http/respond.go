package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"case-study-live-eval/internal/schema"
	"case-study-live-eval/internal/service/audio"
	"case-study-live-eval/internal/service/dispatch"
	"case-study-live-eval/internal/service/evaluation"
	"case-study-live-eval/internal/service/identity"
	"case-study-live-eval/internal/service/session"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: err.Error()})
}

// errBadRequest marks malformed input.
var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionExists),
		errors.Is(err, session.ErrNotRunning),
		errors.Is(err, session.ErrStillRunning),
		errors.Is(err, dispatch.ErrBusy),
		errors.Is(err, dispatch.ErrStopped),
		errors.Is(err, audio.ErrClosed),
		errors.Is(err, evaluation.ErrDuplicateRecord):
		return http.StatusConflict
	case errors.Is(err, audio.ErrLimitExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, identity.ErrEmptyName),
		errors.Is(err, schema.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
