package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/service/session"
)

// maxAudioRequestBytes bounds a single POSTed audio frame before the session limits apply.
const maxAudioRequestBytes = 4 << 20

// stopTimeout bounds the final dispatch once a client asks to stop. It outlives the request.
const stopTimeout = 2 * time.Minute

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type sessionHandlers struct {
	sessions *session.Manager
}

type createRequest struct {
	SessionID string `json:"sessionId"`
}

type correctSpeakerRequest struct {
	Name string `json:"name"`
}

type pollResponse struct {
	NewRecords int `json:"newRecords"`
}

type dispatchResponse struct {
	Dispatched bool                      `json:"dispatched"`
	Version    *models.TranscriptVersion `json:"version,omitempty"`
}

func (h *sessionHandlers) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	s, ok := h.sessions.Get(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id))
		return nil, false
	}
	return s, true
}

func (h *sessionHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	s, err := h.sessions.Create(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Info())
}

func (h *sessionHandlers) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List())
}

func (h *sessionHandlers) info(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, s.Info())
	}
}

func (h *sessionHandlers) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Remove(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *sessionHandlers) stop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), stopTimeout)
	defer cancel()
	v, err := h.sessions.Stop(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dispatchResponse{Dispatched: v != nil, Version: v})
}

func (h *sessionHandlers) audio(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	frame, err := io.ReadAll(io.LimitReader(r.Body, maxAudioRequestBytes+1))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if len(frame) > maxAudioRequestBytes {
		writeError(w, fmt.Errorf("%w: frame larger than %d bytes", errBadRequest, maxAudioRequestBytes))
		return
	}
	if len(frame) == 0 {
		writeError(w, fmt.Errorf("%w: empty audio frame", errBadRequest))
		return
	}
	if err := s.SendAudio(r.Context(), frame); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// stream accepts binary audio frames over a websocket until the client closes it.
// A text message "stop" stops the session and returns the final version.
func (h *sessionHandlers) stream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID()).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := log.With().Str("sessionId", s.ID()).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("Audio stream connected")

	ctx := r.Context()
	frames := 0
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Audio stream read failed")
			}
			break
		}
		switch kind {
		case websocket.BinaryMessage:
			if err := s.SendAudio(ctx, data); err != nil {
				logger.Warn().Err(err).Int("frames", frames).Msg("Rejecting audio frame")
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			frames++
		case websocket.TextMessage:
			if string(data) != "stop" {
				continue
			}
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
			v, err := s.Stop(stopCtx)
			cancel()
			resp := envelope{Success: err == nil, Data: dispatchResponse{Dispatched: v != nil, Version: v}}
			if err != nil {
				resp = envelope{Error: err.Error()}
			}
			_ = conn.WriteJSON(resp)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			logger.Info().Int("frames", frames).Msg("Audio stream stopped session")
			return
		}
	}
	logger.Info().Int("frames", frames).Msg("Audio stream disconnected")
}

func (h *sessionHandlers) dispatch(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	v, err := s.Dispatch(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dispatchResponse{Dispatched: v != nil, Version: v})
}

func (h *sessionHandlers) poll(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	n, err := s.Poll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pollResponse{NewRecords: n})
}

func (h *sessionHandlers) transcript(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, s.CurrentTranscript())
	}
}

func (h *sessionHandlers) correctSpeaker(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	speakerID, err := strconv.Atoi(chi.URLParam(r, "speakerID"))
	if err != nil || speakerID < 0 {
		writeError(w, fmt.Errorf("%w: invalid speaker id %q", errBadRequest, chi.URLParam(r, "speakerID")))
		return
	}
	var req correctSpeakerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.CorrectSpeaker(speakerID, req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.CurrentTranscript().SpeakerMapping)
}

func (h *sessionHandlers) summaries(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.lookup(w, r); ok {
		out := s.CurrentSummaries(r.URL.Query().Get("participantId"))
		if out == nil {
			out = []models.ParticipantCompetencySummary{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *sessionHandlers) overview(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.lookup(w, r); ok {
		out := s.Overview()
		if out == nil {
			out = []models.CompetencyOverview{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *sessionHandlers) versions(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.lookup(w, r); ok {
		out := s.Versions()
		if out == nil {
			out = []models.TranscriptVersion{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}
