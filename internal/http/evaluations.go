package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/schema"
	"case-study-live-eval/internal/service/evaluation"
	"case-study-live-eval/internal/service/poller"
)

// maxIngestBytes bounds one ingest request body.
const maxIngestBytes = 8 << 20

// evaluationHandlers expose the local result store in the same shape a remote
// evaluator serves, so the evaluator client can poll either.
type evaluationHandlers struct {
	store     *evaluation.Store
	validator *schema.Validator
}

type ingestRequest struct {
	Evaluations []models.EvaluationRecord `json:"evaluations"`
}

type ingestResponse struct {
	Accepted []models.EvaluationRecord `json:"accepted"`
	Rejected []rejection               `json:"rejected"`
}

type rejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type evaluationsPage struct {
	Evaluations []models.EvaluationRecord `json:"evaluations"`
	Metadata    pageMetadata              `json:"metadata"`
}

type pageMetadata struct {
	PolledAt time.Time `json:"polledAt"`
	HasMore  bool      `json:"hasMore"`
}

// ingest stores each valid record. Invalid or duplicate records are reported, not fatal.
func (h *evaluationHandlers) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBytes)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if len(req.Evaluations) == 0 {
		writeError(w, fmt.Errorf("%w: no evaluations", errBadRequest))
		return
	}

	resp := ingestResponse{
		Accepted: make([]models.EvaluationRecord, 0, len(req.Evaluations)),
		Rejected: []rejection{},
	}
	for i, rec := range req.Evaluations {
		if h.validator != nil {
			if err := h.validator.ValidateRecord(rec); err != nil {
				resp.Rejected = append(resp.Rejected, rejection{Index: i, Error: err.Error()})
				continue
			}
		}
		stored, err := h.store.Append(rec)
		if err != nil {
			resp.Rejected = append(resp.Rejected, rejection{Index: i, Error: err.Error()})
			continue
		}
		resp.Accepted = append(resp.Accepted, stored)
	}

	log.Info().
		Int("accepted", len(resp.Accepted)).
		Int("rejected", len(resp.Rejected)).
		Msg("Evaluations ingested")

	status := http.StatusCreated
	if len(resp.Accepted) == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (h *evaluationHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("sessionId")
	if sessionID == "" {
		writeError(w, fmt.Errorf("%w: sessionId is required", errBadRequest))
		return
	}
	var since *time.Time
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: invalid since %q", errBadRequest, raw))
			return
		}
		since = &t
	}

	page, err := h.store.Fetch(r.Context(), poller.Query{
		SessionID:     sessionID,
		Since:         since,
		ParticipantID: q.Get("participantId"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	records := page.Records
	if records == nil {
		records = []models.EvaluationRecord{}
	}
	writeJSON(w, http.StatusOK, evaluationsPage{
		Evaluations: records,
		Metadata:    pageMetadata{PolledAt: page.PolledAt, HasMore: page.HasMore},
	})
}
