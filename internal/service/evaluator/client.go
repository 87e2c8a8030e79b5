// Package evaluator is the HTTP client for the external competency-evaluation service.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/observability/logging"
	"case-study-live-eval/internal/schema"
	"case-study-live-eval/internal/service/dispatch"
	"case-study-live-eval/internal/service/poller"
)

// Config holds evaluator endpoint settings.
type Config struct {
	BaseURL         string
	DispatchPath    string
	EvaluationsPath string
	Timeout         time.Duration
}

// DefaultConfig returns the standard endpoint paths.
func DefaultConfig() Config {
	return Config{
		DispatchPath:    "/api/case-study/consolidated-transcript",
		EvaluationsPath: "/api/case-study/evaluations",
		Timeout:         60 * time.Second,
	}
}

// StatusError is returned for non-2xx responses or success=false envelopes.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("evaluator %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Client talks JSON over HTTP to the evaluation service.
type Client struct {
	c         *http.Client
	cfg       Config
	validator *schema.Validator
	log       zerolog.Logger
}

// New creates a client. Empty paths fall back to DefaultConfig.
func New(cfg Config, validator *schema.Validator) *Client {
	def := DefaultConfig()
	if cfg.DispatchPath == "" {
		cfg.DispatchPath = def.DispatchPath
	}
	if cfg.EvaluationsPath == "" {
		cfg.EvaluationsPath = def.EvaluationsPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if validator == nil {
		validator = schema.New()
	}
	return &Client{
		c:         &http.Client{Timeout: cfg.Timeout},
		cfg:       cfg,
		validator: validator,
		log:       logging.WithComponent("evaluator-client"),
	}
}

// --- Dispatch (POST consolidated transcript) ---

type submission struct {
	SessionID            string            `json:"sessionId"`
	FullTranscript       string            `json:"fullTranscript"`
	SpeakerMapping       map[string]string `json:"speakerMapping"`
	TotalDurationSeconds float64           `json:"totalDurationSeconds"`
	Timestamp            int64             `json:"timestamp"`
}

type submissionResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	} `json:"data"`
}

// Dispatch implements dispatch.Evaluator.
func (c *Client) Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Response, error) {
	if err := c.validator.ValidateSubmission(req.SessionID, req.FullTranscript, req.TotalDurationSeconds); err != nil {
		return dispatch.Response{}, err
	}

	mapping := make(map[string]string, len(req.SpeakerMapping))
	for id, name := range req.SpeakerMapping {
		mapping[strconv.Itoa(id)] = name
	}
	payload, err := json.Marshal(submission{
		SessionID:            req.SessionID,
		FullTranscript:       req.FullTranscript,
		SpeakerMapping:       mapping,
		TotalDurationSeconds: req.TotalDurationSeconds,
		Timestamp:            req.Timestamp.UnixMilli(),
	})
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("marshal submission: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.DispatchPath, bytes.NewReader(payload))
	if err != nil {
		return dispatch.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var out submissionResp
	if err := c.do(httpReq, "dispatch", &out); err != nil {
		return dispatch.Response{}, err
	}
	if !out.Success {
		return dispatch.Response{}, &StatusError{Op: "dispatch", StatusCode: http.StatusOK, Message: out.Error}
	}

	c.log.Debug().
		Str("sessionId", req.SessionID).
		Int("version", out.Data.Version).
		Int("transcriptLength", len(req.FullTranscript)).
		Msg("Transcript accepted by evaluator")
	return dispatch.Response{ID: out.Data.ID, Version: out.Data.Version}, nil
}

// --- Fetch (GET evaluations since cursor) ---

type ref struct {
	ID string `json:"id"`
}

type wireRecord struct {
	ID                 string    `json:"id"`
	ParticipantID      *string   `json:"participantId"`
	Participant        *ref      `json:"participant"`
	CompetencyID       string    `json:"competencyId"`
	Competency         *ref      `json:"competency"`
	TranscriptVersion  int       `json:"transcriptVersion"`
	Score              float64   `json:"score"`
	Level              string    `json:"level"`
	Rationale          string    `json:"rationale"`
	Evidence           []string  `json:"evidence"`
	EvidenceStrength   string    `json:"evidenceStrength"`
	CountTowardOverall bool      `json:"countTowardOverall"`
	CreatedAt          time.Time `json:"createdAt"`
}

type fetchResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Evaluations []wireRecord `json:"evaluations"`
		Metadata    struct {
			PolledAt time.Time `json:"polledAt"`
			HasMore  bool      `json:"hasMore"`
		} `json:"metadata"`
	} `json:"data"`
}

// Fetch implements poller.Fetcher. Records that fail validation are dropped and logged.
func (c *Client) Fetch(ctx context.Context, q poller.Query) (poller.Page, error) {
	params := url.Values{}
	params.Set("sessionId", q.SessionID)
	if q.Since != nil {
		params.Set("since", q.Since.UTC().Format(time.RFC3339Nano))
	}
	if q.ParticipantID != "" {
		params.Set("participantId", q.ParticipantID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.EvaluationsPath+"?"+params.Encode(), nil)
	if err != nil {
		return poller.Page{}, err
	}
	httpReq.Header.Set("Accept", "application/json")

	var out fetchResp
	if err := c.do(httpReq, "fetch", &out); err != nil {
		return poller.Page{}, err
	}
	if !out.Success {
		return poller.Page{}, &StatusError{Op: "fetch", StatusCode: http.StatusOK, Message: out.Error}
	}

	page := poller.Page{
		Records:  make([]models.EvaluationRecord, 0, len(out.Data.Evaluations)),
		HasMore:  out.Data.Metadata.HasMore,
		PolledAt: out.Data.Metadata.PolledAt,
	}
	for _, w := range out.Data.Evaluations {
		r := w.toRecord(q.SessionID)
		if err := c.validator.ValidateRecord(r); err != nil {
			c.log.Warn().Err(err).Str("recordId", r.ID).Msg("Dropping invalid evaluation record")
			continue
		}
		page.Records = append(page.Records, r)
	}
	return page, nil
}

func (w wireRecord) toRecord(sessionID string) models.EvaluationRecord {
	r := models.EvaluationRecord{
		ID:                 w.ID,
		SessionID:          sessionID,
		ParticipantID:      w.ParticipantID,
		CompetencyID:       w.CompetencyID,
		TranscriptVersion:  w.TranscriptVersion,
		Score:              w.Score,
		Level:              models.Level(w.Level),
		Rationale:          w.Rationale,
		Evidence:           w.Evidence,
		EvidenceStrength:   models.EvidenceStrength(strings.ToLower(w.EvidenceStrength)),
		CountTowardOverall: w.CountTowardOverall,
		CreatedAt:          w.CreatedAt,
	}
	if r.ParticipantID == nil && w.Participant != nil && w.Participant.ID != "" {
		id := w.Participant.ID
		r.ParticipantID = &id
	}
	if r.CompetencyID == "" && w.Competency != nil {
		r.CompetencyID = w.Competency.ID
	}
	return r
}

// do executes req, maps non-2xx to *StatusError and decodes the JSON body into out.
func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.c.Do(req)
	if err != nil {
		return fmt.Errorf("evaluator %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(body))
		var env struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &env) == nil && env.Error != "" {
			msg = env.Error
		}
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("evaluator %s: decode response: %w", op, err)
	}
	return nil
}
