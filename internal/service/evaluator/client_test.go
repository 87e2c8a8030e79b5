package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/schema"
	"case-study-live-eval/internal/service/dispatch"
	"case-study-live-eval/internal/service/poller"
)

func TestClient_DispatchSendsPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/case-study/consolidated-transcript", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"tv-7","version":7}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"}, nil)
	ts := time.UnixMilli(1760000000123)
	resp, err := c.Dispatch(context.Background(), dispatch.Request{
		SessionID:            "sess-1",
		FullTranscript:       "[An]: xin chào",
		SpeakerMapping:       models.IdentitySnapshot{0: "An"},
		TotalDurationSeconds: 2.5,
		Timestamp:            ts,
	})
	require.NoError(t, err)

	assert.Equal(t, dispatch.Response{ID: "tv-7", Version: 7}, resp)
	assert.Equal(t, "sess-1", got["sessionId"])
	assert.Equal(t, "[An]: xin chào", got["fullTranscript"])
	assert.Equal(t, map[string]any{"0": "An"}, got["speakerMapping"])
	assert.Equal(t, 2.5, got["totalDurationSeconds"])
	assert.Equal(t, float64(1760000000123), got["timestamp"])
}

func TestClient_DispatchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"server error envelope", http.StatusInternalServerError, `{"success":false,"error":"Database error"}`, "Database error"},
		{"plain text", http.StatusBadGateway, "upstream down", "upstream down"},
		{"success false", http.StatusOK, `{"success":false,"error":"Session is not in case study phase"}`, "Session is not in case study phase"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}, nil).Dispatch(context.Background(), dispatch.Request{
				SessionID: "sess-1", FullTranscript: "[A]: x",
			})
			var se *StatusError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.message, se.Message)
		})
	}
}

func TestClient_DispatchValidatesBeforeSending(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}, nil).Dispatch(context.Background(), dispatch.Request{SessionID: "sess-1"})
	assert.ErrorIs(t, err, schema.ErrInvalid)
	assert.False(t, called)
}

func TestClient_FetchDecodesRecords(t *testing.T) {
	since := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/case-study/evaluations", r.URL.Path)
		assert.Equal(t, "sess-1", r.URL.Query().Get("sessionId"))
		assert.Equal(t, since.Format(time.RFC3339Nano), r.URL.Query().Get("since"))
		_, _ = w.Write([]byte(`{
			"success": true,
			"data": {
				"evaluations": [
					{"id":"e1","participant":{"id":"p1"},"competency":{"id":"innovation"},"transcriptVersion":2,
					 "score":4,"level":"meets_requirements","evidence":["a","b"],"evidenceStrength":"Strong",
					 "countTowardOverall":true,"createdAt":"2026-05-04T10:00:05Z"},
					{"id":"e2","participantId":null,"competencyId":"risk_balance","transcriptVersion":2,
					 "score":2,"evidenceStrength":"weak","countTowardOverall":true,"createdAt":"2026-05-04T10:00:06Z"},
					{"id":"bad","competencyId":"innovation","transcriptVersion":2,"score":11,"createdAt":"2026-05-04T10:00:07Z"}
				],
				"metadata": {"polledAt":"2026-05-04T10:01:00Z","hasMore":true}
			}
		}`))
	}))
	defer srv.Close()

	page, err := New(Config{BaseURL: srv.URL}, nil).Fetch(context.Background(), poller.Query{SessionID: "sess-1", Since: &since})
	require.NoError(t, err)

	require.Len(t, page.Records, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 1, 0, 0, time.UTC), page.PolledAt)

	first := page.Records[0]
	assert.Equal(t, "p1", first.Participant())
	assert.Equal(t, "innovation", first.CompetencyID)
	assert.Equal(t, models.EvidenceStrong, first.EvidenceStrength)
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Len(t, first.Evidence, 2)

	assert.Nil(t, page.Records[1].ParticipantID)
}

func TestClient_FetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url, Timeout: time.Second}, nil).Fetch(context.Background(), poller.Query{SessionID: "sess-1"})
	assert.Error(t, err)
}

func TestLoopback_NumbersPerSession(t *testing.T) {
	l := NewLoopback()
	req := dispatch.Request{SessionID: "a", FullTranscript: "[A]: x"}

	r1, err := l.Dispatch(context.Background(), req)
	require.NoError(t, err)
	r2, err := l.Dispatch(context.Background(), req)
	require.NoError(t, err)
	other, err := l.Dispatch(context.Background(), dispatch.Request{SessionID: "b", FullTranscript: "[B]: y"})
	require.NoError(t, err)

	assert.Equal(t, 1, r1.Version)
	assert.Equal(t, 2, r2.Version)
	assert.Equal(t, 1, other.Version)
	assert.Len(t, l.Received("a"), 2)

	_, err = l.Dispatch(context.Background(), dispatch.Request{SessionID: "a"})
	assert.ErrorIs(t, err, schema.ErrInvalid)
}
