package evaluator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"case-study-live-eval/internal/schema"
	"case-study-live-eval/internal/service/dispatch"
)

// Loopback accepts transcripts in-process and numbers versions per session.
// It is used when no evaluator URL is configured; scoring results then arrive
// through the result ingest endpoint instead.
type Loopback struct {
	mu        sync.Mutex
	versions  map[string]int
	validator *schema.Validator
	received  map[string][]dispatch.Request
}

func NewLoopback() *Loopback {
	return &Loopback{
		versions:  make(map[string]int),
		validator: schema.New(),
		received:  make(map[string][]dispatch.Request),
	}
}

// Dispatch implements dispatch.Evaluator.
func (l *Loopback) Dispatch(_ context.Context, req dispatch.Request) (dispatch.Response, error) {
	if err := l.validator.ValidateSubmission(req.SessionID, req.FullTranscript, req.TotalDurationSeconds); err != nil {
		return dispatch.Response{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.versions[req.SessionID]++
	l.received[req.SessionID] = append(l.received[req.SessionID], req)
	return dispatch.Response{ID: uuid.NewString(), Version: l.versions[req.SessionID]}, nil
}

// Received returns the submissions seen for sessionID.
func (l *Loopback) Received(sessionID string) []dispatch.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]dispatch.Request(nil), l.received[sessionID]...)
}
