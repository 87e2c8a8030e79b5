package segment

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"case-study-live-eval/internal/models"
)

// ErrInvalidToken is returned by Ingest for tokens with bad timing or speaker fields.
var ErrInvalidToken = errors.New("invalid speech token")

// Outcome reports what Ingest did with a token.
type Outcome int

const (
	// Skipped - empty or control token, nothing recorded.
	Skipped Outcome = iota
	// Appended - token extended the open segment.
	Appended
	// Opened - speaker changed (or first token), a new segment was started.
	Opened
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "SKIPPED"
	case Appended:
		return "APPENDED"
	case Opened:
		return "OPENED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(o))
	}
}

// Accumulator builds the ordered, append-only list of speaker segments for a session.
// Thread-safe: tokens arrive on the transcription goroutine while dispatch reads snapshots.
//
// A new segment begins exactly when the speaker id differs from the open segment's.
// Segment text is the direct concatenation of token texts.
type Accumulator struct {
	mu        sync.RWMutex
	sessionID string
	ids       *Generator
	segments  []models.SpeakerSegment
	builder   strings.Builder // text of the open (last) segment
	tokens    int
}

// NewAccumulator creates an empty accumulator. ids may be shared between sessions.
func NewAccumulator(sessionID string, ids *Generator) *Accumulator {
	if ids == nil {
		ids = New()
	}
	return &Accumulator{sessionID: sessionID, ids: ids}
}

// Ingest adds one finalized token. Tokens must arrive in chronological order.
func (a *Accumulator) Ingest(tok models.SpeechToken) (Outcome, error) {
	if strings.TrimSpace(tok.Text) == "" || tok.IsControl() {
		return Skipped, nil
	}
	if err := tok.Validate(); err != nil {
		return Skipped, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.tokens++
	if n := len(a.segments); n > 0 && a.segments[n-1].SpeakerID == tok.SpeakerID {
		open := &a.segments[n-1]
		a.builder.WriteString(tok.Text)
		open.Text = a.builder.String()
		open.EndMs = tok.EndMs
		open.Tokens = append(open.Tokens, tok)
		return Appended, nil
	}

	a.builder.Reset()
	a.builder.WriteString(tok.Text)
	a.segments = append(a.segments, models.SpeakerSegment{
		ID:        a.ids.Next(a.sessionID),
		SpeakerID: tok.SpeakerID,
		Text:      a.builder.String(),
		StartMs:   tok.StartMs,
		EndMs:     tok.EndMs,
		Tokens:    []models.SpeechToken{tok},
	})
	return Opened, nil
}

// Snapshot returns a deep copy of all segments in chronological order.
func (a *Accumulator) Snapshot() []models.SpeakerSegment {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.SpeakerSegment, len(a.segments))
	for i, s := range a.segments {
		out[i] = s.Clone()
	}
	return out
}

// Len returns the number of segments.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.segments)
}

// TokenCount returns the number of tokens recorded (skipped tokens excluded).
func (a *Accumulator) TokenCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tokens
}

// Span returns the first start and last end across all segments.
func (a *Accumulator) Span() (startMs, endMs int64, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.segments) == 0 {
		return 0, 0, false
	}
	return a.segments[0].StartMs, a.segments[len(a.segments)-1].EndMs, true
}
