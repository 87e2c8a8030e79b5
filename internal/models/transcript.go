// Package models defines the data structures shared across the live evaluation pipeline.
package models

import (
	"fmt"
	"time"
)

// Control markers emitted by some transcription providers between utterances.
const (
	ControlStart = "<start>"
	ControlEnd   = "<end>"
)

// SpeechToken is one finalized unit of recognized speech.
// Text carries its own leading/trailing whitespace.
type SpeechToken struct {
	SpeakerID int    `json:"speakerId"`
	Text      string `json:"text"`
	StartMs   int64  `json:"startMs"`
	EndMs     int64  `json:"endMs"`
}

// IsControl reports whether the token is a provider control marker rather than speech.
func (t SpeechToken) IsControl() bool {
	return t.Text == ControlStart || t.Text == ControlEnd
}

// Validate checks the token's timing and speaker fields.
func (t SpeechToken) Validate() error {
	if t.SpeakerID < 0 {
		return fmt.Errorf("invalid speaker id %d", t.SpeakerID)
	}
	if t.StartMs < 0 || t.EndMs < t.StartMs {
		return fmt.Errorf("invalid token span [%d, %d]", t.StartMs, t.EndMs)
	}
	return nil
}

// SpeakerSegment is a maximal run of consecutive tokens from one speaker.
type SpeakerSegment struct {
	ID        string        `json:"id"`
	SpeakerID int           `json:"speakerId"`
	Text      string        `json:"text"`
	StartMs   int64         `json:"startMs"`
	EndMs     int64         `json:"endMs"`
	Tokens    []SpeechToken `json:"-"`
}

// Clone returns a deep copy of the segment.
func (s SpeakerSegment) Clone() SpeakerSegment {
	out := s
	out.Tokens = append([]SpeechToken(nil), s.Tokens...)
	return out
}

// IdentitySnapshot maps diarization speaker ids to display names.
type IdentitySnapshot map[int]string

// FallbackSpeakerName is the label used for speaker ids with no mapped name.
func FallbackSpeakerName(speakerID int) string {
	return fmt.Sprintf("Speaker %d", speakerID)
}

// Resolve returns the mapped name for speakerID or the fallback label.
func (s IdentitySnapshot) Resolve(speakerID int) string {
	if name, ok := s[speakerID]; ok && name != "" {
		return name
	}
	return FallbackSpeakerName(speakerID)
}

// Clone returns an independent copy of the snapshot.
func (s IdentitySnapshot) Clone() IdentitySnapshot {
	out := make(IdentitySnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// TranscriptVersion is an immutable consolidated transcript that was accepted by the evaluator.
type TranscriptVersion struct {
	SessionID            string           `json:"sessionId"`
	Version              int              `json:"version"`
	EvaluatorRef         string           `json:"evaluatorRef,omitempty"`
	FullTranscript       string           `json:"fullTranscript"`
	SpeakerMapping       IdentitySnapshot `json:"speakerMapping"`
	TotalDurationSeconds float64          `json:"totalDurationSeconds"`
	SegmentCount         int              `json:"segmentCount"`
	ContentHash          uint64           `json:"contentHash"`
	Trigger              string           `json:"trigger"`
	CreatedAt            time.Time        `json:"createdAt"`
}

// Clone returns a copy that shares no mutable state with v.
func (v TranscriptVersion) Clone() TranscriptVersion {
	out := v
	out.SpeakerMapping = v.SpeakerMapping.Clone()
	return out
}
