package models

// Event types published on the message bus.
const (
	EventTranscriptVersion = "casestudy.transcript.version"
	EventEvaluationSummary = "casestudy.evaluation.summary"
)

// ConnectionState is the transcription connection status surfaced to callers.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionError        ConnectionState = "error"
)

// TranscriptVersionEvent announces a newly accepted transcript version.
type TranscriptVersionEvent struct {
	EventType            string           `json:"eventType"`
	SessionID            string           `json:"sessionId"`
	Version              int              `json:"version"`
	FullTranscript       string           `json:"fullTranscript"`
	SpeakerMapping       IdentitySnapshot `json:"speakerMapping"`
	TotalDurationSeconds float64          `json:"totalDurationSeconds"`
	SegmentCount         int              `json:"segmentCount"`
	Trigger              string           `json:"trigger"`
	Timestamp            int64            `json:"timestamp"`
}

// EvaluationSummaryEvent carries the current derived summaries for a session.
type EvaluationSummaryEvent struct {
	EventType  string                         `json:"eventType"`
	SessionID  string                         `json:"sessionId"`
	Summaries  []ParticipantCompetencySummary `json:"summaries"`
	Overview   []CompetencyOverview           `json:"overview"`
	NewRecords int                            `json:"newRecords"`
	Timestamp  int64                          `json:"timestamp"`
}
