package models

import (
	"fmt"
	"strings"
	"time"
)

// EvidenceStrength grades how well the quotes support a score.
type EvidenceStrength string

const (
	EvidenceInsufficient EvidenceStrength = "insufficient"
	EvidenceWeak         EvidenceStrength = "weak"
	EvidenceModerate     EvidenceStrength = "moderate"
	EvidenceStrong       EvidenceStrength = "strong"
)

// Rank orders strengths: strong > moderate > weak > insufficient. Unknown values rank lowest.
func (e EvidenceStrength) Rank() int {
	switch e {
	case EvidenceStrong:
		return 3
	case EvidenceModerate:
		return 2
	case EvidenceWeak:
		return 1
	case EvidenceInsufficient:
		return 0
	default:
		return -1
	}
}

// ParseEvidenceStrength parses a strength name case-insensitively.
func ParseEvidenceStrength(s string) (EvidenceStrength, error) {
	e := EvidenceStrength(strings.ToLower(strings.TrimSpace(s)))
	if e.Rank() < 0 {
		return "", fmt.Errorf("unknown evidence strength %q", s)
	}
	return e, nil
}

// Level is the evaluator's qualitative band for a score.
type Level string

const (
	LevelNeedsImprovement    Level = "needs_improvement"
	LevelMeetsRequirements   Level = "meets_requirements"
	LevelExceedsRequirements Level = "exceeds_requirements"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelNeedsImprovement, LevelMeetsRequirements, LevelExceedsRequirements:
		return true
	}
	return false
}

// Trend describes the direction of the latest score against earlier ones.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// Score bounds used by the evaluator.
const (
	MinScore = 0.0
	MaxScore = 5.0
)

// EvaluationRecord is one evaluator judgment for a participant and competency
// against a specific transcript version.
type EvaluationRecord struct {
	ID                 string           `json:"id"`
	SessionID          string           `json:"sessionId"`
	ParticipantID      *string          `json:"participantId"`
	CompetencyID       string           `json:"competencyId"`
	TranscriptVersion  int              `json:"transcriptVersion"`
	Score              float64          `json:"score"`
	Level              Level            `json:"level"`
	Rationale          string           `json:"rationale"`
	Evidence           []string         `json:"evidence"`
	EvidenceStrength   EvidenceStrength `json:"evidenceStrength"`
	CountTowardOverall bool             `json:"countTowardOverall"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// Participant returns the participant id or "" for unattributed records.
func (r EvaluationRecord) Participant() string {
	if r.ParticipantID == nil {
		return ""
	}
	return *r.ParticipantID
}

// ScorePoint is one entry of a participant's score history.
type ScorePoint struct {
	Version          int              `json:"version"`
	Score            float64          `json:"score"`
	EvidenceStrength EvidenceStrength `json:"evidenceStrength"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// ParticipantCompetencySummary is the derived view for one participant and competency.
type ParticipantCompetencySummary struct {
	ParticipantID       string       `json:"participantId"`
	CompetencyID        string       `json:"competencyId"`
	CompetencyName      string       `json:"competencyName"`
	History             []ScorePoint `json:"history"`
	AverageScore        float64      `json:"averageScore"`
	LatestScore         float64      `json:"latestScore"`
	EvidenceCount       int          `json:"evidenceCount"`
	StrongEvidenceCount int          `json:"strongEvidenceCount"`
	Trend               Trend        `json:"trend"`
	LastUpdated         time.Time    `json:"lastUpdated"`
}

// CompetencyOverview aggregates one competency across all participants.
type CompetencyOverview struct {
	CompetencyID     string    `json:"competencyId"`
	CompetencyName   string    `json:"competencyName"`
	AverageScore     float64   `json:"averageScore"`
	Participants     int       `json:"participants"`
	TotalEvaluations int       `json:"totalEvaluations"`
	EvidenceCount    int       `json:"evidenceCount"`
	LastUpdated      time.Time `json:"lastUpdated"`
}
