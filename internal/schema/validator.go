// Package schema validates payloads exchanged with the evaluation service.
package schema

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"case-study-live-eval/internal/models"
)

// FieldError describes one invalid field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid payload")

// Validator checks outgoing transcript submissions and incoming evaluation records.
type Validator struct {
	competencies map[string]bool
}

// New creates a validator. When competencyIDs is non-empty, records must name one of them.
func New(competencyIDs ...string) *Validator {
	v := &Validator{}
	if len(competencyIDs) > 0 {
		v.competencies = make(map[string]bool, len(competencyIDs))
		for _, id := range competencyIDs {
			v.competencies[id] = true
		}
	}
	return v
}

// ValidateSubmission checks a consolidated transcript before it is sent.
func (v *Validator) ValidateSubmission(sessionID, fullTranscript string, durationSeconds float64) error {
	var errs []error
	if strings.TrimSpace(sessionID) == "" {
		errs = append(errs, &FieldError{"sessionId", "required"})
	}
	if strings.TrimSpace(fullTranscript) == "" {
		errs = append(errs, &FieldError{"fullTranscript", "must not be empty"})
	}
	if durationSeconds < 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		errs = append(errs, &FieldError{"totalDurationSeconds", "must be a non-negative number"})
	}
	return wrap(errs)
}

// ValidateRecord checks an evaluation record received from the result store.
func (v *Validator) ValidateRecord(r models.EvaluationRecord) error {
	var errs []error
	if r.SessionID == "" {
		errs = append(errs, &FieldError{"sessionId", "required"})
	}
	if r.CompetencyID == "" {
		errs = append(errs, &FieldError{"competencyId", "required"})
	} else if v.competencies != nil && !v.competencies[r.CompetencyID] {
		errs = append(errs, &FieldError{"competencyId", fmt.Sprintf("unknown competency %q", r.CompetencyID)})
	}
	if r.TranscriptVersion < 1 {
		errs = append(errs, &FieldError{"transcriptVersion", "must be positive"})
	}
	if r.Score < models.MinScore || r.Score > models.MaxScore || math.IsNaN(r.Score) {
		errs = append(errs, &FieldError{"score", fmt.Sprintf("must be within [%g, %g]", models.MinScore, models.MaxScore)})
	}
	if r.Level != "" && !r.Level.Valid() {
		errs = append(errs, &FieldError{"level", fmt.Sprintf("unknown level %q", r.Level)})
	}
	if r.EvidenceStrength != "" && r.EvidenceStrength.Rank() < 0 {
		errs = append(errs, &FieldError{"evidenceStrength", fmt.Sprintf("unknown strength %q", r.EvidenceStrength)})
	}
	if r.ParticipantID != nil && *r.ParticipantID == "" {
		errs = append(errs, &FieldError{"participantId", "must be null or non-empty"})
	}
	return wrap(errs)
}

func wrap(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
