package schema

import (
	"errors"
	"math"
	"testing"

	"case-study-live-eval/internal/models"
)

func validRecord() models.EvaluationRecord {
	p := "p1"
	return models.EvaluationRecord{
		SessionID:         "sess-1",
		ParticipantID:     &p,
		CompetencyID:      "innovation",
		TranscriptVersion: 1,
		Score:             3,
		Level:             models.LevelMeetsRequirements,
		EvidenceStrength:  models.EvidenceStrong,
	}
}

func TestValidateSubmission(t *testing.T) {
	v := New()

	tests := []struct {
		name       string
		session    string
		transcript string
		duration   float64
		wantField  string
	}{
		{"valid", "sess-1", "[An]: xin chào", 12.5, ""},
		{"missing session", " ", "[An]: x", 1, "sessionId"},
		{"empty transcript", "sess-1", "", 1, "fullTranscript"},
		{"negative duration", "sess-1", "[An]: x", -1, "totalDurationSeconds"},
		{"nan duration", "sess-1", "[An]: x", math.NaN(), "totalDurationSeconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateSubmission(tt.session, tt.transcript, tt.duration)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			assertField(t, err, tt.wantField)
		})
	}
}

func TestValidateRecord(t *testing.T) {
	v := New("innovation", "risk_balance")

	tests := []struct {
		name      string
		mutate    func(*models.EvaluationRecord)
		wantField string
	}{
		{"valid", func(*models.EvaluationRecord) {}, ""},
		{"unattributed is valid", func(r *models.EvaluationRecord) { r.ParticipantID = nil }, ""},
		{"empty participant", func(r *models.EvaluationRecord) { e := ""; r.ParticipantID = &e }, "participantId"},
		{"unknown competency", func(r *models.EvaluationRecord) { r.CompetencyID = "charisma" }, "competencyId"},
		{"score too high", func(r *models.EvaluationRecord) { r.Score = 7 }, "score"},
		{"zero version", func(r *models.EvaluationRecord) { r.TranscriptVersion = 0 }, "transcriptVersion"},
		{"bad level", func(r *models.EvaluationRecord) { r.Level = "excellent" }, "level"},
		{"bad strength", func(r *models.EvaluationRecord) { r.EvidenceStrength = "overwhelming" }, "evidenceStrength"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(&r)
			err := v.ValidateRecord(r)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			assertField(t, err, tt.wantField)
		})
	}
}

func assertField(t *testing.T, err error, field string) {
	t.Helper()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("expected a FieldError in %v", err)
	}
	if fe.Field != field {
		t.Errorf("expected field %q, got %q", field, fe.Field)
	}
}
