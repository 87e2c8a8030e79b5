// Package transcript renders speaker segments into the consolidated full-session transcript.
package transcript

import (
	"errors"
	"strings"

	"github.com/cespare/xxhash/v2"

	"case-study-live-eval/internal/models"
)

// ErrNoSegments is returned when there is nothing to consolidate. Empty versions are never produced.
var ErrNoSegments = errors.New("no segments to consolidate")

// Consolidated is the rendered transcript plus the metadata sent with a dispatch.
type Consolidated struct {
	FullTranscript       string
	SpeakerMapping       models.IdentitySnapshot
	TotalDurationSeconds float64
	SegmentCount         int
	ContentHash          uint64
}

// Consolidate renders one "[name]: text" line per segment, joined with "\n".
// Output is a pure function of its inputs.
func Consolidate(segments []models.SpeakerSegment, identities models.IdentitySnapshot) (Consolidated, error) {
	if len(segments) == 0 {
		return Consolidated{}, ErrNoSegments
	}

	full := Render(segments, identities)
	return Consolidated{
		FullTranscript:       full,
		SpeakerMapping:       identities.Clone(),
		TotalDurationSeconds: Duration(segments, 0),
		SegmentCount:         len(segments),
		ContentHash:          xxhash.Sum64String(full),
	}, nil
}

// Render formats segments without any emptiness check.
func Render(segments []models.SpeakerSegment, identities models.IdentitySnapshot) string {
	var b strings.Builder
	for i, s := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteByte('[')
		b.WriteString(identities.Resolve(s.SpeakerID))
		b.WriteString("]: ")
		b.WriteString(s.Text)
	}
	return b.String()
}

// Duration is (last end - first start) in seconds, or fallbackSeconds when there are no segments.
func Duration(segments []models.SpeakerSegment, fallbackSeconds float64) float64 {
	if len(segments) == 0 {
		return fallbackSeconds
	}
	ms := segments[len(segments)-1].EndMs - segments[0].StartMs
	if ms < 0 {
		ms = 0
	}
	return float64(ms) / 1000
}
