package evaluation

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"case-study-live-eval/internal/models"
)

// TrendMargin is the absolute score difference (1-5 scale) required to call a trend.
const TrendMargin = 0.5

type summaryKey struct {
	participant string
	competency  string
}

// Aggregator folds evaluation records into per-participant competency summaries.
// Add is idempotent per record id, so overlapping polls are harmless.
type Aggregator struct {
	mu           sync.RWMutex
	catalog      *Catalog
	seen         map[string]struct{}
	byKey        map[summaryKey][]models.EvaluationRecord
	unattributed int
}

// NewAggregator creates an empty aggregator. A nil catalog uses DefaultCatalog.
func NewAggregator(catalog *Catalog) *Aggregator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Aggregator{
		catalog: catalog,
		seen:    make(map[string]struct{}),
		byKey:   make(map[summaryKey][]models.EvaluationRecord),
	}
}

func dedupeID(r models.EvaluationRecord) string {
	if r.ID != "" {
		return r.ID
	}
	return fmt.Sprintf("%s|%s|%s|%d", r.SessionID, r.Participant(), r.CompetencyID, r.TranscriptVersion)
}

// Add ingests records and returns how many were new.
func (a *Aggregator) Add(records ...models.EvaluationRecord) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	added := 0
	for _, r := range records {
		id := dedupeID(r)
		if _, dup := a.seen[id]; dup {
			continue
		}
		a.seen[id] = struct{}{}
		added++

		if r.ParticipantID == nil {
			a.unattributed++
			continue
		}
		k := summaryKey{*r.ParticipantID, r.CompetencyID}
		a.byKey[k] = append(a.byKey[k], r)
	}
	return added
}

// Unattributed returns the number of records that named no participant.
func (a *Aggregator) Unattributed() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.unattributed
}

// Summaries returns one summary per (participant, competency) with at least one
// countable record, ordered by participant then catalog order.
func (a *Aggregator) Summaries() []models.ParticipantCompetencySummary {
	return a.summaries("")
}

// SummariesFor limits Summaries to one participant.
func (a *Aggregator) SummariesFor(participantID string) []models.ParticipantCompetencySummary {
	return a.summaries(participantID)
}

func (a *Aggregator) summaries(participantID string) []models.ParticipantCompetencySummary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.ParticipantCompetencySummary, 0, len(a.byKey))
	for k, records := range a.byKey {
		if participantID != "" && k.participant != participantID {
			continue
		}
		s, ok := Summarize(k.participant, k.competency, records)
		if !ok {
			continue
		}
		s.CompetencyName = a.catalog.Name(k.competency)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParticipantID != out[j].ParticipantID {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		oi, oj := a.catalog.Order(out[i].CompetencyID), a.catalog.Order(out[j].CompetencyID)
		if oi != oj {
			return oi < oj
		}
		return out[i].CompetencyID < out[j].CompetencyID
	})
	return out
}

// Overview aggregates each competency across participants: the mean of participant
// averages (rounded to one decimal), total countable evaluations and quotes.
func (a *Aggregator) Overview() []models.CompetencyOverview {
	summaries := a.Summaries()

	byComp := make(map[string]*models.CompetencyOverview)
	averages := make(map[string][]float64)
	for _, s := range summaries {
		o, ok := byComp[s.CompetencyID]
		if !ok {
			o = &models.CompetencyOverview{CompetencyID: s.CompetencyID, CompetencyName: s.CompetencyName}
			byComp[s.CompetencyID] = o
		}
		o.Participants++
		o.TotalEvaluations += len(s.History)
		o.EvidenceCount += s.EvidenceCount
		if s.LastUpdated.After(o.LastUpdated) {
			o.LastUpdated = s.LastUpdated
		}
		averages[s.CompetencyID] = append(averages[s.CompetencyID], s.AverageScore)
	}

	out := make([]models.CompetencyOverview, 0, len(byComp))
	for id, o := range byComp {
		o.AverageScore = roundTenth(stat.Mean(averages[id], nil))
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := a.catalog.Order(out[i].CompetencyID), a.catalog.Order(out[j].CompetencyID)
		if oi != oj {
			return oi < oj
		}
		return out[i].CompetencyID < out[j].CompetencyID
	})
	return out
}

// Summarize derives the summary for one participant and competency from its records.
// Only CountTowardOverall records participate. ok is false when none do.
func Summarize(participantID, competencyID string, records []models.EvaluationRecord) (models.ParticipantCompetencySummary, bool) {
	countable := make([]models.EvaluationRecord, 0, len(records))
	for _, r := range records {
		if r.CountTowardOverall {
			countable = append(countable, r)
		}
	}
	if len(countable) == 0 {
		return models.ParticipantCompetencySummary{}, false
	}
	slices.SortStableFunc(countable, func(a, b models.EvaluationRecord) int {
		return a.TranscriptVersion - b.TranscriptVersion
	})

	s := models.ParticipantCompetencySummary{
		ParticipantID: participantID,
		CompetencyID:  competencyID,
		History:       make([]models.ScorePoint, 0, len(countable)),
	}
	scores := make([]float64, 0, len(countable))
	var lastUpdated time.Time
	for _, r := range countable {
		s.History = append(s.History, models.ScorePoint{
			Version:          r.TranscriptVersion,
			Score:            r.Score,
			EvidenceStrength: r.EvidenceStrength,
			CreatedAt:        r.CreatedAt,
		})
		scores = append(scores, r.Score)
		s.EvidenceCount += len(r.Evidence)
		if r.EvidenceStrength == models.EvidenceStrong {
			s.StrongEvidenceCount += len(r.Evidence)
		}
		if r.CreatedAt.After(lastUpdated) {
			lastUpdated = r.CreatedAt
		}
	}

	s.AverageScore = stat.Mean(scores, nil)
	s.LatestScore = scores[len(scores)-1]
	s.Trend = ComputeTrend(scores)
	s.LastUpdated = lastUpdated
	return s, true
}

// ComputeTrend compares the latest score with the mean of all earlier scores.
// A difference of exactly TrendMargin counts as a trend.
// Fewer than two scores is stable.
func ComputeTrend(scores []float64) models.Trend {
	if len(scores) < 2 {
		return models.TrendStable
	}
	latest := scores[len(scores)-1]
	prior := stat.Mean(scores[:len(scores)-1], nil)
	switch {
	case latest >= prior+TrendMargin:
		return models.TrendImproving
	case latest <= prior-TrendMargin:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
