package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/service/poller"
)

// ErrDuplicateRecord is returned when a (session, participant, competency, version) result already exists.
var ErrDuplicateRecord = errors.New("evaluation record already exists")

type recordKey struct {
	session     string
	participant string
	competency  string
	version     int
}

func keyOf(r models.EvaluationRecord) recordKey {
	return recordKey{r.SessionID, r.Participant(), r.CompetencyID, r.TranscriptVersion}
}

// Store is an append-only in-memory result store ordered by CreatedAt.
// Assigned timestamps are strictly increasing so a timestamp cursor never skips records.
type Store struct {
	mu       sync.RWMutex
	records  []models.EvaluationRecord
	keys     map[recordKey]struct{}
	now      func() time.Time
	pageSize int
}

// NewStore creates an empty store. pageSize bounds Fetch responses; zero means unbounded.
func NewStore(pageSize int) *Store {
	return &Store{
		keys:     make(map[recordKey]struct{}),
		now:      time.Now,
		pageSize: pageSize,
	}
}

// Append adds a record, assigning an id when missing. CreatedAt is always
// stamped by the store so the log stays ordered by insertion.
func (s *Store) Append(r models.EvaluationRecord) (models.EvaluationRecord, error) {
	if r.SessionID == "" {
		return models.EvaluationRecord{}, fmt.Errorf("evaluation record without session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(r)
	if _, ok := s.keys[k]; ok {
		return models.EvaluationRecord{}, fmt.Errorf("%w: participant=%q competency=%q version=%d",
			ErrDuplicateRecord, k.participant, k.competency, k.version)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	// A caller-supplied time is ignored: a record dated behind a poller's cursor would never be seen.
	r.CreatedAt = s.now().UTC()
	if n := len(s.records); n > 0 && !r.CreatedAt.After(s.records[n-1].CreatedAt) {
		r.CreatedAt = s.records[n-1].CreatedAt.Add(time.Microsecond)
	}
	r.Evidence = append([]string(nil), r.Evidence...)

	s.keys[k] = struct{}{}
	s.records = append(s.records, r)
	return r, nil
}

// Since returns records for sessionID created strictly after cursor (all when nil),
// optionally filtered to one participant, at most limit of them (zero means no limit).
func (s *Store) Since(sessionID string, cursor *time.Time, participantID string, limit int) ([]models.EvaluationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.EvaluationRecord
	for _, r := range s.records {
		if r.SessionID != sessionID {
			continue
		}
		if cursor != nil && !r.CreatedAt.After(*cursor) {
			continue
		}
		if participantID != "" && r.Participant() != participantID {
			continue
		}
		if limit > 0 && len(out) == limit {
			return out, true
		}
		out = append(out, r)
	}
	return out, false
}

// Fetch implements poller.Fetcher for in-process polling.
func (s *Store) Fetch(_ context.Context, q poller.Query) (poller.Page, error) {
	records, more := s.Since(q.SessionID, q.Since, q.ParticipantID, s.pageSize)
	return poller.Page{Records: records, HasMore: more, PolledAt: s.now().UTC()}, nil
}

// Len returns the total number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
