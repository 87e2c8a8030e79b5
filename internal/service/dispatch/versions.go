package dispatch

import (
	"fmt"
	"sync"

	"case-study-live-eval/internal/models"
)

// VersionLog is the append-only history of accepted transcript versions for one session.
type VersionLog struct {
	mu       sync.RWMutex
	versions []models.TranscriptVersion
}

func NewVersionLog() *VersionLog {
	return &VersionLog{}
}

// Append records v. A zero version number is assigned the next local number;
// any other number must be strictly greater than the last accepted one.
func (l *VersionLog) Append(v models.TranscriptVersion) (models.TranscriptVersion, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last := 0
	if n := len(l.versions); n > 0 {
		last = l.versions[n-1].Version
	}
	if v.Version == 0 {
		v.Version = last + 1
	}
	if v.Version <= last {
		return models.TranscriptVersion{}, fmt.Errorf("%w: got %d after %d", ErrVersionNotIncreasing, v.Version, last)
	}

	v = v.Clone()
	l.versions = append(l.versions, v)
	return v.Clone(), nil
}

// Latest returns the most recent version.
func (l *VersionLog) Latest() (models.TranscriptVersion, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.versions) == 0 {
		return models.TranscriptVersion{}, false
	}
	return l.versions[len(l.versions)-1].Clone(), true
}

// All returns copies of every accepted version in order.
func (l *VersionLog) All() []models.TranscriptVersion {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.TranscriptVersion, len(l.versions))
	for i, v := range l.versions {
		out[i] = v.Clone()
	}
	return out
}

// Len returns the number of accepted versions.
func (l *VersionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.versions)
}
