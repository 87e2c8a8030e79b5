// Package identity maps diarization speaker ids to human participant names.
package identity

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"case-study-live-eval/internal/models"
)

// ErrEmptyName is returned when a correction carries no name.
var ErrEmptyName = errors.New("speaker name must not be empty")

// Map holds the current speaker-to-name assignments for one session.
// Corrections overwrite unconditionally (last write wins). Readers take copies.
type Map struct {
	mu       sync.RWMutex
	names    map[int]string
	detected map[int]struct{}
}

func New() *Map {
	return &Map{
		names:    make(map[int]string),
		detected: make(map[int]struct{}),
	}
}

// Resolve returns the mapped name or "Speaker {id}".
func (m *Map) Resolve(speakerID int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name, ok := m.names[speakerID]; ok {
		return name
	}
	return models.FallbackSpeakerName(speakerID)
}

// Correct assigns name to speakerID, replacing any previous assignment.
// Already-published transcript versions keep the snapshot they were built with.
func (m *Map) Correct(speakerID int, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[speakerID] = name
	return nil
}

// Observe records that speakerID has produced speech. It never creates a mapping.
func (m *Map) Observe(speakerID int) {
	m.mu.RLock()
	_, ok := m.detected[speakerID]
	m.mu.RUnlock()
	if ok {
		return
	}
	m.mu.Lock()
	m.detected[speakerID] = struct{}{}
	m.mu.Unlock()
}

// DetectedSpeakers returns every observed speaker id in ascending order.
func (m *Map) DetectedSpeakers() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int, 0, len(m.detected))
	for id := range m.detected {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Snapshot returns an independent copy of the current assignments.
func (m *Map) Snapshot() models.IdentitySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(models.IdentitySnapshot, len(m.names))
	for k, v := range m.names {
		out[k] = v
	}
	return out
}
