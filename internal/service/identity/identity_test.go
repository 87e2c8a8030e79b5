package identity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_ResolveFallsBackToPlaceholder(t *testing.T) {
	m := New()
	require.NoError(t, m.Correct(0, "An"))

	assert.Equal(t, "An", m.Resolve(0))
	assert.Equal(t, "Speaker 1", m.Resolve(1))
	assert.Equal(t, "Speaker 7", m.Resolve(7))
}

func TestMap_CorrectLastWriteWins(t *testing.T) {
	m := New()
	require.NoError(t, m.Correct(2, "Bình"))
	require.NoError(t, m.Correct(2, "  Chi  "))

	assert.Equal(t, "Chi", m.Resolve(2))
}

func TestMap_CorrectRejectsEmptyName(t *testing.T) {
	m := New()
	require.NoError(t, m.Correct(1, "Dũng"))

	assert.ErrorIs(t, m.Correct(1, "   "), ErrEmptyName)
	assert.Equal(t, "Dũng", m.Resolve(1))
}

func TestMap_SnapshotIsImmutable(t *testing.T) {
	m := New()
	require.NoError(t, m.Correct(0, "An"))

	snap := m.Snapshot()
	require.NoError(t, m.Correct(0, "Anh"))
	require.NoError(t, m.Correct(1, "Bảo"))

	assert.Equal(t, "An", snap.Resolve(0))
	assert.Equal(t, "Speaker 1", snap.Resolve(1))

	snap[3] = "local edit"
	assert.Equal(t, "Speaker 3", m.Resolve(3))
}

func TestMap_ObserveDoesNotCreateMapping(t *testing.T) {
	m := New()
	m.Observe(3)
	m.Observe(1)
	m.Observe(3)

	assert.Equal(t, []int{1, 3}, m.DetectedSpeakers())
	assert.Empty(t, m.Snapshot())
	assert.Equal(t, "Speaker 3", m.Resolve(3))
}

func TestMap_ConcurrentAccess(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			_ = m.Correct(id%4, "name")
			m.Observe(id)
		}(i)
		go func(id int) {
			defer wg.Done()
			_ = m.Snapshot()
			_ = m.Resolve(id % 4)
		}(i)
	}
	wg.Wait()

	assert.Len(t, m.Snapshot(), 4)
	assert.Len(t, m.DetectedSpeakers(), 20)
}
