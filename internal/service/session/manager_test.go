package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/service/stt"
	"case-study-live-eval/internal/service/stt/mock"
)

func mockFactory(context.Context, string) (stt.Adapter, error) {
	return mock.NewWithScript(script), nil
}

func TestManager_Lifecycle(t *testing.T) {
	observed := &stateLog{}
	m := NewManager(quietConfig(), newFixture().deps, mockFactory, observed.observe)

	s, err := m.Create(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.ID())
	assert.Equal(t, 1, m.Active())

	_, err = m.Create(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrSessionExists)

	generated, err := m.Create(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID())

	got, ok := m.Get("sess-1")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Len(t, m.List(), 2)

	assert.ErrorIs(t, m.Remove("sess-1"), ErrStillRunning)
	_, err = m.Stop(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Active())

	// stopped sessions stay queryable until removed
	_, ok = m.Get("sess-1")
	assert.True(t, ok)
	require.NoError(t, m.Remove("sess-1"))
	_, ok = m.Get("sess-1")
	assert.False(t, ok)

	require.NoError(t, m.StopAll(context.Background()))
	assert.Zero(t, m.Active())
	assert.Contains(t, observed.get(), models.ConnectionConnected)
}

func TestManager_StopUnknown(t *testing.T) {
	m := NewManager(quietConfig(), newFixture().deps, mockFactory)
	_, err := m.Stop(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Remove("missing"), ErrSessionNotFound)
}

func TestManager_FailedStartNotRegistered(t *testing.T) {
	m := NewManager(quietConfig(), newFixture().deps, func(context.Context, string) (stt.Adapter, error) {
		return &failingAdapter{}, nil
	})
	_, err := m.Create(context.Background(), "sess-1")
	require.Error(t, err)
	_, ok := m.Get("sess-1")
	assert.False(t, ok)

	m = NewManager(quietConfig(), newFixture().deps, func(context.Context, string) (stt.Adapter, error) {
		return nil, errors.New("no credentials")
	})
	_, err = m.Create(context.Background(), "sess-2")
	assert.ErrorContains(t, err, "no credentials")
}
