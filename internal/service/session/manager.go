package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/observability/logging"
	"case-study-live-eval/internal/service/stt"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrStillRunning    = errors.New("session still running")
)

// AdapterFactory opens a transcription adapter for a new session.
type AdapterFactory func(ctx context.Context, sessionID string) (stt.Adapter, error)

// Manager owns the live sessions of this process.
type Manager struct {
	cfg        Config
	deps       Deps
	newAdapter AdapterFactory
	observers  []StateObserver
	log        zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. observers are attached to every session it creates.
func NewManager(cfg Config, deps Deps, newAdapter AdapterFactory, observers ...StateObserver) *Manager {
	return &Manager{
		cfg:        cfg,
		deps:       deps,
		newAdapter: newAdapter,
		observers:  observers,
		log:        logging.WithComponent("session.manager"),
		sessions:   make(map[string]*Session),
	}
}

// Create registers and starts a session. An empty id gets a generated one.
// A session that fails to start is not registered.
func (m *Manager) Create(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	// reserve the id while the adapter connects
	m.sessions[id] = nil
	m.mu.Unlock()

	s, err := m.start(ctx, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.sessions, id)
		return nil, err
	}
	m.sessions[id] = s
	return s, nil
}

func (m *Manager) start(ctx context.Context, id string) (*Session, error) {
	adapter, err := m.newAdapter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("create %s adapter: %w", m.cfg.Provider, err)
	}
	s := New(id, m.cfg, adapter, m.deps)
	for _, fn := range m.observers {
		s.OnStateChange(fn)
	}
	if err := s.Start(ctx); err != nil {
		_ = adapter.Close()
		return nil, err
	}
	return s, nil
}

// Get returns a registered session, stopped or not.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok && s != nil
}

// List returns session summaries ordered by start time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stop stops a session. It stays registered so results remain queryable.
func (m *Manager) Stop(ctx context.Context, id string) (*models.TranscriptVersion, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Stop(ctx)
}

// Remove unregisters a stopped session.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if !s.Stopped() {
		return fmt.Errorf("%w: %s", ErrStillRunning, id)
	}
	delete(m.sessions, id)
	return nil
}

// StopAll stops every running session concurrently, used on shutdown.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	running := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != nil && !s.Stopped() {
			running = append(running, s)
		}
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, s := range running {
		g.Go(func() error {
			if _, err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
				m.log.Warn().Err(err).Str("sessionId", s.ID()).Msg("Stopping session failed")
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	m.log.Info().Int("sessions", len(running)).Msg("All sessions stopped")
	return err
}

// Active returns the number of sessions that have not been stopped.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s != nil && !s.Stopped() {
			n++
		}
	}
	return n
}
