package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/service/stt"
)

// testAdapter implements stt.Adapter for testing
type testAdapter struct {
	mu      sync.Mutex
	started bool
	closed  int
	audio   [][]byte
	cb      stt.Callback
}

func (m *testAdapter) Start(ctx context.Context, cb stt.Callback) error {
	m.started = true
	m.cb = cb
	return nil
}

func (m *testAdapter) SendAudio(ctx context.Context, audio []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = append(m.audio, audio)
	return nil
}

func (m *testAdapter) Close() error {
	m.closed++
	return nil
}

type nopCallback struct{}

func (nopCallback) OnToken(models.SpeechToken) {}
func (nopCallback) OnError(error)              {}
func (nopCallback) OnFinished()                {}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestHandler_ForwardsAudio(t *testing.T) {
	adapter := &testAdapter{}
	handler := NewHandler(adapter, "sess-1", "mock", DefaultLimits())

	if err := handler.Start(context.Background(), nopCallback{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !adapter.started {
		t.Fatal("adapter not started")
	}

	for i := 0; i < 3; i++ {
		if err := handler.SendAudio(context.Background(), make([]byte, 10)); err != nil {
			t.Fatalf("SendAudio failed: %v", err)
		}
	}
	if len(adapter.audio) != 3 {
		t.Errorf("expected 3 frames forwarded, got %d", len(adapter.audio))
	}
	stats := handler.Stats()
	if stats.AudioBytes != 30 || stats.Frames != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestHandler_MaxAudioBytesLimit(t *testing.T) {
	adapter := &testAdapter{}
	limits := Limits{MaxAudioBytes: 100, MaxDuration: time.Hour}
	handler := NewHandler(adapter, "sess-1", "mock", limits)
	ctx := context.Background()

	// Send 50 bytes - should succeed
	if err := handler.SendAudio(ctx, make([]byte, 50)); err != nil {
		t.Fatalf("First send should succeed: %v", err)
	}

	// Send 60 more bytes (total 110) - should fail
	err := handler.SendAudio(ctx, make([]byte, 60))
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("Expected ErrLimitExceeded, got %v", err)
	}

	// Stream stays stopped even for small frames
	if err := handler.SendAudio(ctx, make([]byte, 1)); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("Expected stream to stay stopped, got %v", err)
	}
	if len(adapter.audio) != 1 {
		t.Errorf("expected only the first frame forwarded, got %d", len(adapter.audio))
	}
	if !handler.Stats().Exceeded {
		t.Error("expected Exceeded in stats")
	}
}

func TestHandler_MaxFrameBytesLimit(t *testing.T) {
	handler := NewHandler(&testAdapter{}, "sess-1", "mock", Limits{MaxFrameBytes: 8})
	if err := handler.SendAudio(context.Background(), make([]byte, 9)); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("Expected ErrLimitExceeded, got %v", err)
	}
}

func TestHandler_MaxDurationLimit(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	adapter := &testAdapter{}
	handler := NewHandler(adapter, "sess-1", "mock", Limits{MaxDuration: time.Minute})
	handler.now = clock.now
	ctx := context.Background()

	if err := handler.SendAudio(ctx, []byte{1}); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	clock.t = clock.t.Add(30 * time.Second)
	if err := handler.SendAudio(ctx, []byte{1}); err != nil {
		t.Fatalf("frame within limit: %v", err)
	}
	if got := handler.RecordingSeconds(); got != 30 {
		t.Errorf("expected 30 recording seconds, got %v", got)
	}

	clock.t = clock.t.Add(31 * time.Second)
	if err := handler.SendAudio(ctx, []byte{1}); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("Expected ErrLimitExceeded, got %v", err)
	}
}

func TestHandler_CloseIdempotent(t *testing.T) {
	adapter := &testAdapter{}
	handler := NewHandler(adapter, "sess-1", "mock", DefaultLimits())

	_ = handler.Close()
	_ = handler.Close()
	if adapter.closed != 1 {
		t.Errorf("expected adapter closed once, got %d", adapter.closed)
	}
	if err := handler.SendAudio(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestHandler_DefaultLimits(t *testing.T) {
	limits := DefaultLimits()

	if limits.MaxAudioBytes != 512*1024*1024 {
		t.Errorf("Expected MaxAudioBytes 512MB, got %d", limits.MaxAudioBytes)
	}
	if limits.MaxDuration != 150*time.Minute {
		t.Errorf("Expected MaxDuration 150m, got %v", limits.MaxDuration)
	}
	if limits.MaxFrameBytes != 1024*1024 {
		t.Errorf("Expected MaxFrameBytes 1MB, got %d", limits.MaxFrameBytes)
	}
}
