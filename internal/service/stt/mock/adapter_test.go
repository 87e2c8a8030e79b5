package mock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"case-study-live-eval/internal/models"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu       sync.Mutex
	tokens   []models.SpeechToken
	errors   []error
	finished int
}

func (c *testCallback) OnToken(tok models.SpeechToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, tok)
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *testCallback) OnFinished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished++
}

func (c *testCallback) getTokens() []models.SpeechToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.SpeechToken{}, c.tokens...)
}

func (c *testCallback) getFinished() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func TestAdapter_SendAudioReleasesOneTokenPerFrame(t *testing.T) {
	script := DefaultScript[:3]
	adapter := NewWithScript(script)
	cb := &testCallback{}
	if err := adapter.Start(context.Background(), cb); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		_ = adapter.SendAudio(context.Background(), []byte{0x00})
	}
	if got := len(cb.getTokens()); got != 2 {
		t.Fatalf("expected 2 tokens, got %d", got)
	}
	if cb.getFinished() != 0 {
		t.Error("finished before script exhausted")
	}

	// third frame drains the script, further frames are no-ops
	for i := 0; i < 3; i++ {
		_ = adapter.SendAudio(context.Background(), []byte{0x00})
	}
	tokens := cb.getTokens()
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(tokens))
	}
	for i := range script {
		if tokens[i] != script[i] {
			t.Errorf("token %d: expected %+v, got %+v", i, script[i], tokens[i])
		}
	}
	if cb.getFinished() != 1 {
		t.Errorf("expected exactly one OnFinished, got %d", cb.getFinished())
	}
	if adapter.FramesReceived() != 5 {
		t.Errorf("expected 5 frames, got %d", adapter.FramesReceived())
	}
}

func TestAdapter_SendAudioBeforeStartIsNoop(t *testing.T) {
	adapter := New()
	if err := adapter.SendAudio(context.Background(), []byte{0x00}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if adapter.Remaining() != len(DefaultScript) {
		t.Error("tokens consumed before Start")
	}
}

func TestAdapter_Replay(t *testing.T) {
	adapter := New()
	cb := &testCallback{}
	_ = adapter.Start(context.Background(), cb)

	if err := adapter.Replay(context.Background(), 0); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if got := len(cb.getTokens()); got != len(DefaultScript) {
		t.Errorf("expected %d tokens, got %d", len(DefaultScript), got)
	}
	if cb.getFinished() != 1 {
		t.Errorf("expected one OnFinished, got %d", cb.getFinished())
	}
	if adapter.Remaining() != 0 {
		t.Errorf("expected no remaining tokens, got %d", adapter.Remaining())
	}
}

func TestAdapter_ReplayStopsOnCancel(t *testing.T) {
	adapter := New()
	cb := &testCallback{}
	_ = adapter.Start(context.Background(), cb)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := adapter.Replay(ctx, 20*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if n := len(cb.getTokens()); n == 0 || n >= len(DefaultScript) {
		t.Errorf("expected a partial replay, got %d tokens", n)
	}
}

func TestAdapter_CloseStopsEmission(t *testing.T) {
	adapter := New()
	cb := &testCallback{}
	_ = adapter.Start(context.Background(), cb)
	_ = adapter.Close()

	_ = adapter.SendAudio(context.Background(), []byte{0x00})
	if len(cb.getTokens()) != 0 {
		t.Error("expected no tokens after Close")
	}
	if err := adapter.Start(context.Background(), cb); err == nil {
		t.Error("expected Start after Close to fail")
	}
}

func TestAdapter_Fail(t *testing.T) {
	adapter := New()
	cb := &testCallback{}
	_ = adapter.Start(context.Background(), cb)

	adapter.Fail(errors.New("socket closed"))
	if len(cb.errors) != 1 {
		t.Fatalf("expected one error, got %d", len(cb.errors))
	}
}

func TestReadScript(t *testing.T) {
	input := `
# speaker 0 opens
{"speakerId":0,"text":"xin","startMs":0,"endMs":100}
{"speakerId":0,"text":" chào","startMs":100,"endMs":300}

{"speakerId":1,"text":"chào","startMs":400,"endMs":600}
`
	tokens, err := ReadScript(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadScript failed: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(tokens))
	}
	if tokens[1].Text != " chào" || tokens[2].SpeakerID != 1 || tokens[2].EndMs != 600 {
		t.Errorf("unexpected tokens: %+v", tokens)
	}

	if _, err := ReadScript(strings.NewReader("{not json}\n")); err == nil {
		t.Error("expected error for malformed line")
	}
}
