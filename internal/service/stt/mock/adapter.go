// Package mock provides a scripted STT adapter for testing and replay without cloud credentials.
// Each audio frame releases the next scripted tokens; Replay plays the whole script at a fixed pace.
package mock

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/service/stt"
)

// DefaultScript is a short three-person discussion.
var DefaultScript = []models.SpeechToken{
	{SpeakerID: 0, Text: "Chúng ta", StartMs: 0, EndMs: 400},
	{SpeakerID: 0, Text: " nên đầu tư", StartMs: 400, EndMs: 1100},
	{SpeakerID: 0, Text: " vào ngân hàng số.", StartMs: 1100, EndMs: 2300},
	{SpeakerID: 1, Text: "Tôi đồng ý,", StartMs: 2600, EndMs: 3300},
	{SpeakerID: 1, Text: " nhưng rủi ro", StartMs: 3300, EndMs: 4000},
	{SpeakerID: 1, Text: " cần được kiểm soát.", StartMs: 4000, EndMs: 5200},
	{SpeakerID: 2, Text: "Chi phí triển khai", StartMs: 5500, EndMs: 6600},
	{SpeakerID: 2, Text: " là bao nhiêu?", StartMs: 6600, EndMs: 7400},
	{SpeakerID: 0, Text: "Khoảng hai mươi tỷ", StartMs: 7800, EndMs: 9000},
	{SpeakerID: 0, Text: " trong ba năm.", StartMs: 9000, EndMs: 9900},
}

// Adapter implements stt.Adapter by replaying scripted tokens.
type Adapter struct {
	cb             stt.Callback
	mu             sync.Mutex
	script         []models.SpeechToken
	next           int // next token to emit
	tokensPerFrame int
	framesReceived int
	finished       bool
	closed         bool
}

// New creates a mock adapter over DefaultScript.
func New() *Adapter {
	return NewWithScript(DefaultScript)
}

// NewWithScript creates a mock adapter over script.
func NewWithScript(script []models.SpeechToken) *Adapter {
	return &Adapter{
		script:         append([]models.SpeechToken(nil), script...),
		tokensPerFrame: 1,
	}
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("mock adapter closed")
	}
	a.cb = cb
	return nil
}

// SendAudio releases the next scripted token. After the last one it signals OnFinished once.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	if a.closed || a.cb == nil {
		a.mu.Unlock()
		return nil
	}
	a.framesReceived++
	batch, done := a.take(a.tokensPerFrame)
	cb := a.cb
	a.mu.Unlock()

	for _, tok := range batch {
		cb.OnToken(tok)
	}
	if done {
		cb.OnFinished()
	}
	return nil
}

// take must be called with mu held.
func (a *Adapter) take(n int) ([]models.SpeechToken, bool) {
	end := a.next + n
	if end > len(a.script) {
		end = len(a.script)
	}
	batch := a.script[a.next:end]
	a.next = end
	done := false
	if a.next == len(a.script) && !a.finished {
		a.finished = true
		done = true
	}
	return batch, done
}

// Replay emits every remaining token, pausing pace between them, then OnFinished.
// It stops early on ctx cancellation or Close.
func (a *Adapter) Replay(ctx context.Context, pace time.Duration) error {
	for {
		a.mu.Lock()
		if a.closed || a.cb == nil {
			a.mu.Unlock()
			return nil
		}
		batch, done := a.take(1)
		cb := a.cb
		a.mu.Unlock()

		for _, tok := range batch {
			cb.OnToken(tok)
		}
		if done {
			cb.OnFinished()
		}
		if len(batch) == 0 {
			return nil
		}

		if pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pace):
			}
		}
	}
}

// Fail reports err to the callback, simulating a dropped connection.
func (a *Adapter) Fail(err error) {
	a.mu.Lock()
	cb := a.cb
	a.mu.Unlock()
	if cb != nil {
		cb.OnError(err)
	}
}

// Remaining returns how many scripted tokens are still unsent.
func (a *Adapter) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.script) - a.next
}

// FramesReceived returns the number of audio frames seen while open.
func (a *Adapter) FramesReceived() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.framesReceived
}

// Close ends the mock session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// ReadScript parses one JSON token per line. Blank lines and lines starting with # are ignored.
func ReadScript(r io.Reader) ([]models.SpeechToken, error) {
	var out []models.SpeechToken
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var tok models.SpeechToken
		if err := json.Unmarshal([]byte(text), &tok); err != nil {
			return nil, fmt.Errorf("script line %d: %w", line, err)
		}
		out = append(out, tok)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return out, nil
}
