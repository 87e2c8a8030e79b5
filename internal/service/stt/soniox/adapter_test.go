package soniox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"case-study-live-eval/internal/models"
)

type recorder struct {
	mu       sync.Mutex
	tokens   []models.SpeechToken
	errs     []error
	finished chan struct{}
	once     sync.Once
}

func newRecorder() *recorder { return &recorder{finished: make(chan struct{})} }

func (r *recorder) OnToken(tok models.SpeechToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, tok)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.once.Do(func() { close(r.finished) })
}

func (r *recorder) OnFinished() { r.once.Do(func() { close(r.finished) }) }

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream end")
	}
}

// fakeServer upgrades, records the config and audio, and replays responses
// once the first audio frame arrives.
type fakeServer struct {
	responses []string
	silent    bool // never answer the end-of-audio frame
	mu        sync.Mutex
	config    map[string]any
	frames    int
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		var cfg map[string]any
		if !assert.NoError(t, conn.ReadJSON(&cfg)) {
			return
		}
		f.mu.Lock()
		f.config = cfg
		f.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.frames++
			first := f.frames == 1
			f.mu.Unlock()

			if first {
				for _, resp := range f.responses {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(resp))
				}
			}
			if len(data) == 0 && f.silent {
				continue
			}
			if len(data) == 0 {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"tokens":[],"finished":true}`))
				return
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestAdapter_StreamsFinalTokens(t *testing.T) {
	fake := &fakeServer{responses: []string{
		`{"tokens":[{"text":"Xin","start_ms":0,"end_ms":200,"speaker":"1","is_final":true},{"text":" chào","start_ms":200,"end_ms":400,"speaker":"1","is_final":false}]}`,
		`{"tokens":[{"text":" chào","start_ms":200,"end_ms":450,"speaker":2,"is_final":true},{"text":"<end>","is_final":true}]}`,
	}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(srv)
	cfg.APIKey = "temp-key"
	cfg.MaxSpeakers = 5
	a := New(cfg)
	rec := newRecorder()

	require.NoError(t, a.Start(context.Background(), rec))
	require.NoError(t, a.SendAudio(context.Background(), []byte{1, 2, 3}))
	require.NoError(t, a.Close())
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.errs)
	assert.Equal(t, []models.SpeechToken{
		{SpeakerID: 1, Text: "Xin", StartMs: 0, EndMs: 200},
		{SpeakerID: 2, Text: " chào", StartMs: 200, EndMs: 450},
		{SpeakerID: DefaultSpeaker, Text: "<end>"},
	}, rec.tokens)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "temp-key", fake.config["api_key"])
	assert.Equal(t, "stt-rt-v3", fake.config["model"])
	assert.Equal(t, true, fake.config["enable_speaker_diarization"])
	assert.Equal(t, map[string]any{"max_speakers": float64(5)}, fake.config["speaker_diarization"])
}

func TestAdapter_ServerErrorReported(t *testing.T) {
	fake := &fakeServer{responses: []string{`{"error_code":401,"error_message":"Invalid API key"}`}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(srv)
	a := New(cfg)
	rec := newRecorder()

	require.NoError(t, a.Start(context.Background(), rec))
	require.NoError(t, a.SendAudio(context.Background(), []byte{1}))
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.errs, 1)
	assert.Contains(t, rec.errs[0].Error(), "Invalid API key")
}

func TestAdapter_CloseGivesUpOnSilentServer(t *testing.T) {
	fake := &fakeServer{silent: true}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(srv)
	a := New(cfg)
	a.closeGrace = 50 * time.Millisecond
	rec := newRecorder()

	require.NoError(t, a.Start(context.Background(), rec))
	require.NoError(t, a.SendAudio(context.Background(), []byte{1}))
	require.NoError(t, a.Close())
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.errs)
}

func TestAdapter_DialFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "ws://127.0.0.1:1/unreachable"
	err := New(cfg).Start(context.Background(), newRecorder())
	assert.Error(t, err)
}

func TestAdapter_SendBeforeStart(t *testing.T) {
	a := New(DefaultConfig())
	assert.Error(t, a.SendAudio(context.Background(), []byte{1}))
	assert.NoError(t, a.Close())
}

func TestSpeaker_Unmarshal(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{`{"speaker":3}`, 3},
		{`{"speaker":"4"}`, 4},
		{`{"speaker":"A"}`, DefaultSpeaker},
		{`{"speaker":null}`, DefaultSpeaker},
		{`{"speaker":-2}`, DefaultSpeaker},
		{`{}`, DefaultSpeaker},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var tok token
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &tok))
			assert.Equal(t, tt.want, tok.toSpeechToken().SpeakerID)
		})
	}
}
