// Package soniox provides a Soniox real-time transcription adapter over WebSocket.
//
// The first text frame carries the configuration, audio follows as binary
// frames and an empty binary frame asks the server to finish. Responses carry
// batches of tokens; only final tokens are forwarded.
package soniox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/observability/logging"
	"case-study-live-eval/internal/observability/metrics"
	"case-study-live-eval/internal/service/stt"
)

// DefaultSpeaker is used when a token carries no usable speaker label.
const DefaultSpeaker = 1

// DefaultCloseGrace bounds how long Close waits for the server's final response.
const DefaultCloseGrace = 10 * time.Second

// Config holds Soniox connection settings.
type Config struct {
	URL           string
	APIKey        string
	Model         string
	LanguageHints []string
	AudioFormat   string
	Terms         []string
	MinSpeakers   int
	MaxSpeakers   int
}

// DefaultConfig returns the settings used for group discussions.
func DefaultConfig() Config {
	return Config{
		URL:           "wss://stt-rt.soniox.com/transcribe-websocket",
		Model:         "stt-rt-v3",
		LanguageHints: []string{"vi", "en"},
		AudioFormat:   "auto",
	}
}

type diarizationRange struct {
	MinSpeakers int `json:"min_speakers,omitempty"`
	MaxSpeakers int `json:"max_speakers,omitempty"`
}

type contextTerms struct {
	Terms []string `json:"terms,omitempty"`
}

type startRequest struct {
	APIKey                       string            `json:"api_key"`
	Model                        string            `json:"model"`
	AudioFormat                  string            `json:"audio_format"`
	LanguageHints                []string          `json:"language_hints,omitempty"`
	EnableLanguageIdentification bool              `json:"enable_language_identification"`
	EnableSpeakerDiarization     bool              `json:"enable_speaker_diarization"`
	EnableEndpointDetection      bool              `json:"enable_endpoint_detection"`
	SpeakerDiarization           *diarizationRange `json:"speaker_diarization,omitempty"`
	Context                      *contextTerms     `json:"context,omitempty"`
}

// speaker accepts numeric or string labels.
type speaker struct {
	id int
	ok bool
}

func (s *speaker) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		s.id, s.ok = n, n >= 0
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return nil
	}
	if n, err := strconv.Atoi(str); err == nil && n >= 0 {
		s.id, s.ok = n, true
	}
	return nil
}

type token struct {
	Text    string  `json:"text"`
	StartMs int64   `json:"start_ms"`
	EndMs   int64   `json:"end_ms"`
	Speaker speaker `json:"speaker"`
	IsFinal bool    `json:"is_final"`
}

type response struct {
	Tokens       []token `json:"tokens"`
	Finished     bool    `json:"finished"`
	ErrorCode    int     `json:"error_code"`
	ErrorMessage string  `json:"error_message"`
}

// toSpeechToken converts a wire token, defaulting the speaker label.
func (t token) toSpeechToken() models.SpeechToken {
	id := DefaultSpeaker
	if t.Speaker.ok {
		id = t.Speaker.id
	}
	end := t.EndMs
	if end < t.StartMs {
		end = t.StartMs
	}
	return models.SpeechToken{SpeakerID: id, Text: t.Text, StartMs: t.StartMs, EndMs: end}
}

// Adapter implements stt.Adapter against the Soniox WebSocket API.
type Adapter struct {
	cfg        Config
	dialer     *websocket.Dialer
	log        zerolog.Logger
	closeGrace time.Duration

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	closing bool
}

// New creates a Soniox adapter. The connection is opened by Start.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:        cfg,
		dialer:     websocket.DefaultDialer,
		log:        logging.WithComponent("stt.soniox"),
		closeGrace: DefaultCloseGrace,
	}
}

func (a *Adapter) startRequest() startRequest {
	req := startRequest{
		APIKey:                       a.cfg.APIKey,
		Model:                        a.cfg.Model,
		AudioFormat:                  a.cfg.AudioFormat,
		LanguageHints:                a.cfg.LanguageHints,
		EnableLanguageIdentification: len(a.cfg.LanguageHints) > 1,
		EnableSpeakerDiarization:     true,
		EnableEndpointDetection:      true,
	}
	if a.cfg.MinSpeakers > 0 || a.cfg.MaxSpeakers > 0 {
		req.SpeakerDiarization = &diarizationRange{MinSpeakers: a.cfg.MinSpeakers, MaxSpeakers: a.cfg.MaxSpeakers}
	}
	if len(a.cfg.Terms) > 0 {
		req.Context = &contextTerms{Terms: a.cfg.Terms}
	}
	return req
}

// Start dials the endpoint, sends the configuration and starts reading.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	conn, _, err := a.dialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial soniox: %w", err)
	}
	if err := conn.WriteJSON(a.startRequest()); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send soniox config: %w", err)
	}

	a.writeMu.Lock()
	a.conn = conn
	a.writeMu.Unlock()

	go a.readLoop(conn, cb)
	return nil
}

// SendAudio writes one binary audio frame.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.conn == nil {
		return errors.New("soniox connection not started")
	}
	return a.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Close asks the server to finish; the read loop closes the connection
// once the final response arrives or the close grace period runs out.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return nil
	}
	a.closing = true
	a.mu.Unlock()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.conn == nil {
		return nil
	}
	if err := a.conn.SetReadDeadline(time.Now().Add(a.closeGrace)); err != nil {
		return fmt.Errorf("set soniox read deadline: %w", err)
	}
	return a.conn.WriteMessage(websocket.BinaryMessage, []byte{})
}

func (a *Adapter) isClosing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closing
}

func (a *Adapter) readLoop(conn *websocket.Conn, cb stt.Callback) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if a.isClosing() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					a.log.Warn().Dur("grace", a.closeGrace).Msg("No final Soniox response before close deadline")
				}
				cb.OnFinished()
				return
			}
			metrics.DefaultMetrics.RecordSTTError(stt.ProviderSoniox, "read")
			a.log.Error().Err(err).Msg("Soniox connection lost")
			cb.OnError(err)
			return
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			a.log.Warn().Err(err).Msg("Ignoring undecodable Soniox response")
			continue
		}
		if resp.ErrorCode != 0 {
			metrics.DefaultMetrics.RecordSTTError(stt.ProviderSoniox, strconv.Itoa(resp.ErrorCode))
			cb.OnError(fmt.Errorf("soniox error %d: %s", resp.ErrorCode, resp.ErrorMessage))
			return
		}

		for _, t := range resp.Tokens {
			if t.IsFinal {
				cb.OnToken(t.toSpeechToken())
			}
		}
		if resp.Finished {
			cb.OnFinished()
			return
		}
	}
}
