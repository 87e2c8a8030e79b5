// Package audio provides the audio stream handler that guards the STT adapter
// with per-session resource limits.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"case-study-live-eval/internal/observability/logging"
	"case-study-live-eval/internal/observability/metrics"
	"case-study-live-eval/internal/service/stt"
)

var (
	// ErrLimitExceeded is returned once a stream crosses one of its limits.
	// The stream accepts no further audio afterwards.
	ErrLimitExceeded = errors.New("audio limit exceeded")

	// ErrClosed is returned for audio sent after Close.
	ErrClosed = errors.New("audio stream closed")
)

// Limits defines safety guardrails for one recording.
type Limits struct {
	MaxAudioBytes int64         // Max audio accepted per session
	MaxDuration   time.Duration // Max wall time since the first frame
	MaxFrameBytes int           // Max size of a single frame
}

// DefaultLimits returns limits sized for a two-hour discussion.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 512 * 1024 * 1024, // 512MB (~2.3h at 16kHz 16-bit mono)
		MaxDuration:   150 * time.Minute,
		MaxFrameBytes: 1024 * 1024,
	}
}

// Stats holds stream usage for observability.
type Stats struct {
	AudioBytes int64
	Frames     int
	Elapsed    time.Duration
	Exceeded   bool
}

// Handler forwards audio to an STT adapter and enforces Limits.
type Handler struct {
	adapter   stt.Adapter
	sessionID string
	provider  string
	limits    Limits
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu         sync.Mutex
	firstFrame time.Time
	audioBytes int64
	frames     int
	exceeded   bool
	closed     bool
}

// NewHandler creates a handler for one session's audio stream.
func NewHandler(adapter stt.Adapter, sessionID, provider string, limits Limits) *Handler {
	return &Handler{
		adapter:   adapter,
		sessionID: sessionID,
		provider:  provider,
		limits:    limits,
		log:       logging.WithStream(sessionID, provider),
		metrics:   metrics.DefaultMetrics,
		now:       time.Now,
	}
}

// Start opens the STT stream with cb receiving tokens.
func (h *Handler) Start(ctx context.Context, cb stt.Callback) error {
	return h.adapter.Start(ctx, cb)
}

// SendAudio forwards one frame to the STT adapter.
func (h *Handler) SendAudio(ctx context.Context, audio []byte) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.exceeded {
		h.mu.Unlock()
		return ErrLimitExceeded
	}
	if err := h.checkLimits(len(audio)); err != nil {
		h.exceeded = true
		total := h.audioBytes
		h.mu.Unlock()
		h.log.Warn().Err(err).Int64("audio_bytes", total).Msg("Audio stream stopped at limit")
		return err
	}
	if h.frames == 0 {
		h.firstFrame = h.now()
	}
	h.frames++
	h.audioBytes += int64(len(audio))
	h.mu.Unlock()

	h.metrics.RecordAudioReceived(len(audio))
	return h.adapter.SendAudio(ctx, audio)
}

// checkLimits must be called with mu held.
func (h *Handler) checkLimits(frameLen int) error {
	if h.limits.MaxFrameBytes > 0 && frameLen > h.limits.MaxFrameBytes {
		h.metrics.RecordLimitExceeded("frame_bytes")
		return fmt.Errorf("%w: frame of %d bytes > %d", ErrLimitExceeded, frameLen, h.limits.MaxFrameBytes)
	}
	if total := h.audioBytes + int64(frameLen); h.limits.MaxAudioBytes > 0 && total > h.limits.MaxAudioBytes {
		h.metrics.RecordLimitExceeded("audio_bytes")
		return fmt.Errorf("%w: %d bytes > %d", ErrLimitExceeded, total, h.limits.MaxAudioBytes)
	}
	if h.frames > 0 && h.limits.MaxDuration > 0 {
		if elapsed := h.now().Sub(h.firstFrame); elapsed > h.limits.MaxDuration {
			h.metrics.RecordLimitExceeded("duration")
			return fmt.Errorf("%w: %v > %v", ErrLimitExceeded, elapsed.Round(time.Second), h.limits.MaxDuration)
		}
	}
	return nil
}

// Close ends the STT session. Calling it twice is a no-op.
func (h *Handler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.adapter.Close()
}

// Stats returns current stream usage.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{AudioBytes: h.audioBytes, Frames: h.frames, Exceeded: h.exceeded}
	if h.frames > 0 {
		s.Elapsed = h.now().Sub(h.firstFrame)
	}
	return s
}

// RecordingSeconds is the wall time since the first frame, used when token
// timing is unavailable.
func (h *Handler) RecordingSeconds() float64 {
	return h.Stats().Elapsed.Seconds()
}
