// Package stt defines the interface for streaming speech-to-text providers with speaker diarization.
package stt

import (
	"context"

	"case-study-live-eval/internal/models"
)

// Callback receives finalized speech from the STT provider.
type Callback interface {
	// OnToken is called once per finalized, speaker-tagged token, in chronological order.
	OnToken(tok models.SpeechToken)

	// OnError is called when the connection fails. No further tokens follow.
	OnError(err error)

	// OnFinished is called when the provider closes the stream normally.
	OnFinished()
}

// Adapter defines the interface for STT providers (Google, Soniox, mock).
type Adapter interface {
	// Start opens the streaming connection. Callbacks may fire from other goroutines.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources.
	Close() error
}

// Provider names accepted by configuration.
const (
	ProviderMock   = "mock"
	ProviderGoogle = "google"
	ProviderSoniox = "soniox"
)
