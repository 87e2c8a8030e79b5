// Package google provides a Google Cloud Speech-to-Text adapter with speaker diarization.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/observability/logging"
	"case-study-live-eval/internal/observability/metrics"
	"case-study-live-eval/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
	MinSpeakers    int32
	MaxSpeakers    int32
}

// DefaultConfig returns default Google STT configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "vi-VN",
		SampleRateHz:   16000,
		InterimResults: false,
		AudioEncoding:  "LINEAR16",
		MinSpeakers:    2,
		MaxSpeakers:    6,
	}
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	cfg    Config
	log    zerolog.Logger

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cb     stt.Callback
	words  *wordTracker
}

// New creates a new Google STT adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Adapter{
		client: c,
		cfg:    cfg,
		log:    logging.WithComponent("stt.google"),
		words:  &wordTracker{},
	}, nil
}

func (a *Adapter) streamingConfig() *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
			SampleRateHertz:            a.cfg.SampleRateHz,
			LanguageCode:               a.cfg.LanguageCode,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: true,
			DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
				EnableSpeakerDiarization: true,
				MinSpeakerCount:          a.cfg.MinSpeakers,
				MaxSpeakerCount:          a.cfg.MaxSpeakers,
			},
		},
		InterimResults: a.cfg.InterimResults,
	}
}

// Start opens a streaming recognition session, sends the config and starts listening.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return fmt.Errorf("open recognize stream: %w", err)
	}

	a.mu.Lock()
	a.stream = stream
	a.cb = cb
	a.mu.Unlock()

	// Send streaming config as the first message
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: a.streamingConfig(),
		},
	})
	if err != nil {
		return fmt.Errorf("send streaming config: %w", err)
	}

	go a.listen(stream, cb)
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return errors.New("google stream not started")
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the stream; the listener drains the remaining results.
func (a *Adapter) Close() error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream != nil {
		return stream.CloseSend()
	}
	return nil
}

// listen receives responses until the stream ends and forwards finalized words.
func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) {
	for {
		resp, err := stream.Recv()
		if err == io.EOF || status.Code(err) == codes.Canceled {
			cb.OnFinished()
			return
		}
		if err != nil {
			metrics.DefaultMetrics.RecordSTTError(stt.ProviderGoogle, status.Code(err).String())
			a.log.Error().Err(err).Msg("Recognize stream failed")
			cb.OnError(err)
			return
		}

		for _, r := range resp.Results {
			for _, tok := range a.words.tokens(r) {
				cb.OnToken(tok)
			}
		}
	}
}

// wordTracker converts final results into tokens. Diarized results repeat
// earlier words, so anything ending at or before the last emitted word is skipped.
type wordTracker struct {
	lastEndMs int64
	emitted   int
}

func (w *wordTracker) tokens(r *speechpb.StreamingRecognitionResult) []models.SpeechToken {
	if !r.GetIsFinal() || len(r.GetAlternatives()) == 0 {
		return nil
	}
	alt := r.GetAlternatives()[0]

	var out []models.SpeechToken
	for _, word := range alt.GetWords() {
		start := word.GetStartTime().AsDuration().Milliseconds()
		end := word.GetEndTime().AsDuration().Milliseconds()
		if w.emitted > 0 && end <= w.lastEndMs {
			continue
		}
		if end < start {
			end = start
		}
		text := word.GetWord()
		if w.emitted > 0 {
			text = " " + text
		}
		out = append(out, models.SpeechToken{
			SpeakerID: int(word.GetSpeakerTag()),
			Text:      text,
			StartMs:   start,
			EndMs:     end,
		})
		w.lastEndMs = end
		w.emitted++
	}
	return out
}

// parseAudioEncoding converts a string to Google's AudioEncoding enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
