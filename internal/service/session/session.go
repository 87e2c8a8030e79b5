// Package session wires one live case-study recording: transcription tokens feed the
// segment accumulator, the dispatch scheduler submits consolidated transcript versions
// and the poller folds evaluation results into per-participant summaries.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/observability/logging"
	"case-study-live-eval/internal/observability/metrics"
	"case-study-live-eval/internal/service/audio"
	"case-study-live-eval/internal/service/dispatch"
	"case-study-live-eval/internal/service/evaluation"
	"case-study-live-eval/internal/service/identity"
	"case-study-live-eval/internal/service/poller"
	"case-study-live-eval/internal/service/segment"
	"case-study-live-eval/internal/service/stt"
	"case-study-live-eval/internal/service/transcript"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotRunning     = errors.New("session not running")
)

const summaryPublishTimeout = 10 * time.Second

// Config holds per-session settings.
type Config struct {
	Provider string
	Dispatch dispatch.Config
	Poll     poller.Config
	Limits   audio.Limits
}

// DefaultConfig returns a mock-provider configuration with default cadences.
func DefaultConfig() Config {
	return Config{
		Provider: stt.ProviderMock,
		Dispatch: dispatch.DefaultConfig(),
		Poll:     poller.DefaultConfig(),
		Limits:   audio.DefaultLimits(),
	}
}

// Publisher receives transcript versions and summary snapshots.
type Publisher interface {
	dispatch.VersionPublisher
	PublishSummary(ctx context.Context, sessionID string, summaries []models.ParticipantCompetencySummary, overview []models.CompetencyOverview, newRecords int) error
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Evaluator dispatch.Evaluator
	Fetcher   poller.Fetcher
	Publisher Publisher // optional
	Catalog   *evaluation.Catalog
}

// StateObserver is notified on every connection state change.
type StateObserver func(sessionID string, state models.ConnectionState)

// Transcript is the live view of a session's transcript.
type Transcript struct {
	SessionID            string                  `json:"sessionId"`
	Segments             []models.SpeakerSegment `json:"segments"`
	FullTranscript       string                  `json:"fullTranscript"`
	SpeakerMapping       models.IdentitySnapshot `json:"speakerMapping"`
	DetectedSpeakers     []int                   `json:"detectedSpeakers"`
	TotalDurationSeconds float64                 `json:"totalDurationSeconds"`
	LatestVersion        int                     `json:"latestVersion"`
	State                models.ConnectionState  `json:"state"`
}

// Info summarizes a session for listings.
type Info struct {
	ID        string                 `json:"id"`
	Provider  string                 `json:"provider"`
	State     models.ConnectionState `json:"state"`
	StartedAt time.Time              `json:"startedAt"`
	StoppedAt *time.Time             `json:"stoppedAt,omitempty"`
	Segments  int                    `json:"segments"`
	Versions  int                    `json:"versions"`
}

// Session is one live recording. It implements stt.Callback.
type Session struct {
	id         string
	cfg        Config
	log        zerolog.Logger
	metrics    *metrics.Metrics
	segments   *segment.Accumulator
	identities *identity.Map
	scheduler  *dispatch.Scheduler
	poller     *poller.Poller
	aggregator *evaluation.Aggregator
	audio      *audio.Handler
	publisher  Publisher

	mu        sync.RWMutex
	state     models.ConnectionState
	observers []StateObserver
	lastErr   error
	started   bool
	stopping  bool
	startedAt time.Time
	stoppedAt time.Time
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// New assembles a session around adapter. It does not connect until Start.
func New(id string, cfg Config, adapter stt.Adapter, deps Deps) *Session {
	s := &Session{
		id:         id,
		cfg:        cfg,
		log:        logging.WithSession("session", id),
		metrics:    metrics.DefaultMetrics,
		segments:   segment.NewAccumulator(id, segment.New()),
		identities: identity.New(),
		aggregator: evaluation.NewAggregator(deps.Catalog),
		audio:      audio.NewHandler(adapter, id, cfg.Provider, cfg.Limits),
		publisher:  deps.Publisher,
		state:      models.ConnectionDisconnected,
	}

	var opts []dispatch.Option
	if deps.Publisher != nil {
		opts = append(opts, dispatch.WithPublisher(deps.Publisher))
	}
	s.scheduler = dispatch.NewScheduler(id, cfg.Dispatch, s.segments, s.identities, deps.Evaluator, opts...)
	s.poller = poller.New(id, cfg.Poll, deps.Fetcher, summarySink{s})
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// OnStateChange registers fn for connection state changes.
func (s *Session) OnStateChange(fn StateObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Session) setState(state models.ConnectionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	observers := append([]StateObserver(nil), s.observers...)
	s.mu.Unlock()

	s.metrics.RecordConnectionState(string(state))
	s.log.Info().Str("state", string(state)).Msg("Connection state changed")
	for _, fn := range observers {
		fn(s.id, state)
	}
}

// ConnectionState returns the transcription connection status.
func (s *Session) ConnectionState() models.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the last transcription error, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Start connects the transcription adapter and launches the dispatch and poll loops.
// The loops are detached from ctx and run until Stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.setState(models.ConnectionConnecting)
	base := context.WithoutCancel(ctx)
	if err := s.audio.Start(base, s); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.setState(models.ConnectionError)
		return fmt.Errorf("start transcription: %w", err)
	}
	s.setState(models.ConnectionConnected)

	runCtx, cancel := context.WithCancel(base)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.scheduler.Run(gctx) })
	g.Go(func() error { return s.poller.Run(gctx) })

	s.mu.Lock()
	s.cancel = cancel
	s.group = g
	s.mu.Unlock()

	s.metrics.RecordSessionStart()
	s.log.Info().Str("provider", s.cfg.Provider).Msg("Session started")
	return nil
}

// Stop cancels the periodic loops, performs the final dispatch, polls once more
// and closes the transcription adapter. It returns the final version, which is nil
// when there was nothing to dispatch.
func (s *Session) Stop(ctx context.Context) (*models.TranscriptVersion, error) {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	s.stopping = true
	cancel, g := s.cancel, s.group
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = g.Wait()
	}

	v, err := s.scheduler.Flush(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Final dispatch failed")
	}
	if _, perr := s.poller.Poll(ctx); perr != nil {
		s.log.Warn().Err(perr).Msg("Final poll failed")
	}
	if cerr := s.audio.Close(); cerr != nil {
		s.log.Warn().Err(cerr).Msg("Closing transcription failed")
	}

	s.mu.Lock()
	s.stoppedAt = time.Now()
	elapsed := s.stoppedAt.Sub(s.startedAt)
	s.mu.Unlock()
	s.setState(models.ConnectionDisconnected)
	s.metrics.RecordSessionEnd(elapsed.Seconds())

	ev := s.log.Info().Dur("elapsed", elapsed).Int("segments", s.segments.Len())
	if v != nil {
		ev = ev.Int("finalVersion", v.Version)
	}
	ev.Msg("Session stopped")
	return v, err
}

// Stopped reports whether Stop has been called.
func (s *Session) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopping
}

// SendAudio forwards one audio frame to the transcription adapter.
func (s *Session) SendAudio(ctx context.Context, frame []byte) error {
	if s.Stopped() {
		return ErrNotRunning
	}
	return s.audio.SendAudio(ctx, frame)
}

// Dispatch runs one manual dispatch outside the periodic cadence.
func (s *Session) Dispatch(ctx context.Context) (*models.TranscriptVersion, error) {
	return s.scheduler.TryDispatch(ctx)
}

// CorrectSpeaker assigns a name to a diarized speaker. It applies to the next version only.
func (s *Session) CorrectSpeaker(speakerID int, name string) error {
	if err := s.identities.Correct(speakerID, name); err != nil {
		return err
	}
	s.log.Info().Int("speakerId", speakerID).Str("name", name).Msg("Speaker corrected")
	return nil
}

// CurrentTranscript renders everything recognized so far with the current names.
func (s *Session) CurrentTranscript() Transcript {
	segments := s.segments.Snapshot()
	names := s.identities.Snapshot()
	t := Transcript{
		SessionID:            s.id,
		Segments:             segments,
		FullTranscript:       transcript.Render(segments, names),
		SpeakerMapping:       names,
		DetectedSpeakers:     s.identities.DetectedSpeakers(),
		TotalDurationSeconds: transcript.Duration(segments, s.audio.RecordingSeconds()),
		State:                s.ConnectionState(),
	}
	if v, ok := s.scheduler.Versions().Latest(); ok {
		t.LatestVersion = v.Version
	}
	return t
}

// CurrentSummaries returns per-participant competency summaries, optionally for one participant.
func (s *Session) CurrentSummaries(participantID string) []models.ParticipantCompetencySummary {
	if participantID != "" {
		return s.aggregator.SummariesFor(participantID)
	}
	return s.aggregator.Summaries()
}

// Overview returns per-competency aggregates across participants.
func (s *Session) Overview() []models.CompetencyOverview {
	return s.aggregator.Overview()
}

// Versions returns every accepted transcript version in order.
func (s *Session) Versions() []models.TranscriptVersion {
	return s.scheduler.Versions().All()
}

// Poll fetches new evaluation results immediately.
func (s *Session) Poll(ctx context.Context) (int, error) {
	records, err := s.poller.Poll(ctx)
	return len(records), err
}

// Info returns a listing summary.
func (s *Session) Info() Info {
	s.mu.RLock()
	info := Info{
		ID:        s.id,
		Provider:  s.cfg.Provider,
		State:     s.state,
		StartedAt: s.startedAt,
	}
	if !s.stoppedAt.IsZero() {
		t := s.stoppedAt
		info.StoppedAt = &t
	}
	s.mu.RUnlock()
	info.Segments = s.segments.Len()
	info.Versions = s.scheduler.Versions().Len()
	return info
}

// --- stt.Callback implementation ---

// OnToken appends a finalized token to the transcript.
func (s *Session) OnToken(tok models.SpeechToken) {
	outcome, err := s.segments.Ingest(tok)
	if err != nil {
		s.metrics.RecordToken("invalid")
		s.log.Warn().Err(err).Int("speakerId", tok.SpeakerID).Msg("Token rejected")
		return
	}
	s.metrics.RecordToken(outcome.String())
	switch outcome {
	case segment.Opened:
		s.metrics.RecordSegmentCreated()
		s.identities.Observe(tok.SpeakerID)
	case segment.Appended:
		s.identities.Observe(tok.SpeakerID)
	}
}

// OnError marks the connection failed. There is no automatic reconnect.
func (s *Session) OnError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.metrics.RecordSTTError(s.cfg.Provider, "stream")
	s.log.Error().Err(err).Msg("Transcription connection lost")
	s.setState(models.ConnectionError)
}

// OnFinished is called when the provider ends the stream.
func (s *Session) OnFinished() {
	s.log.Info().Msg("Transcription stream finished")
	if s.ConnectionState() == models.ConnectionConnected {
		s.setState(models.ConnectionDisconnected)
	}
}

// summarySink feeds polled records to the aggregator and publishes the new snapshot.
type summarySink struct{ s *Session }

func (k summarySink) Add(records ...models.EvaluationRecord) int {
	s := k.s
	added := s.aggregator.Add(records...)
	if added == 0 || s.publisher == nil {
		return added
	}
	ctx, cancel := context.WithTimeout(context.Background(), summaryPublishTimeout)
	defer cancel()
	if err := s.publisher.PublishSummary(ctx, s.id, s.aggregator.Summaries(), s.aggregator.Overview(), added); err != nil {
		s.log.Warn().Err(err).Msg("Publishing summary failed")
	}
	return added
}
