package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"case-study-live-eval/internal/models"
	"case-study-live-eval/internal/service/dispatch"
	"case-study-live-eval/internal/service/evaluation"
	"case-study-live-eval/internal/service/evaluator"
	"case-study-live-eval/internal/service/poller"
	"case-study-live-eval/internal/service/stt"
	"case-study-live-eval/internal/service/stt/mock"
)

var script = []models.SpeechToken{
	{SpeakerID: 0, Text: "chúng ta", StartMs: 0, EndMs: 500},
	{SpeakerID: 0, Text: " nên đầu tư", StartMs: 500, EndMs: 1200},
	{SpeakerID: 1, Text: "tôi đồng ý", StartMs: 1500, EndMs: 2500},
}

type recordingPublisher struct {
	mu        sync.Mutex
	versions  []models.TranscriptVersion
	summaries []int
}

func (p *recordingPublisher) PublishVersion(_ context.Context, v models.TranscriptVersion) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.versions = append(p.versions, v)
	return nil
}

func (p *recordingPublisher) PublishSummary(_ context.Context, _ string, _ []models.ParticipantCompetencySummary, _ []models.CompetencyOverview, newRecords int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, newRecords)
	return nil
}

type stateLog struct {
	mu     sync.Mutex
	states []models.ConnectionState
}

func (l *stateLog) observe(_ string, st models.ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, st)
}

func (l *stateLog) get() []models.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.ConnectionState(nil), l.states...)
}

type fixture struct {
	loopback  *evaluator.Loopback
	store     *evaluation.Store
	publisher *recordingPublisher
	deps      Deps
}

func newFixture() *fixture {
	f := &fixture{
		loopback:  evaluator.NewLoopback(),
		store:     evaluation.NewStore(0),
		publisher: &recordingPublisher{},
	}
	f.deps = Deps{Evaluator: f.loopback, Fetcher: f.store, Publisher: f.publisher}
	return f
}

// quietConfig disables the periodic loops for the duration of a test.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Dispatch = dispatch.Config{Interval: time.Hour, Timeout: time.Second}
	cfg.Poll = poller.Config{Interval: time.Hour}
	return cfg
}

func feed(t *testing.T, s *Session, frames int) {
	t.Helper()
	for i := 0; i < frames; i++ {
		require.NoError(t, s.SendAudio(context.Background(), []byte{0, 0}))
	}
}

func TestSession_TranscriptAndFinalDispatch(t *testing.T) {
	f := newFixture()
	s := New("sess-1", quietConfig(), mock.NewWithScript(script), f.deps)
	states := &stateLog{}
	s.OnStateChange(states.observe)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, models.ConnectionConnected, s.ConnectionState())
	feed(t, s, 2)

	tr := s.CurrentTranscript()
	assert.Equal(t, "[Speaker 0]: chúng ta nên đầu tư", tr.FullTranscript)
	assert.Equal(t, []int{0}, tr.DetectedSpeakers)

	feed(t, s, 1)
	require.NoError(t, s.CorrectSpeaker(0, "An"))

	tr = s.CurrentTranscript()
	assert.Equal(t, "[An]: chúng ta nên đầu tư\n[Speaker 1]: tôi đồng ý", tr.FullTranscript)
	assert.Len(t, tr.Segments, 2)
	assert.Equal(t, 2.5, tr.TotalDurationSeconds)

	v, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, string(dispatch.TriggerFinal), v.Trigger)

	received := f.loopback.Received("sess-1")
	require.Len(t, received, 1)
	assert.Equal(t, tr.FullTranscript, received[0].FullTranscript)
	assert.Len(t, f.publisher.versions, 1)

	assert.Equal(t, models.ConnectionDisconnected, s.ConnectionState())
	assert.Equal(t, []models.ConnectionState{
		models.ConnectionConnecting, models.ConnectionConnected, models.ConnectionDisconnected,
	}, states.get())

	_, err = s.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, s.SendAudio(context.Background(), []byte{0}), ErrNotRunning)
}

func TestSession_CorrectionAppliesToNextVersionOnly(t *testing.T) {
	f := newFixture()
	s := New("sess-1", quietConfig(), mock.NewWithScript(script), f.deps)
	require.NoError(t, s.Start(context.Background()))
	feed(t, s, 3)

	v1, err := s.Dispatch(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.CorrectSpeaker(1, "Bình"))
	v2, err := s.Stop(context.Background())
	require.NoError(t, err)

	assert.Contains(t, v1.FullTranscript, "[Speaker 1]: tôi đồng ý")
	assert.Contains(t, v2.FullTranscript, "[Bình]: tôi đồng ý")

	versions := s.Versions()
	require.Len(t, versions, 2)
	assert.Equal(t, "Speaker 1", versions[0].SpeakerMapping.Resolve(1))
	assert.Equal(t, 2, s.CurrentTranscript().LatestVersion)
}

func TestSession_StopWithoutSpeechProducesNoVersion(t *testing.T) {
	f := newFixture()
	s := New("sess-1", quietConfig(), mock.NewWithScript(script), f.deps)
	require.NoError(t, s.Start(context.Background()))

	v, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Empty(t, f.loopback.Received("sess-1"))
	assert.Empty(t, s.Versions())
}

func TestSession_PollFeedsSummaries(t *testing.T) {
	f := newFixture()
	s := New("sess-1", quietConfig(), mock.NewWithScript(script), f.deps)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	p1 := "p1"
	for version, score := range []float64{3, 4, 5} {
		_, err := f.store.Append(models.EvaluationRecord{
			SessionID:          "sess-1",
			ParticipantID:      &p1,
			CompetencyID:       "innovation",
			TranscriptVersion:  version + 1,
			Score:              score,
			Evidence:           []string{"quote"},
			EvidenceStrength:   models.EvidenceStrong,
			CountTowardOverall: true,
		})
		require.NoError(t, err)
	}

	n, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	summaries := s.CurrentSummaries("")
	require.Len(t, summaries, 1)
	assert.Equal(t, 4.0, summaries[0].AverageScore)
	assert.Equal(t, 5.0, summaries[0].LatestScore)
	assert.Equal(t, models.TrendImproving, summaries[0].Trend)
	assert.Equal(t, 3, summaries[0].StrongEvidenceCount)
	assert.Len(t, s.CurrentSummaries("p1"), 1)
	assert.Empty(t, s.CurrentSummaries("p2"))
	assert.Len(t, s.Overview(), 1)

	// nothing new, nothing published
	n, err = s.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []int{3}, f.publisher.summaries)
}

func TestSession_ConnectionLoss(t *testing.T) {
	f := newFixture()
	adapter := mock.NewWithScript(script)
	s := New("sess-1", quietConfig(), adapter, f.deps)
	states := &stateLog{}
	s.OnStateChange(states.observe)
	require.NoError(t, s.Start(context.Background()))
	feed(t, s, 1)

	adapter.Fail(errors.New("socket reset"))
	assert.Equal(t, models.ConnectionError, s.ConnectionState())
	assert.EqualError(t, s.Err(), "socket reset")

	// what was recognized before the failure is still dispatched on stop
	v, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "[Speaker 0]: chúng ta", v.FullTranscript)
	assert.Contains(t, states.get(), models.ConnectionError)
}

type failingAdapter struct{ closed bool }

func (a *failingAdapter) Start(context.Context, stt.Callback) error { return errors.New("auth failed") }
func (a *failingAdapter) SendAudio(context.Context, []byte) error  { return nil }
func (a *failingAdapter) Close() error                             { a.closed = true; return nil }

func TestSession_StartFailure(t *testing.T) {
	s := New("sess-1", quietConfig(), &failingAdapter{}, newFixture().deps)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ConnectionError, s.ConnectionState())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestSession_InvalidTokenIgnored(t *testing.T) {
	s := New("sess-1", quietConfig(), mock.NewWithScript(nil), newFixture().deps)
	s.OnToken(models.SpeechToken{SpeakerID: 0, Text: "ok", StartMs: 0, EndMs: 10})
	s.OnToken(models.SpeechToken{SpeakerID: 0, Text: "bad", StartMs: 20, EndMs: 5})
	s.OnToken(models.SpeechToken{SpeakerID: 0, Text: models.ControlEnd})

	assert.Equal(t, "[Speaker 0]: ok", s.CurrentTranscript().FullTranscript)
}
