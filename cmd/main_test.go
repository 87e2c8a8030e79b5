package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"case-study-live-eval/internal/config"
	"case-study-live-eval/internal/schema"
	"case-study-live-eval/internal/service/evaluation"
	"case-study-live-eval/internal/service/evaluator"
	"case-study-live-eval/internal/service/session"
	"case-study-live-eval/internal/service/stt"
	"case-study-live-eval/internal/service/stt/mock"
)

func TestAdapterFactory(t *testing.T) {
	factory, err := adapterFactory(config.STTConfig{Provider: stt.ProviderMock})
	require.NoError(t, err)
	a, err := factory(context.Background(), "s1")
	require.NoError(t, err)
	assert.IsType(t, &mock.Adapter{}, a)

	_, err = adapterFactory(config.STTConfig{Provider: stt.ProviderSoniox})
	assert.Error(t, err, "soniox without an API key")

	_, err = adapterFactory(config.STTConfig{Provider: "whisper"})
	assert.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	local := newBackend(&config.Config{}, schema.New(), nil, nil)
	require.NotNil(t, local.store)
	assert.IsType(t, &evaluator.Loopback{}, local.deps.Evaluator)
	assert.Same(t, local.store, local.deps.Fetcher)

	remote := newBackend(&config.Config{Evaluator: config.EvaluatorConfig{BaseURL: "http://evaluator"}}, schema.New(), nil, nil)
	assert.Nil(t, remote.store)
	assert.IsType(t, &evaluator.Client{}, remote.deps.Evaluator)
}

func TestReplay(t *testing.T) {
	cfg := &config.Config{}
	b := newBackend(cfg, schema.New(), evaluation.DefaultCatalog(), nil)

	var adapter *mock.Adapter
	factory := func(context.Context, string) (stt.Adapter, error) {
		adapter = mock.NewWithScript(mock.DefaultScript)
		return adapter, nil
	}
	sessions := session.NewManager(sessionConfig(cfg), b.deps, factory)

	res, err := replay(context.Background(), sessions, func() *mock.Adapter { return adapter }, replayOptions{
		speakers: []string{"An", "Bình", "Chi"},
	})
	require.NoError(t, err)

	assert.Contains(t, res.Transcript.FullTranscript, "[An]: Chúng ta nên đầu tư vào ngân hàng số.")
	assert.Contains(t, res.Transcript.FullTranscript, "[Chi]: Chi phí triển khai là bao nhiêu?")
	assert.Equal(t, []int{0, 1, 2}, res.Transcript.DetectedSpeakers)
	require.Len(t, res.Versions, 1)
	assert.Equal(t, "final", res.Versions[0].Trigger)
	assert.Empty(t, res.Summaries)
}

func TestStreamURL(t *testing.T) {
	u, err := streamURL("http://localhost:8080/", "s 1")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/v1/sessions/s%201/stream", u)

	u, err = streamURL("https://eval.example.com/live", "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://eval.example.com/live/v1/sessions/abc/stream", u)
}
