package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/loqa-meditation/internal/config"
	"github.com/loqalabs/loqa-meditation/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oneShotConfig() config.Config {
	cfg := config.Default()
	cfg.LLM.Mode = "mock"
	cfg.TTS.Mode = "mock"
	cfg.TTS.SampleRate = 8000
	cfg.TTS.MockDurationMS = 1500
	return cfg
}

func TestRunOnceProducesScriptAndAudio(t *testing.T) {
	result, err := RunOnce(context.Background(), oneShotConfig(), "restless mind", testLogger())
	require.NoError(t, err)
	assert.Contains(t, result.Script, "restless mind")
	assert.Equal(t, "audio/wav", result.Asset.ContentType)
	assert.Equal(t, "RIFF", string(result.Asset.Data[:4]))
	assert.InDelta(t, 1.5, result.Duration.Seconds(), 0.05)
}

func TestRunOnceReportsFailingStage(t *testing.T) {
	synth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	t.Cleanup(synth.Close)

	cfg := oneShotConfig()
	cfg.TTS.Mode = "http"
	cfg.TTS.Endpoint = synth.URL

	result, err := RunOnce(context.Background(), cfg, "tight shoulders", testLogger())
	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageSynthesis, stageErr.Stage)
	assert.Contains(t, result.Script, "tight shoulders")
	assert.Empty(t, result.Asset.Data)

	msg := FailureMessage(err)
	assert.Contains(t, msg, "synthesis failed: ")
	assert.Contains(t, msg, "429")
}

func TestFailureMessageFallback(t *testing.T) {
	assert.Equal(t, "generation failed: "+pipeline.FallbackMessage,
		FailureMessage(&pipeline.StageError{Stage: pipeline.StageGeneration, Err: errors.New(" ")}))
	assert.Equal(t, "boom", FailureMessage(errors.New("boom")))
}
