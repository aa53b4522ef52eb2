package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-meditation/internal/config"
	"github.com/loqalabs/loqa-meditation/internal/playback"
	"github.com/loqalabs/loqa-meditation/internal/session"
	"github.com/loqalabs/loqa-meditation/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mockConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Environment = "test"
	cfg.LLM.Mode = "mock"
	cfg.TTS.Mode = "mock"
	cfg.TTS.SampleRate = 8000
	cfg.TTS.MockDurationMS = 1500
	cfg.Playback.TimeUpdateMS = 60_000
	cfg.EventStore.RetentionMode = "session"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = ""
	return cfg
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRuntimeServesMeditations(t *testing.T) {
	r := New(mockConfig(t), testLogger())
	require.NoError(t, r.setup(context.Background()))
	t.Cleanup(func() { r.teardown(context.Background()) })
	server := httptest.NewServer(r.handler)
	t.Cleanup(server.Close)

	code, _ := get(t, server.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	r.ready.Store(true)
	code, body := get(t, server.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body)
	code, _ = get(t, server.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)

	resp, err := http.Post(server.URL+"/api/sessions", "application/json", nil)
	require.NoError(t, err)
	var created struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	base := server.URL + "/api/sessions/" + created.SessionID
	resp, err = http.Post(base+"/meditations", "application/json", strings.NewReader(`{"prompt":"tired"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, body := get(t, base)
		var v session.View
		return json.Unmarshal([]byte(body), &v) == nil && v.State == "playing"
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := r.store.ListSessionTransitions(context.Background(), created.SessionID, 0)
		return err == nil && len(got) > 0 && got[len(got)-1].State == "playing"
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		code, body := get(t, server.URL+"/metrics")
		return code == http.StatusOK && strings.Contains(body, "meditation_runs_total")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBackendFactories(t *testing.T) {
	_, err := NewScriptGenerator(config.LLMConfig{Mode: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unsupported llm mode")
	_, err = NewScriptGenerator(config.LLMConfig{Mode: "exec"})
	assert.Error(t, err)

	gen, err := NewScriptGenerator(config.LLMConfig{Mode: "mock", Format: "plain"})
	require.NoError(t, err)
	names := make([]string, 0)
	for _, d := range gen.Directives() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"persona", "format-plain"}, names)

	gen, err = NewScriptGenerator(config.LLMConfig{Mode: "mock", Directives: []config.DirectiveConfig{{Name: "only", Content: "x"}}})
	require.NoError(t, err)
	require.Len(t, gen.Directives(), 1)

	_, err = NewSynthesizer(config.TTSConfig{Mode: "fax"})
	assert.Error(t, err)
	synth, err := NewSynthesizer(config.TTSConfig{Mode: "http", Endpoint: config.DefaultSynthesisEndpoint})
	require.NoError(t, err)
	assert.NotNil(t, synth)

	dec, err := NewDecoder(config.PlaybackConfig{})
	require.NoError(t, err)
	assert.IsType(t, playback.NativeDecoder{}, dec)
	_, err = NewDecoder(config.PlaybackConfig{Decoder: "exec"})
	assert.Error(t, err)
}

func TestSessionSettingsLoadsBackground(t *testing.T) {
	cfg := config.Default()
	cfg.Background.Enabled = true
	cfg.Background.Path = filepath.Join(t.TempDir(), "missing.wav")
	_, err := SessionSettings(cfg)
	assert.Error(t, err)

	tone, err := tts.RenderTone(time.Second, 8000)
	require.NoError(t, err)
	cfg.Background.Path = writeTemp(t, "bed.wav", tone)
	cfg.Pipeline.StageTimeoutMS = 1500
	settings, err := SessionSettings(cfg)
	require.NoError(t, err)
	require.NotNil(t, settings.Background)
	assert.Equal(t, "audio/wav", settings.Background.ContentType)
	assert.Equal(t, 1500*time.Millisecond, settings.StageTimeout)
	assert.Equal(t, 0.2, settings.BackgroundVolume)
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
