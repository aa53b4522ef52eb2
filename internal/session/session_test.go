package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-meditation/internal/llm"
	"github.com/loqalabs/loqa-meditation/internal/pipeline"
	"github.com/loqalabs/loqa-meditation/internal/playback"
	"github.com/loqalabs/loqa-meditation/internal/script"
	"github.com/loqalabs/loqa-meditation/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu    sync.Mutex
	views []View
}

func (r *recordingSink) Observe(_ context.Context, v View) error {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.views))
	for _, v := range r.views {
		out = append(out, v.State)
	}
	return out
}

func newManager(t *testing.T, settings Settings, sinks ...Sink) *Manager {
	t.Helper()
	gen, err := script.NewGenerator(llm.NewMockGenerator(), script.DefaultDirectives(), script.Options{Model: "mock"})
	require.NoError(t, err)
	if settings.TimeUpdate == 0 {
		settings.TimeUpdate = time.Hour
	}
	m := NewManager(gen, tts.NewMockSynth(8000, 2*time.Second), playback.NativeDecoder{}, settings, testLogger(), sinks...)
	t.Cleanup(m.Close)
	return m
}

func TestManagerLifecycle(t *testing.T) {
	m := newManager(t, Settings{MaxSessions: 2})

	a, err := m.Create()
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	_, err = m.Ensure("relay-1")
	require.NoError(t, err)
	_, err = m.Create()
	assert.ErrorIs(t, err, ErrTooManySessions)

	again, err := m.Ensure("relay-1")
	require.NoError(t, err)
	assert.Equal(t, "relay-1", again.ID)

	got, ok := m.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.True(t, m.Delete(a.ID))
	assert.False(t, m.Delete(a.ID))
	assert.Equal(t, 1, m.Len())
}

func TestSubmitReachesPlayingAndNotifiesSinks(t *testing.T) {
	sink := &recordingSink{}
	m := newManager(t, Settings{Autoplay: true}, sink)
	sess, err := m.Create()
	require.NoError(t, err)

	id, err := sess.Submit("exam stress")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	require.Eventually(t, func() bool { return sess.View().State == "playing" }, 2*time.Second, 10*time.Millisecond)

	v := sess.View()
	assert.False(t, v.Flags.Busy())
	assert.False(t, v.Flags.HasError)
	assert.Contains(t, v.Script, "exam stress")
	assert.InDelta(t, 2.0, v.Playback.DurationSeconds, 0.05)
	assert.Equal(t, "0:02", v.Playback.Duration)
	assert.Nil(t, v.Background)

	asset, ok := sess.Audio()
	require.True(t, ok)
	assert.Equal(t, "audio/wav", asset.ContentType)

	require.Eventually(t, func() bool {
		states := sink.states()
		return len(states) > 0 && states[len(states)-1] == "playing"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "generating", sink.states()[0])
}

func TestTypewriterRevealsScript(t *testing.T) {
	m := newManager(t, Settings{Autoplay: true, Typewriter: true, TypewriterInterval: time.Millisecond})
	sess, err := m.Create()
	require.NoError(t, err)

	final, err := sess.Run(context.Background(), "sleep")
	require.NoError(t, err)
	want := pipeline.ScriptOf(final)

	require.Eventually(t, func() bool { return sess.View().DisplayedText == want }, 5*time.Second, 5*time.Millisecond)
}

func TestBackgroundStartsOnFirstInteraction(t *testing.T) {
	tone, err := tts.RenderTone(time.Second, 8000)
	require.NoError(t, err)
	m := newManager(t, Settings{
		Background:       &playback.Asset{Data: tone, ContentType: "audio/wav"},
		BackgroundVolume: 0.2,
	})
	sess, err := m.Create()
	require.NoError(t, err)
	assert.Equal(t, &BackgroundView{Started: false, Volume: 0.2}, sess.View().Background)

	// nothing loaded yet: the toggle is a no-op but still counts as interaction
	require.NoError(t, sess.Toggle())
	assert.Equal(t, &BackgroundView{Started: true, Volume: 0.2}, sess.View().Background)
	assert.Equal(t, "empty", sess.View().Playback.Status)

	v, err := sess.SetBackgroundVolume(3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestBackgroundVolumeWithoutBed(t *testing.T) {
	m := newManager(t, Settings{})
	sess, err := m.Create()
	require.NoError(t, err)

	_, err = sess.SetBackgroundVolume(0.5)
	assert.ErrorIs(t, err, ErrNoBackground)
}

func TestCancelReturnsToIdle(t *testing.T) {
	m := newManager(t, Settings{})
	sess, err := m.Create()
	require.NoError(t, err)

	_, err = sess.Submit("anything")
	require.NoError(t, err)
	sess.Cancel()

	require.Eventually(t, func() bool {
		v := sess.View()
		return v.State == "idle" || v.State == "ready"
	}, time.Second, 5*time.Millisecond)
}
