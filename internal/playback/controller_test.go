package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-meditation/internal/notify"
	"github.com/loqalabs/loqa-meditation/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOutput struct {
	mu       sync.Mutex
	events   Events
	opened   int
	released int
	playing  bool
	position time.Duration
	volume   float64
}

func (f *fakeOutput) Open(_ Asset, _ time.Duration, events Events) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
	f.opened++
	f.position = 0
	return nil
}

func (f *fakeOutput) Play() error {
	f.mu.Lock()
	f.playing = true
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) Pause() error {
	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) Seek(pos time.Duration) error {
	f.mu.Lock()
	f.position = pos
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) SetVolume(v float64) error {
	f.mu.Lock()
	f.volume = v
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) Release() {
	f.mu.Lock()
	f.released++
	f.events = nil
	f.playing = false
	f.mu.Unlock()
}

func (f *fakeOutput) currentEvents() Events {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

type fixedDecoder struct {
	duration time.Duration
	err      error
}

func (d fixedDecoder) Duration(context.Context, Asset) (time.Duration, error) {
	return d.duration, d.err
}

type gatedDecoder struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDecoder) Duration(ctx context.Context, _ Asset) (time.Duration, error) {
	close(d.entered)
	select {
	case <-d.release:
		return time.Minute, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func newTestController(dec Decoder, autoplay bool) (*Controller, *fakeOutput) {
	out := &fakeOutput{}
	return NewController(dec, out, Options{Autoplay: autoplay}, testLogger()), out
}

func drain(l *notify.Listener[Snapshot]) []Status {
	var statuses []Status
	for {
		select {
		case s := <-l.C:
			statuses = append(statuses, s.Status)
		default:
			return statuses
		}
	}
}

var sample = Asset{Data: []byte("audio"), ContentType: "audio/mpeg"}

func TestLoadPublishesLoadingReadyPlaying(t *testing.T) {
	c, out := newTestController(fixedDecoder{duration: 5 * time.Second}, true)
	l := c.Subscribe()
	defer c.Unsubscribe(l)

	require.NoError(t, c.Load(context.Background(), sample))

	assert.Equal(t, []Status{StatusLoading, StatusReady, StatusPlaying}, drain(l))
	snap := c.Snapshot()
	assert.True(t, snap.IsPlaying())
	assert.Equal(t, 5*time.Second, snap.Duration)
	assert.Equal(t, time.Duration(0), snap.Position)
	assert.True(t, out.playing)

	got, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, sample, got)
}

func TestLoadWithoutAutoplayStaysReady(t *testing.T) {
	c, out := newTestController(fixedDecoder{duration: time.Second}, false)
	require.NoError(t, c.Load(context.Background(), Asset{Data: []byte("x")}))

	assert.Equal(t, StatusReady, c.Snapshot().Status)
	assert.False(t, out.playing)
	got, _ := c.Current()
	assert.Equal(t, DefaultContentType, got.ContentType)
}

func TestSeekClampsToDuration(t *testing.T) {
	c, out := newTestController(fixedDecoder{duration: 120 * time.Second}, false)
	require.NoError(t, c.Load(context.Background(), sample))

	require.NoError(t, c.Seek(500*time.Second))
	assert.Equal(t, 120*time.Second, c.Snapshot().Position)
	assert.Equal(t, 120*time.Second, out.position)

	require.NoError(t, c.Seek(-5*time.Second))
	assert.Equal(t, time.Duration(0), c.Snapshot().Position)

	require.NoError(t, c.Seek(42*time.Second))
	snap := c.Snapshot()
	assert.Equal(t, 42*time.Second, snap.Position)
	assert.Equal(t, StatusReady, snap.Status)
}

func TestControlsAreNoopsWithoutAsset(t *testing.T) {
	c, out := newTestController(fixedDecoder{duration: time.Second}, true)
	before := c.Snapshot()

	require.NoError(t, c.Toggle())
	require.NoError(t, c.Play())
	require.NoError(t, c.Pause())
	require.NoError(t, c.Seek(3*time.Second))

	assert.Equal(t, before, c.Snapshot())
	assert.Equal(t, StatusEmpty, c.Snapshot().Status)
	assert.False(t, out.playing)
}

func TestToggleAlternates(t *testing.T) {
	c, _ := newTestController(fixedDecoder{duration: time.Minute}, true)
	require.NoError(t, c.Load(context.Background(), sample))

	require.NoError(t, c.Toggle())
	assert.Equal(t, StatusPaused, c.Snapshot().Status)
	require.NoError(t, c.Toggle())
	assert.Equal(t, StatusPlaying, c.Snapshot().Status)
}

func TestNewAssetResetsState(t *testing.T) {
	c, out := newTestController(fixedDecoder{duration: time.Minute}, true)
	require.NoError(t, c.Load(context.Background(), sample))
	require.NoError(t, c.Seek(30*time.Second))
	require.NoError(t, c.Pause())

	second := Asset{Data: []byte("second"), ContentType: "audio/wav"}
	require.NoError(t, c.Load(context.Background(), second))

	snap := c.Snapshot()
	assert.Equal(t, StatusPlaying, snap.Status)
	assert.Equal(t, time.Duration(0), snap.Position)
	assert.Equal(t, 1, out.released)
	assert.Equal(t, 2, out.opened)
	got, _ := c.Current()
	assert.Equal(t, second, got)
}

func TestDecodeFailureReturnsToEmpty(t *testing.T) {
	c, out := newTestController(fixedDecoder{err: errors.New("not mpeg")}, true)
	l := c.Subscribe()
	defer c.Unsubscribe(l)

	err := c.Load(context.Background(), sample)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "audio/mpeg", decodeErr.ContentType)
	assert.Equal(t, []Status{StatusLoading, StatusEmpty}, drain(l))
	_, ok := c.Current()
	assert.False(t, ok)
	assert.Zero(t, out.opened)
}

func TestStaleSignalsAreIgnored(t *testing.T) {
	c, out := newTestController(fixedDecoder{duration: time.Minute}, true)
	require.NoError(t, c.Load(context.Background(), sample))
	stale := out.currentEvents()
	require.NotNil(t, stale)

	require.NoError(t, c.Load(context.Background(), sample))
	before := c.Snapshot()

	stale.TimeUpdate(40 * time.Second)
	stale.Ended()
	assert.Equal(t, before, c.Snapshot())

	out.currentEvents().TimeUpdate(7 * time.Second)
	assert.Equal(t, 7*time.Second, c.Snapshot().Position)
}

func TestEndedPausesAtDurationAndReplayRestarts(t *testing.T) {
	c, out := newTestController(fixedDecoder{duration: 5 * time.Second}, true)
	require.NoError(t, c.Load(context.Background(), sample))

	events := out.currentEvents()
	events.TimeUpdate(4 * time.Second)
	events.Ended()

	snap := c.Snapshot()
	assert.Equal(t, StatusPaused, snap.Status)
	assert.Equal(t, 5*time.Second, snap.Position)

	require.NoError(t, c.Play())
	snap = c.Snapshot()
	assert.Equal(t, StatusPlaying, snap.Status)
	assert.Equal(t, time.Duration(0), snap.Position)
	assert.Equal(t, time.Duration(0), out.position)
}

func TestResetSupersedesPendingLoad(t *testing.T) {
	dec := &gatedDecoder{entered: make(chan struct{}), release: make(chan struct{})}
	c, out := newTestController(dec, true)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Load(context.Background(), sample) }()
	<-dec.entered

	c.Reset()
	close(dec.release)

	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	assert.Equal(t, StatusEmpty, c.Snapshot().Status)
	assert.Zero(t, out.opened)
}

func TestSeqIncreasesWithEveryChange(t *testing.T) {
	c, _ := newTestController(fixedDecoder{duration: time.Minute}, true)
	l := c.Subscribe()
	defer c.Unsubscribe(l)

	require.NoError(t, c.Load(context.Background(), sample))
	require.NoError(t, c.Seek(time.Second))

	var last uint64
	for len(l.C) > 0 {
		s := <-l.C
		assert.Greater(t, s.Seq, last)
		last = s.Seq
	}
	assert.Equal(t, c.Snapshot().Seq, last)
}

func TestNativeDecoderReadsWAV(t *testing.T) {
	data, err := tts.RenderTone(3*time.Second, 8000)
	require.NoError(t, err)

	d, err := NativeDecoder{}.Duration(context.Background(), Asset{Data: data, ContentType: "audio/wav"})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, d.Seconds(), 0.05)
}

func TestNativeDecoderRejectsGarbage(t *testing.T) {
	_, err := NativeDecoder{}.Duration(context.Background(), Asset{Data: []byte("definitely not audio"), ContentType: "audio/mpeg"})
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)

	_, err = NativeDecoder{}.Duration(context.Background(), Asset{})
	assert.ErrorAs(t, err, &decodeErr)
}

func TestExecDecoderRejectsEmptyCommand(t *testing.T) {
	_, err := NewExecDecoder("  ")
	assert.Error(t, err)
}

func TestFormatClock(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{5 * time.Second, "0:05"},
		{65*time.Second + 900*time.Millisecond, "1:05"},
		{61 * time.Minute, "61:00"},
		{-3 * time.Second, "0:00"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatClock(tc.in), tc.in.String())
	}
}
