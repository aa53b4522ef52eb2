package tts

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth  = 16
	wavPCMFormat = 1
	toneHz       = 220.0
	toneLevel    = 0.05
)

type mockSynth struct {
	sampleRate int
	duration   time.Duration
}

// NewMockSynth renders a quiet sine tone of the given duration instead of
// calling a speech service.
func NewMockSynth(sampleRate int, duration time.Duration) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, duration: duration}
}

func (m *mockSynth) Synthesize(ctx context.Context, _ SynthRequest) (Audio, error) {
	select {
	case <-ctx.Done():
		return Audio{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	data, err := RenderTone(m.duration, m.sampleRate)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Data: data, ContentType: "audio/wav"}, nil
}

// RenderTone encodes a mono 16-bit WAV of the given length.
func RenderTone(duration time.Duration, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive")
	}
	n := int(duration.Seconds() * float64(sampleRate))
	samples := make([]int, n)
	amplitude := toneLevel * math.MaxInt16
	for i := range samples {
		samples[i] = int(amplitude * math.Sin(2*math.Pi*toneHz*float64(i)/float64(sampleRate)))
	}
	return EncodeWAV(samples, sampleRate)
}

// EncodeWAV writes mono 16-bit samples as a WAV file and returns its bytes.
func EncodeWAV(samples []int, sampleRate int) ([]byte, error) {
	tmp, err := os.CreateTemp("", "meditation-tone-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := wav.NewEncoder(tmp, sampleRate, wavBitDepth, 1, wavPCMFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(tmp.Name())
}
