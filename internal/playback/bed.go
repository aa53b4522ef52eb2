package playback

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/loqalabs/loqa-meditation/internal/notify"
)

// BedState is everything the background bed exposes.
type BedState struct {
	Started bool
	Volume  float64
}

// Bed is a looping background track on its own output. It is independent
// of the Controller: nothing here reads or changes the meditation playback.
type Bed struct {
	asset   Asset
	decoder Decoder
	output  Output
	logger  *slog.Logger
	hub     *notify.Hub[BedState]

	mu      sync.Mutex
	started bool
	volume  float64
}

func NewBed(asset Asset, decoder Decoder, output Output, volume float64, logger *slog.Logger) *Bed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bed{
		asset:   asset,
		decoder: decoder,
		output:  output,
		volume:  ClampVolume(volume),
		logger:  logger.With(slog.String("component", "background")),
		hub:     notify.NewHub[BedState](0),
	}
}

// LoadBedAsset reads a background track from disk.
func LoadBedAsset(path string) (Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Asset{}, fmt.Errorf("read background track: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if isWAV(data) {
		contentType = "audio/wav"
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	return Asset{Data: data, ContentType: contentType}, nil
}

// ClampVolume limits v to [0, 1].
func ClampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Start begins looping playback. Calls after the first are no-ops.
func (b *Bed) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	duration, err := b.decoder.Duration(ctx, b.asset)
	if err != nil {
		return err
	}
	if err := b.output.Open(b.asset, duration, nil); err != nil {
		return err
	}
	if err := b.output.SetVolume(b.volume); err != nil {
		return err
	}
	if err := b.output.Play(); err != nil {
		return err
	}
	b.started = true
	b.logger.Debug("background started", slog.Float64("volume", b.volume))
	b.hub.Publish(b.stateLocked())
	return nil
}

// SetVolume applies v clamped to [0, 1] and returns the applied value.
func (b *Bed) SetVolume(v float64) (float64, error) {
	v = ClampVolume(v)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		if err := b.output.SetVolume(v); err != nil {
			return b.volume, err
		}
	}
	b.volume = v
	b.hub.Publish(b.stateLocked())
	return v, nil
}

func (b *Bed) State() BedState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Bed) Subscribe() *notify.Listener[BedState] {
	return b.hub.Subscribe()
}

func (b *Bed) Unsubscribe(l *notify.Listener[BedState]) {
	b.hub.Unsubscribe(l)
}

func (b *Bed) Close() {
	b.mu.Lock()
	if b.started {
		b.output.Release()
		b.started = false
	}
	b.mu.Unlock()
	b.hub.Close()
}

func (b *Bed) stateLocked() BedState {
	return BedState{Started: b.started, Volume: b.volume}
}
