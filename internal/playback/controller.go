package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-meditation/internal/notify"
)

// ErrSuperseded is returned by Load when a newer Load or Reset overtook it.
var ErrSuperseded = errors.New("playback load superseded")

type Options struct {
	// Autoplay starts playback as soon as a loaded asset is ready.
	Autoplay bool
}

// Controller tracks the single current asset and its playback state. All
// state changes are published to subscribers; the controller never polls
// its output, it only reacts to the signals the output raises.
type Controller struct {
	decoder Decoder
	output  Output
	opts    Options
	logger  *slog.Logger
	hub     *notify.Hub[Snapshot]

	mu       sync.Mutex
	gen      uint64
	seq      uint64
	status   Status
	position time.Duration
	duration time.Duration
	asset    *Asset
}

func NewController(decoder Decoder, output Output, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		decoder: decoder,
		output:  output,
		opts:    opts,
		logger:  logger.With(slog.String("component", "playback")),
		hub:     notify.NewHub[Snapshot](0),
	}
}

// Load replaces the current asset. The previous asset is released and the
// state passes through Loading before the new asset is decoded.
func (c *Controller) Load(ctx context.Context, asset Asset) error {
	if asset.ContentType == "" {
		asset.ContentType = DefaultContentType
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.detachLocked()
	c.setLocked(StatusLoading, 0, 0)
	c.mu.Unlock()

	duration, err := c.decoder.Duration(ctx, asset)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return ErrSuperseded
	}
	if err != nil {
		c.setLocked(StatusEmpty, 0, 0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			err = &DecodeError{ContentType: asset.ContentType, Err: err}
		}
		c.logger.Warn("asset decode failed", slog.String("content_type", asset.ContentType), slogError(err))
		return err
	}

	if err := c.output.Open(asset, duration, &signal{c: c, gen: gen}); err != nil {
		c.setLocked(StatusEmpty, 0, 0)
		return &DecodeError{ContentType: asset.ContentType, Err: err}
	}
	c.asset = &asset
	c.setLocked(StatusReady, 0, duration)
	c.logger.Debug("asset ready", slog.Duration("duration", duration), slog.Int("bytes", len(asset.Data)))

	if c.opts.Autoplay {
		if err := c.output.Play(); err != nil {
			c.logger.Warn("autoplay failed", slogError(err))
			return nil
		}
		c.setLocked(StatusPlaying, 0, duration)
	}
	return nil
}

// Toggle flips between playing and paused. It does nothing without a
// loaded asset.
func (c *Controller) Toggle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.Loaded() {
		return nil
	}
	if c.status == StatusPlaying {
		return c.pauseLocked()
	}
	return c.playLocked()
}

func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.Loaded() || c.status == StatusPlaying {
		return nil
	}
	return c.playLocked()
}

func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPlaying {
		return nil
	}
	return c.pauseLocked()
}

// Seek moves the playhead, clamped to [0, duration]. The play/pause state
// is unchanged.
func (c *Controller) Seek(position time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.Loaded() {
		return nil
	}
	pos := clampPosition(position, c.duration)
	if err := c.output.Seek(pos); err != nil {
		return err
	}
	c.setLocked(c.status, pos, c.duration)
	return nil
}

// Reset discards the current asset and returns to Empty.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.detachLocked()
	if c.status != StatusEmpty || c.position != 0 || c.duration != 0 {
		c.setLocked(StatusEmpty, 0, 0)
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Current returns the loaded asset, if any.
func (c *Controller) Current() (Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.asset == nil {
		return Asset{}, false
	}
	return *c.asset, true
}

func (c *Controller) Subscribe() *notify.Listener[Snapshot] {
	return c.hub.Subscribe()
}

func (c *Controller) Unsubscribe(l *notify.Listener[Snapshot]) {
	c.hub.Unsubscribe(l)
}

// Close releases the output and drops every subscriber.
func (c *Controller) Close() {
	c.Reset()
	c.hub.Close()
}

func (c *Controller) playLocked() error {
	pos := c.position
	if pos >= c.duration {
		pos = 0
		if err := c.output.Seek(0); err != nil {
			return err
		}
	}
	if err := c.output.Play(); err != nil {
		return err
	}
	c.setLocked(StatusPlaying, pos, c.duration)
	return nil
}

func (c *Controller) pauseLocked() error {
	if err := c.output.Pause(); err != nil {
		return err
	}
	c.setLocked(StatusPaused, c.position, c.duration)
	return nil
}

func (c *Controller) detachLocked() {
	if c.asset != nil {
		c.output.Release()
		c.asset = nil
	}
}

func (c *Controller) setLocked(status Status, position, duration time.Duration) {
	c.status = status
	c.position = position
	c.duration = duration
	c.seq++
	c.hub.Publish(c.snapshotLocked())
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{Status: c.status, Position: c.position, Duration: c.duration, Seq: c.seq}
}

// signal routes output events for one load generation; anything raised by
// an asset that has since been replaced is dropped.
type signal struct {
	c   *Controller
	gen uint64
}

func (s *signal) TimeUpdate(position time.Duration) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.gen != c.gen || c.status != StatusPlaying {
		return
	}
	c.setLocked(StatusPlaying, clampPosition(position, c.duration), c.duration)
}

func (s *signal) Ended() {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.gen != c.gen || c.status != StatusPlaying {
		return
	}
	c.setLocked(StatusPaused, c.duration, c.duration)
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
