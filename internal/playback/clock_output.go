package playback

import (
	"errors"
	"sync"
	"time"
)

// ErrNotOpen is returned by output calls made before Open or after Release.
var ErrNotOpen = errors.New("output has no open asset")

const defaultTimeUpdate = 250 * time.Millisecond

// ClockOutput is a virtual audio handle. It advances the position in real
// time while playing and raises TimeUpdate every interval and Ended when
// the asset runs out (or wraps around when looping).
type ClockOutput struct {
	interval time.Duration
	loop     bool
	now      func() time.Time

	mu        sync.Mutex
	events    Events
	open      bool
	duration  time.Duration
	offset    time.Duration
	startedAt time.Time
	playing   bool
	volume    float64
	stop      chan struct{}
}

// ClockOption configures a ClockOutput.
type ClockOption func(*ClockOutput)

// WithLoop restarts the asset from zero when it ends instead of raising Ended.
func WithLoop() ClockOption {
	return func(o *ClockOutput) { o.loop = true }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ClockOption {
	return func(o *ClockOutput) { o.now = now }
}

func NewClockOutput(interval time.Duration, opts ...ClockOption) *ClockOutput {
	if interval <= 0 {
		interval = defaultTimeUpdate
	}
	o := &ClockOutput{interval: interval, now: time.Now, volume: 1}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *ClockOutput) Open(_ Asset, duration time.Duration, events Events) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.haltLocked()
	o.events = events
	o.open = true
	o.duration = duration
	o.offset = 0
	return nil
}

func (o *ClockOutput) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.open {
		return ErrNotOpen
	}
	if o.playing {
		return nil
	}
	if o.offset >= o.duration {
		o.offset = 0
	}
	o.playing = true
	o.startedAt = o.now()
	o.stop = make(chan struct{})
	go o.tick(o.stop, o.events)
	return nil
}

func (o *ClockOutput) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.open {
		return ErrNotOpen
	}
	o.haltLocked()
	return nil
}

func (o *ClockOutput) Seek(position time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.open {
		return ErrNotOpen
	}
	o.offset = clampPosition(position, o.duration)
	if o.playing {
		o.startedAt = o.now()
	}
	return nil
}

func (o *ClockOutput) SetVolume(volume float64) error {
	o.mu.Lock()
	o.volume = volume
	o.mu.Unlock()
	return nil
}

// Volume returns the last applied volume.
func (o *ClockOutput) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// Position returns the current playhead.
func (o *ClockOutput) Position() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.positionLocked()
}

func (o *ClockOutput) Playing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing
}

func (o *ClockOutput) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.haltLocked()
	o.open = false
	o.events = nil
	o.duration = 0
	o.offset = 0
}

// haltLocked freezes the playhead and stops the ticker goroutine.
func (o *ClockOutput) haltLocked() {
	if !o.playing {
		return
	}
	o.offset = o.positionLocked()
	o.playing = false
	close(o.stop)
	o.stop = nil
}

func (o *ClockOutput) positionLocked() time.Duration {
	if !o.playing {
		return o.offset
	}
	pos := o.offset + o.now().Sub(o.startedAt)
	if o.loop && o.duration > 0 {
		return pos % o.duration
	}
	return clampPosition(pos, o.duration)
}

func (o *ClockOutput) tick(stop chan struct{}, events Events) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		if o.stop != stop {
			o.mu.Unlock()
			return
		}
		raw := o.offset + o.now().Sub(o.startedAt)
		ended := false
		pos := raw
		switch {
		case raw < o.duration:
		case o.loop && o.duration > 0:
			pos = raw % o.duration
			o.offset = pos
			o.startedAt = o.now()
		default:
			pos = o.duration
			o.offset = o.duration
			o.playing = false
			close(o.stop)
			o.stop = nil
			ended = true
		}
		o.mu.Unlock()

		if events == nil {
			if ended {
				return
			}
			continue
		}
		events.TimeUpdate(pos)
		if ended {
			events.Ended()
			return
		}
	}
}
