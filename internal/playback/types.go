// Package playback owns the audio asset produced by a meditation run and
// the play/pause/seek state derived from it.
package playback

import (
	"fmt"
	"math"
	"time"
)

// DefaultContentType is assumed when an asset arrives untagged.
const DefaultContentType = "audio/mpeg"

// Asset is a synthesized audio payload. It is immutable once produced.
type Asset struct {
	Data        []byte
	ContentType string
}

// Status is the controller phase.
type Status int

const (
	StatusEmpty Status = iota
	StatusLoading
	StatusReady
	StatusPlaying
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Loaded reports whether an asset is decoded and controllable.
func (s Status) Loaded() bool {
	return s == StatusReady || s == StatusPlaying || s == StatusPaused
}

// Snapshot is the observable playback state. Seq increases with every
// published change so consumers can drop out-of-order copies.
type Snapshot struct {
	Status   Status
	Position time.Duration
	Duration time.Duration
	Seq      uint64
}

func (s Snapshot) IsPlaying() bool {
	return s.Status == StatusPlaying
}

// Events receives signals raised by an Output while an asset is open.
type Events interface {
	TimeUpdate(position time.Duration)
	Ended()
}

// Output is an audio sink. Implementations raise Events from their own
// goroutines and must never call back synchronously from these methods.
type Output interface {
	Open(asset Asset, duration time.Duration, events Events) error
	Play() error
	Pause() error
	Seek(position time.Duration) error
	SetVolume(volume float64) error
	Release()
}

// DecodeError reports that an asset could not be decoded.
type DecodeError struct {
	ContentType string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s audio: %v", e.ContentType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FormatClock renders d as m:ss. Negative or unknown values render as 0:00.
func FormatClock(d time.Duration) string {
	secs := d.Seconds()
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		secs = 0
	}
	total := int(math.Floor(secs))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func clampPosition(pos, duration time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if pos > duration {
		return duration
	}
	return pos
}
