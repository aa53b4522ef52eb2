// Package pipeline sequences script generation, speech synthesis and audio
// loading for one session and exposes where the run currently is.
package pipeline

import (
	"fmt"

	"github.com/loqalabs/loqa-meditation/internal/playback"
)

// Kind is the coarse phase of a pipeline.
type Kind int

const (
	KindIdle Kind = iota
	KindGenerating
	KindSynthesizing
	KindLoading
	KindReady
	KindPlaying
	KindPaused
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindGenerating:
		return "generating"
	case KindSynthesizing:
		return "synthesizing"
	case KindLoading:
		return "loading"
	case KindReady:
		return "ready"
	case KindPlaying:
		return "playing"
	case KindPaused:
		return "paused"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is one of Idle, Generating, Synthesizing, Audio or Failed.
type State interface {
	Kind() Kind
	RequestID() uint64
	isState()
}

type Idle struct{}

type Generating struct {
	ID uint64
}

type Synthesizing struct {
	ID     uint64
	Script string
}

// Audio holds a synthesized asset handed to the playback controller.
// Playback mirrors the controller's latest snapshot.
type Audio struct {
	ID       uint64
	Script   string
	Playback playback.Snapshot
}

// Failed carries the stage that failed and the user-facing message. Script
// is kept when generation had already succeeded.
type Failed struct {
	ID      uint64
	Script  string
	Stage   Stage
	Message string
}

func (Idle) Kind() Kind         { return KindIdle }
func (Generating) Kind() Kind   { return KindGenerating }
func (Synthesizing) Kind() Kind { return KindSynthesizing }
func (Failed) Kind() Kind       { return KindFailed }

func (a Audio) Kind() Kind {
	switch a.Playback.Status {
	case playback.StatusReady:
		return KindReady
	case playback.StatusPlaying:
		return KindPlaying
	case playback.StatusPaused:
		return KindPaused
	default:
		return KindLoading
	}
}

func (Idle) RequestID() uint64           { return 0 }
func (s Generating) RequestID() uint64   { return s.ID }
func (s Synthesizing) RequestID() uint64 { return s.ID }
func (s Audio) RequestID() uint64        { return s.ID }
func (s Failed) RequestID() uint64       { return s.ID }

func (Idle) isState()         {}
func (Generating) isState()   {}
func (Synthesizing) isState() {}
func (Audio) isState()        {}
func (Failed) isState()       {}

// ScriptOf returns the script carried by s, if any.
func ScriptOf(s State) string {
	switch v := s.(type) {
	case Synthesizing:
		return v.Script
	case Audio:
		return v.Script
	case Failed:
		return v.Script
	default:
		return ""
	}
}

// Flags is the coarse projection the presentation layer binds to.
type Flags struct {
	IsGenerating   bool   `json:"is_generating"`
	IsSynthesizing bool   `json:"is_synthesizing"`
	IsLoading      bool   `json:"is_loading"`
	HasError       bool   `json:"has_error"`
	ErrorDetail    string `json:"error_detail,omitempty"`
}

// Busy reports whether any stage is in flight.
func (f Flags) Busy() bool {
	return f.IsGenerating || f.IsSynthesizing || f.IsLoading
}

func FlagsOf(s State) Flags {
	switch v := s.(type) {
	case Generating:
		return Flags{IsGenerating: true}
	case Synthesizing:
		return Flags{IsSynthesizing: true}
	case Audio:
		return Flags{IsLoading: v.Kind() == KindLoading}
	case Failed:
		return Flags{HasError: true, ErrorDetail: v.Message}
	default:
		return Flags{}
	}
}
