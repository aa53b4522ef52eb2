package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// FallbackMessage is shown when a failure carries no text of its own.
const FallbackMessage = "An error occurred."

var (
	ErrSuperseded = errors.New("request superseded by a newer request")
	ErrBusy       = errors.New("a request is already in flight")
	ErrCancelled  = errors.New("request cancelled")
	ErrClosed     = errors.New("pipeline closed")
)

// Stage names a pipeline step.
type Stage int

const (
	StageGeneration Stage = iota + 1
	StageSynthesis
	StagePlayback
)

func (s Stage) String() string {
	switch s {
	case StageGeneration:
		return "generation"
	case StageSynthesis:
		return "synthesis"
	case StagePlayback:
		return "playback"
	default:
		return "unknown"
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StageError wraps the failure of one stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Message is the text shown to the user.
func (e *StageError) Message() string {
	if e.Err == nil || strings.TrimSpace(e.Err.Error()) == "" {
		return FallbackMessage
	}
	return e.Err.Error()
}
