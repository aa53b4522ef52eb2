package session

import (
	"time"

	"github.com/loqalabs/loqa-meditation/internal/pipeline"
	"github.com/loqalabs/loqa-meditation/internal/playback"
)

// View is what a page renders for one session.
type View struct {
	SessionID     string          `json:"session_id"`
	RequestID     uint64          `json:"request_id,omitempty"`
	State         string          `json:"state"`
	Flags         pipeline.Flags  `json:"flags"`
	FailedStage   string          `json:"failed_stage,omitempty"`
	Script        string          `json:"script,omitempty"`
	DisplayedText string          `json:"displayed_text,omitempty"`
	Playback      PlaybackView    `json:"playback"`
	Background    *BackgroundView `json:"background,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type PlaybackView struct {
	Status          string  `json:"status"`
	Playing         bool    `json:"playing"`
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	Position        string  `json:"position"`
	Duration        string  `json:"duration"`
}

type BackgroundView struct {
	Started bool    `json:"started"`
	Volume  float64 `json:"volume"`
}

func playbackView(s playback.Snapshot) PlaybackView {
	return PlaybackView{
		Status:          s.Status.String(),
		Playing:         s.IsPlaying(),
		PositionSeconds: s.Position.Seconds(),
		DurationSeconds: s.Duration.Seconds(),
		Position:        playback.FormatClock(s.Position),
		Duration:        playback.FormatClock(s.Duration),
	}
}

func buildView(id string, state pipeline.State, snap playback.Snapshot, bed *playback.BedState, displayed string) View {
	v := View{
		SessionID:     id,
		RequestID:     state.RequestID(),
		State:         state.Kind().String(),
		Flags:         pipeline.FlagsOf(state),
		Script:        pipeline.ScriptOf(state),
		DisplayedText: displayed,
		Playback:      playbackView(snap),
		UpdatedAt:     time.Now().UTC(),
	}
	if failed, ok := state.(pipeline.Failed); ok {
		v.FailedStage = failed.Stage.String()
	}
	if bed != nil {
		v.Background = &BackgroundView{Started: bed.Started, Volume: bed.Volume}
	}
	return v
}
