package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-meditation/internal/config"
	"github.com/loqalabs/loqa-meditation/internal/pipeline"
	"github.com/loqalabs/loqa-meditation/internal/playback"
)

// Meditation is the outcome of a single synchronous pipeline run.
type Meditation struct {
	Script   string
	Asset    playback.Asset
	Duration time.Duration
}

// RunOnce drives one request through the full pipeline without starting
// playback. On failure the returned Meditation still carries any script
// produced before the failing stage.
func RunOnce(ctx context.Context, cfg config.Config, prompt string, logger *slog.Logger) (Meditation, error) {
	generator, err := NewScriptGenerator(cfg.LLM)
	if err != nil {
		return Meditation{}, err
	}
	synth, err := NewSynthesizer(cfg.TTS)
	if err != nil {
		return Meditation{}, err
	}
	decoder, err := NewDecoder(cfg.Playback)
	if err != nil {
		return Meditation{}, err
	}

	player := playback.NewController(decoder, playback.NewClockOutput(time.Hour), playback.Options{Autoplay: false}, logger)
	defer player.Close()
	orch, err := pipeline.New(generator, synth, player, pipeline.Options{
		SessionID:    "cli",
		Voice:        cfg.TTS.Voice,
		Policy:       pipeline.PolicyReject,
		StageTimeout: millis(cfg.Pipeline.StageTimeoutMS),
	}, logger)
	if err != nil {
		return Meditation{}, err
	}
	defer orch.Close()

	final, err := orch.Run(ctx, prompt)
	result := Meditation{Script: pipeline.ScriptOf(final)}
	if err != nil {
		return result, err
	}
	asset, ok := player.Current()
	if !ok {
		return result, errors.New("pipeline finished without audio")
	}
	result.Asset = asset
	result.Duration = player.Snapshot().Duration
	return result, nil
}

// FailureMessage renders err the way the view's error region does.
func FailureMessage(err error) string {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return fmt.Sprintf("%s failed: %s", stageErr.Stage, stageErr.Message())
	}
	if err == nil || err.Error() == "" {
		return pipeline.FallbackMessage
	}
	return err.Error()
}
