package runtime

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-meditation/internal/config"
	"github.com/loqalabs/loqa-meditation/internal/llm"
	"github.com/loqalabs/loqa-meditation/internal/pipeline"
	"github.com/loqalabs/loqa-meditation/internal/playback"
	"github.com/loqalabs/loqa-meditation/internal/script"
	"github.com/loqalabs/loqa-meditation/internal/session"
	"github.com/loqalabs/loqa-meditation/internal/tts"
)

// NewScriptGenerator builds the generation stage from configuration.
func NewScriptGenerator(cfg config.LLMConfig) (*script.Generator, error) {
	var (
		backend llm.Generator
		err     error
	)
	switch cfg.Mode {
	case "openai":
		backend, err = llm.NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "ollama":
		backend = llm.NewOllamaGenerator(cfg.Endpoint, cfg.Model)
	case "exec":
		backend, err = llm.NewExecGenerator(cfg.Command)
	case "mock":
		backend = llm.NewMockGenerator()
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("llm backend: %w", err)
	}
	return script.NewGenerator(backend, directivesFrom(cfg), script.Options{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
}

func directivesFrom(cfg config.LLMConfig) []script.Directive {
	if len(cfg.Directives) == 0 {
		return script.BuildDirectives(cfg.Format, cfg.LongForm)
	}
	out := make([]script.Directive, 0, len(cfg.Directives))
	for _, d := range cfg.Directives {
		out = append(out, script.Directive{Name: d.Name, Content: d.Content})
	}
	return out
}

// NewSynthesizer builds the synthesis stage from configuration.
func NewSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "http":
		return tts.NewHTTPSynth(cfg.Endpoint, millis(cfg.TimeoutMS)), nil
	case "exec":
		return tts.NewExecSynth(cfg.Command)
	case "mock":
		return tts.NewMockSynth(cfg.SampleRate, millis(cfg.MockDurationMS)), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}

// NewDecoder picks how loaded audio is probed for its duration.
func NewDecoder(cfg config.PlaybackConfig) (playback.Decoder, error) {
	switch cfg.Decoder {
	case "", "native":
		return playback.NativeDecoder{}, nil
	case "exec":
		return playback.NewExecDecoder(cfg.DecoderCommand)
	default:
		return nil, fmt.Errorf("unsupported playback decoder %q", cfg.Decoder)
	}
}

// SessionSettings maps configuration onto per-session settings, loading
// the background bed from disk when enabled.
func SessionSettings(cfg config.Config) (session.Settings, error) {
	settings := session.Settings{
		Policy:             pipeline.Policy(cfg.Pipeline.Policy),
		StageTimeout:       millis(cfg.Pipeline.StageTimeoutMS),
		Voice:              cfg.TTS.Voice,
		Autoplay:           cfg.Playback.Autoplay,
		TimeUpdate:         millis(cfg.Playback.TimeUpdateMS),
		Typewriter:         cfg.Typewriter.Enabled,
		TypewriterInterval: millis(cfg.Typewriter.IntervalMS),
		BackgroundVolume:   cfg.Background.Volume,
		MaxSessions:        cfg.Sessions.MaxSessions,
	}
	if cfg.Background.Enabled {
		asset, err := playback.LoadBedAsset(cfg.Background.Path)
		if err != nil {
			return settings, fmt.Errorf("background: %w", err)
		}
		settings.Background = &asset
	}
	return settings, nil
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
