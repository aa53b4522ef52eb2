package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultSynthesisEndpoint is the text-to-speech proxy the pipeline posts scripts to.
const DefaultSynthesisEndpoint = "https://meditation-backend2.onrender.com/api/elevenlabs"

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level" toml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure" toml:"otlp_insecure"`
	MetricsPath  string `yaml:"metrics_path" toml:"metrics_path"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind" toml:"bind"`
	Port int    `yaml:"port" toml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name" toml:"runtime_name"`
	Environment string           `yaml:"environment" toml:"environment"`
	HTTP        HTTPConfig       `yaml:"http" toml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
	Bus         BusConfig        `yaml:"bus" toml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store" toml:"event_store"`
	LLM         LLMConfig        `yaml:"llm" toml:"llm"`
	TTS         TTSConfig        `yaml:"tts" toml:"tts"`
	Playback    PlaybackConfig   `yaml:"playback" toml:"playback"`
	Background  BackgroundConfig `yaml:"background" toml:"background"`
	Typewriter  TypewriterConfig `yaml:"typewriter" toml:"typewriter"`
	Pipeline    PipelineConfig   `yaml:"pipeline" toml:"pipeline"`
	Sessions    SessionsConfig   `yaml:"sessions" toml:"sessions"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	Embedded       bool     `yaml:"embedded" toml:"embedded"`
	Port           int      `yaml:"port" toml:"port"`
	StoreDir       string   `yaml:"store_dir" toml:"store_dir"`
	Servers        []string `yaml:"servers" toml:"servers"`
	Username       string   `yaml:"username" toml:"username"`
	Password       string   `yaml:"password" toml:"password"`
	Token          string   `yaml:"token" toml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure" toml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path" toml:"path"`
	RetentionMode string `yaml:"retention_mode" toml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days" toml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions" toml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start" toml:"vacuum_on_start"`
}

// DirectiveConfig is one system instruction sent alongside the prompt.
type DirectiveConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Content string `yaml:"content" toml:"content"`
}

type LLMConfig struct {
	Mode        string            `yaml:"mode" toml:"mode"` // openai, ollama, exec, mock
	APIKey      string            `yaml:"api_key" toml:"api_key"`
	BaseURL     string            `yaml:"base_url" toml:"base_url"`
	Endpoint    string            `yaml:"endpoint" toml:"endpoint"`
	Command     string            `yaml:"command" toml:"command"`
	Model       string            `yaml:"model" toml:"model"`
	MaxTokens   int               `yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64           `yaml:"temperature" toml:"temperature"`
	Format      string            `yaml:"format" toml:"format"` // ssml, plain, none
	LongForm    bool              `yaml:"long_form" toml:"long_form"`
	Directives  []DirectiveConfig `yaml:"directives" toml:"directives"`
}

type TTSConfig struct {
	Mode           string `yaml:"mode" toml:"mode"` // http, exec, mock
	Endpoint       string `yaml:"endpoint" toml:"endpoint"`
	Command        string `yaml:"command" toml:"command"`
	Voice          string `yaml:"voice" toml:"voice"`
	TimeoutMS      int    `yaml:"timeout_ms" toml:"timeout_ms"`
	SampleRate     int    `yaml:"sample_rate" toml:"sample_rate"`
	MockDurationMS int    `yaml:"mock_duration_ms" toml:"mock_duration_ms"`
}

type PlaybackConfig struct {
	Decoder        string `yaml:"decoder" toml:"decoder"` // native, exec
	DecoderCommand string `yaml:"decoder_command" toml:"decoder_command"`
	TimeUpdateMS   int    `yaml:"time_update_ms" toml:"time_update_ms"`
	Autoplay       bool   `yaml:"autoplay" toml:"autoplay"`
}

type BackgroundConfig struct {
	Enabled bool    `yaml:"enabled" toml:"enabled"`
	Path    string  `yaml:"path" toml:"path"`
	Volume  float64 `yaml:"volume" toml:"volume"`
}

type TypewriterConfig struct {
	Enabled    bool `yaml:"enabled" toml:"enabled"`
	IntervalMS int  `yaml:"interval_ms" toml:"interval_ms"`
}

type PipelineConfig struct {
	Policy         string `yaml:"policy" toml:"policy"` // supersede, reject
	StageTimeoutMS int    `yaml:"stage_timeout_ms" toml:"stage_timeout_ms"`
}

type SessionsConfig struct {
	MaxSessions int `yaml:"max_sessions" toml:"max_sessions"`
}

func Default() Config {
	return Config{
		RuntimeName: "meditation-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
			MetricsPath:  "/metrics",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/meditation-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 7,
			MaxSessions:   1000,
		},
		LLM: LLMConfig{
			Mode:        "openai",
			Endpoint:    "http://localhost:11434",
			Model:       "gpt-4o",
			MaxTokens:   0,
			Temperature: 0,
			Format:      "ssml",
			LongForm:    true,
		},
		TTS: TTSConfig{
			Mode:           "http",
			Endpoint:       DefaultSynthesisEndpoint,
			TimeoutMS:      0,
			SampleRate:     22050,
			MockDurationMS: 5000,
		},
		Playback: PlaybackConfig{
			Decoder:      "native",
			TimeUpdateMS: 250,
			Autoplay:     true,
		},
		Background: BackgroundConfig{
			Enabled: false,
			Volume:  0.2,
		},
		Typewriter: TypewriterConfig{
			Enabled:    false,
			IntervalMS: 50,
		},
		Pipeline: PipelineConfig{
			Policy:         "supersede",
			StageTimeoutMS: 0,
		},
		Sessions: SessionsConfig{
			MaxSessions: 256,
		},
	}
}

// Load reads defaults, the optional file at path (.toml or YAML) and then the
// MEDITATE_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MEDITATE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MEDITATE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MEDITATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MEDITATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MEDITATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MEDITATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MEDITATE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.MetricsPath, "MEDITATE_TELEMETRY_METRICS_PATH")
	overrideBool(&cfg.Bus.Enabled, "MEDITATE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MEDITATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MEDITATE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MEDITATE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MEDITATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MEDITATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MEDITATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MEDITATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MEDITATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MEDITATE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "MEDITATE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "MEDITATE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "MEDITATE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "MEDITATE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "MEDITATE_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "MEDITATE_LLM_MODE")
	overrideString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	overrideString(&cfg.LLM.APIKey, "MEDITATE_LLM_API_KEY")
	overrideString(&cfg.LLM.BaseURL, "MEDITATE_LLM_BASE_URL")
	overrideString(&cfg.LLM.Endpoint, "MEDITATE_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "MEDITATE_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "MEDITATE_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "MEDITATE_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "MEDITATE_LLM_TEMPERATURE")
	overrideString(&cfg.LLM.Format, "MEDITATE_LLM_FORMAT")
	overrideBool(&cfg.LLM.LongForm, "MEDITATE_LLM_LONG_FORM")
	overrideString(&cfg.TTS.Mode, "MEDITATE_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "MEDITATE_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Command, "MEDITATE_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "MEDITATE_TTS_VOICE")
	overrideInt(&cfg.TTS.TimeoutMS, "MEDITATE_TTS_TIMEOUT_MS")
	overrideInt(&cfg.TTS.SampleRate, "MEDITATE_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.MockDurationMS, "MEDITATE_TTS_MOCK_DURATION_MS")
	overrideString(&cfg.Playback.Decoder, "MEDITATE_PLAYBACK_DECODER")
	overrideString(&cfg.Playback.DecoderCommand, "MEDITATE_PLAYBACK_DECODER_COMMAND")
	overrideInt(&cfg.Playback.TimeUpdateMS, "MEDITATE_PLAYBACK_TIME_UPDATE_MS")
	overrideBool(&cfg.Playback.Autoplay, "MEDITATE_PLAYBACK_AUTOPLAY")
	overrideBool(&cfg.Background.Enabled, "MEDITATE_BACKGROUND_ENABLED")
	overrideString(&cfg.Background.Path, "MEDITATE_BACKGROUND_PATH")
	overrideFloat(&cfg.Background.Volume, "MEDITATE_BACKGROUND_VOLUME")
	overrideBool(&cfg.Typewriter.Enabled, "MEDITATE_TYPEWRITER_ENABLED")
	overrideInt(&cfg.Typewriter.IntervalMS, "MEDITATE_TYPEWRITER_INTERVAL_MS")
	overrideString(&cfg.Pipeline.Policy, "MEDITATE_PIPELINE_POLICY")
	overrideInt(&cfg.Pipeline.StageTimeoutMS, "MEDITATE_PIPELINE_STAGE_TIMEOUT_MS")
	overrideInt(&cfg.Sessions.MaxSessions, "MEDITATE_SESSIONS_MAX")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.MetricsPath == "" || !strings.HasPrefix(cfg.Telemetry.MetricsPath, "/") {
		return errors.New("telemetry.metrics_path must start with /")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.LLM.Mode {
	case "openai":
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key must be set when mode=openai")
		}
	case "ollama":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("llm.mode must be one of openai|ollama|exec|mock")
	}
	if cfg.LLM.Model == "" && cfg.LLM.Mode != "mock" && cfg.LLM.Mode != "exec" {
		return errors.New("llm.model must not be empty")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.LLM.Format {
	case "ssml", "plain", "none":
	default:
		return errors.New("llm.format must be one of ssml|plain|none")
	}
	for i, d := range cfg.LLM.Directives {
		if strings.TrimSpace(d.Content) == "" {
			return fmt.Errorf("llm.directives[%d].content must not be empty", i)
		}
	}
	switch cfg.TTS.Mode {
	case "http":
		if cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=http")
		}
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	case "mock":
		if cfg.TTS.MockDurationMS <= 0 {
			return errors.New("tts.mock_duration_ms must be positive")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
	default:
		return errors.New("tts.mode must be one of http|exec|mock")
	}
	if cfg.TTS.TimeoutMS < 0 {
		return errors.New("tts.timeout_ms must be >= 0")
	}
	switch cfg.Playback.Decoder {
	case "native":
	case "exec":
		if cfg.Playback.DecoderCommand == "" {
			return errors.New("playback.decoder_command must be set when decoder=exec")
		}
	default:
		return errors.New("playback.decoder must be one of native|exec")
	}
	if cfg.Playback.TimeUpdateMS <= 0 {
		return errors.New("playback.time_update_ms must be positive")
	}
	if cfg.Background.Enabled && cfg.Background.Path == "" {
		return errors.New("background.path must be set when background is enabled")
	}
	if cfg.Background.Volume < 0 || cfg.Background.Volume > 1 {
		return errors.New("background.volume must be between 0 and 1")
	}
	if cfg.Typewriter.Enabled && cfg.Typewriter.IntervalMS <= 0 {
		return errors.New("typewriter.interval_ms must be positive")
	}
	switch cfg.Pipeline.Policy {
	case "supersede", "reject":
	default:
		return errors.New("pipeline.policy must be one of supersede|reject")
	}
	if cfg.Pipeline.StageTimeoutMS < 0 {
		return errors.New("pipeline.stage_timeout_ms must be >= 0")
	}
	if cfg.Sessions.MaxSessions <= 0 {
		return errors.New("sessions.max_sessions must be positive")
	}
	return nil
}
