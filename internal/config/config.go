package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName   string              `yaml:"runtime_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	EventStore    EventStoreConfig    `yaml:"event_store"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcriber   TranscriberConfig   `yaml:"transcriber"`
	Dictation     Settings            `yaml:"dictation"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type AudioConfig struct {
	Source          string `yaml:"source"` // device, file
	FilePath        string `yaml:"file_path"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	Realtime        bool   `yaml:"realtime"`
	MailboxCapacity int    `yaml:"mailbox_capacity"`
}

type TranscriberConfig struct {
	Command string `yaml:"command"`
}

type NotificationsConfig struct {
	Enabled       bool `yaml:"enabled"`
	Transcripts   bool `yaml:"transcripts"`
	StatusUpdates bool `yaml:"status_updates"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictation",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8085,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/dictation-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Audio: AudioConfig{
			Source:          "device",
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 1600,
			Realtime:        true,
			MailboxCapacity: 512,
		},
		Transcriber: TranscriberConfig{
			Command: "dictation-mock-stt",
		},
		Dictation: DefaultSettings(),
		Notifications: NotificationsConfig{
			Enabled:     false,
			Transcripts: true,
		},
	}
}

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
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating the parent directory when needed.
func Save(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Audio.Source, "LOQA_AUDIO_SOURCE")
	overrideString(&cfg.Audio.FilePath, "LOQA_AUDIO_FILE_PATH")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "LOQA_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FramesPerBuffer, "LOQA_AUDIO_FRAMES_PER_BUFFER")
	overrideBool(&cfg.Audio.Realtime, "LOQA_AUDIO_REALTIME")
	overrideInt(&cfg.Audio.MailboxCapacity, "LOQA_AUDIO_MAILBOX_CAPACITY")
	overrideString(&cfg.Transcriber.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.Dictation.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideBool(&cfg.Dictation.EnableDenoise, "LOQA_DICTATION_ENABLE_DENOISE")
	overrideBool(&cfg.Dictation.EnableVAD, "LOQA_DICTATION_ENABLE_VAD")
	overrideVADMode(&cfg.Dictation.VADMode, "LOQA_DICTATION_VAD_MODE")
	overrideFloat32(&cfg.Dictation.VADEnergyThreshold, "LOQA_DICTATION_VAD_ENERGY_THRESHOLD")
	overrideInt(&cfg.Dictation.VADTimeoutMS, "LOQA_DICTATION_VAD_TIMEOUT_MS")
	overrideInt(&cfg.Dictation.SilenceThresholdMS, "LOQA_DICTATION_SILENCE_THRESHOLD_MS")
	overrideBool(&cfg.Dictation.EnableKeyboardOutput, "LOQA_DICTATION_ENABLE_KEYBOARD_OUTPUT")
	overrideInt(&cfg.Dictation.KeyboardOutputDelayMS, "LOQA_DICTATION_KEYBOARD_OUTPUT_DELAY_MS")
	overrideBool(&cfg.Notifications.Enabled, "LOQA_NOTIFICATIONS_ENABLED")
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

func overrideFloat32(target *float32, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 32); err == nil {
			*target = float32(parsed)
		}
	}
}

func overrideVADMode(target *VADMode, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = VADMode(strings.ToLower(strings.TrimSpace(value)))
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
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
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Audio.Source {
	case "device":
	case "file":
		if cfg.Audio.FilePath == "" {
			return errors.New("audio.file_path must be set when source=file")
		}
	default:
		return errors.New("audio.source must be one of device|file")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		return errors.New("audio.frames_per_buffer must be positive")
	}
	if cfg.Audio.MailboxCapacity < 0 {
		return errors.New("audio.mailbox_capacity must be >= 0")
	}
	if strings.TrimSpace(cfg.Transcriber.Command) == "" {
		return errors.New("transcriber.command must not be empty")
	}
	if err := cfg.Dictation.Validate(); err != nil {
		return fmt.Errorf("dictation: %w", err)
	}
	return nil
}
