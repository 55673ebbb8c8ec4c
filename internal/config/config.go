package config

import (
	"errors"
	"fmt"
	"os"
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
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// CaptureConfig describes the desktop capture front-end: where frames come
// from and how the push-to-talk trigger behaves.
type CaptureConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Channel    string `yaml:"channel"`
	Mode       string `yaml:"mode"` // exec, bus
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	FrameMS    int    `yaml:"frame_ms"`
	MinHoldMS  int    `yaml:"min_hold_ms"`
}

// SegmenterConfig holds the voice activity tunables. These are the main
// precision/latency levers, so every threshold is configurable.
type SegmenterConfig struct {
	RMSThreshold float64 `yaml:"rms_threshold"`
	OnsetMinMS   int     `yaml:"onset_min_ms"`
	GapMS        int     `yaml:"gap_ms"`
	MinSegmentMS int     `yaml:"min_segment_ms"`
	MaxSegmentMS int     `yaml:"max_segment_ms"`
	PreRollMS    int     `yaml:"pre_roll_ms"`
}

type TranscriberConfig struct {
	Mode      string `yaml:"mode"` // exec, http, mock
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	ServerURL string `yaml:"server_url"`
	Language  string `yaml:"language"` // BCP-47 code or "auto"
	TimeoutMS int    `yaml:"timeout_ms"`
}

type RewriterConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Mode           string  `yaml:"mode"` // ollama, openai, exec, mock
	Endpoint       string  `yaml:"endpoint"`
	Command        string  `yaml:"command"`
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"api_key"`
	OutputLanguage string  `yaml:"output_language"` // code or "auto" = preserve input
	RewriteOnAuto  bool    `yaml:"rewrite_on_auto"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutMS      int     `yaml:"timeout_ms"`
}

type DeliveryConfig struct {
	Mode             string `yaml:"mode"` // type, clipboard
	TypeCommand      string `yaml:"type_command"`
	ClipboardCommand string `yaml:"clipboard_command"`
}

type RemoteConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ConvertCommand   string `yaml:"convert_command"`
	ConvertTimeoutMS int    `yaml:"convert_timeout_ms"`
	MaxBlobBytes     int    `yaml:"max_blob_bytes"`
	IdleTimeoutMS    int    `yaml:"idle_timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Capture     CaptureConfig     `yaml:"capture"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Rewriter    RewriterConfig    `yaml:"rewriter"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Remote      RemoteConfig      `yaml:"remote"`
	History     HistoryConfig     `yaml:"history"`
}

func Default() Config {
	return Config{
		RuntimeName: "scribe-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			Enabled:    true,
			Channel:    "desktop",
			Mode:       "bus",
			SampleRate: 16000,
			Channels:   1,
			FrameMS:    30,
			MinHoldMS:  250,
		},
		Segmenter: SegmenterConfig{
			RMSThreshold: 400,
			OnsetMinMS:   90,
			GapMS:        2000,
			MinSegmentMS: 200,
			MaxSegmentMS: 30000,
			PreRollMS:    250,
		},
		Transcriber: TranscriberConfig{
			Mode:      "mock",
			Language:  "auto",
			TimeoutMS: 45000,
		},
		Rewriter: RewriterConfig{
			Enabled:        false,
			Mode:           "mock",
			Endpoint:       "http://localhost:11434",
			Model:          "llama3.2:latest",
			OutputLanguage: "auto",
			RewriteOnAuto:  true,
			MaxTokens:      300,
			Temperature:    0,
			TimeoutMS:      60000,
		},
		Delivery: DeliveryConfig{
			Mode: "type",
		},
		Remote: RemoteConfig{
			Enabled:          true,
			ConvertCommand:   "ffmpeg",
			ConvertTimeoutMS: 30000,
			MaxBlobBytes:     32 << 20,
			IdleTimeoutMS:    300000,
		},
		History: HistoryConfig{
			Path:          "./data/scribe-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
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

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Capture.Enabled, "SCRIBE_CAPTURE_ENABLED")
	overrideString(&cfg.Capture.Channel, "SCRIBE_CAPTURE_CHANNEL")
	overrideString(&cfg.Capture.Mode, "SCRIBE_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "SCRIBE_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "SCRIBE_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "SCRIBE_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.FrameMS, "SCRIBE_CAPTURE_FRAME_MS")
	overrideInt(&cfg.Capture.MinHoldMS, "SCRIBE_CAPTURE_MIN_HOLD_MS")
	overrideFloat(&cfg.Segmenter.RMSThreshold, "SCRIBE_SEGMENTER_RMS_THRESHOLD")
	overrideInt(&cfg.Segmenter.OnsetMinMS, "SCRIBE_SEGMENTER_ONSET_MIN_MS")
	overrideInt(&cfg.Segmenter.GapMS, "SCRIBE_SEGMENTER_GAP_MS")
	overrideInt(&cfg.Segmenter.MinSegmentMS, "SCRIBE_SEGMENTER_MIN_SEGMENT_MS")
	overrideInt(&cfg.Segmenter.MaxSegmentMS, "SCRIBE_SEGMENTER_MAX_SEGMENT_MS")
	overrideInt(&cfg.Segmenter.PreRollMS, "SCRIBE_SEGMENTER_PRE_ROLL_MS")
	overrideString(&cfg.Transcriber.Mode, "SCRIBE_TRANSCRIBER_MODE")
	overrideString(&cfg.Transcriber.Command, "SCRIBE_TRANSCRIBER_COMMAND")
	overrideString(&cfg.Transcriber.ModelPath, "SCRIBE_TRANSCRIBER_MODEL_PATH")
	overrideString(&cfg.Transcriber.ServerURL, "SCRIBE_TRANSCRIBER_SERVER_URL")
	overrideString(&cfg.Transcriber.Language, "SCRIBE_TRANSCRIBER_LANGUAGE")
	overrideInt(&cfg.Transcriber.TimeoutMS, "SCRIBE_TRANSCRIBER_TIMEOUT_MS")
	overrideBool(&cfg.Rewriter.Enabled, "SCRIBE_REWRITER_ENABLED")
	overrideString(&cfg.Rewriter.Mode, "SCRIBE_REWRITER_MODE")
	overrideString(&cfg.Rewriter.Endpoint, "SCRIBE_REWRITER_ENDPOINT")
	overrideString(&cfg.Rewriter.Command, "SCRIBE_REWRITER_COMMAND")
	overrideString(&cfg.Rewriter.Model, "SCRIBE_REWRITER_MODEL")
	overrideString(&cfg.Rewriter.APIKey, "SCRIBE_REWRITER_API_KEY")
	overrideString(&cfg.Rewriter.OutputLanguage, "SCRIBE_REWRITER_OUTPUT_LANGUAGE")
	overrideBool(&cfg.Rewriter.RewriteOnAuto, "SCRIBE_REWRITER_REWRITE_ON_AUTO")
	overrideInt(&cfg.Rewriter.MaxTokens, "SCRIBE_REWRITER_MAX_TOKENS")
	overrideFloat(&cfg.Rewriter.Temperature, "SCRIBE_REWRITER_TEMPERATURE")
	overrideInt(&cfg.Rewriter.TimeoutMS, "SCRIBE_REWRITER_TIMEOUT_MS")
	overrideString(&cfg.Delivery.Mode, "SCRIBE_DELIVERY_MODE")
	overrideString(&cfg.Delivery.TypeCommand, "SCRIBE_DELIVERY_TYPE_COMMAND")
	overrideString(&cfg.Delivery.ClipboardCommand, "SCRIBE_DELIVERY_CLIPBOARD_COMMAND")
	overrideBool(&cfg.Remote.Enabled, "SCRIBE_REMOTE_ENABLED")
	overrideString(&cfg.Remote.ConvertCommand, "SCRIBE_REMOTE_CONVERT_COMMAND")
	overrideInt(&cfg.Remote.ConvertTimeoutMS, "SCRIBE_REMOTE_CONVERT_TIMEOUT_MS")
	overrideInt(&cfg.Remote.MaxBlobBytes, "SCRIBE_REMOTE_MAX_BLOB_BYTES")
	overrideInt(&cfg.Remote.IdleTimeoutMS, "SCRIBE_REMOTE_IDLE_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "SCRIBE_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "SCRIBE_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "SCRIBE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "SCRIBE_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "SCRIBE_HISTORY_VACUUM_ON_START")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Capture.Enabled {
		if cfg.Capture.Channel == "" {
			return errors.New("capture.channel must not be empty")
		}
		switch cfg.Capture.Mode {
		case "exec", "bus":
		default:
			return errors.New("capture.mode must be one of exec|bus")
		}
		if cfg.Capture.Mode == "exec" && cfg.Capture.Command == "" {
			return errors.New("capture.command must be set when mode=exec")
		}
		if cfg.Capture.SampleRate <= 0 {
			return errors.New("capture.sample_rate must be positive")
		}
		if cfg.Capture.Channels != 1 {
			return errors.New("capture.channels must be 1 (mono)")
		}
		if cfg.Capture.FrameMS <= 0 {
			return errors.New("capture.frame_ms must be positive")
		}
	}
	if cfg.Segmenter.RMSThreshold < 0 {
		return errors.New("segmenter.rms_threshold must be >= 0")
	}
	if cfg.Segmenter.GapMS <= 0 {
		return errors.New("segmenter.gap_ms must be positive")
	}
	if cfg.Segmenter.MinSegmentMS < 0 {
		return errors.New("segmenter.min_segment_ms must be >= 0")
	}
	if cfg.Segmenter.MaxSegmentMS <= cfg.Segmenter.MinSegmentMS {
		return errors.New("segmenter.max_segment_ms must be greater than min_segment_ms")
	}
	switch cfg.Transcriber.Mode {
	case "exec", "http", "mock":
	default:
		return errors.New("transcriber.mode must be one of exec|http|mock")
	}
	if cfg.Transcriber.Mode == "exec" && cfg.Transcriber.Command == "" {
		return errors.New("transcriber.command must be set when mode=exec")
	}
	if cfg.Transcriber.Mode == "http" && cfg.Transcriber.ServerURL == "" {
		return errors.New("transcriber.server_url must be set when mode=http")
	}
	if cfg.Transcriber.TimeoutMS <= 0 {
		return errors.New("transcriber.timeout_ms must be positive")
	}
	if cfg.Rewriter.Enabled {
		switch cfg.Rewriter.Mode {
		case "ollama", "openai", "exec", "mock":
		default:
			return errors.New("rewriter.mode must be one of ollama|openai|exec|mock")
		}
		if cfg.Rewriter.Mode == "ollama" && cfg.Rewriter.Endpoint == "" {
			return errors.New("rewriter.endpoint must be set when mode=ollama")
		}
		if cfg.Rewriter.Mode == "openai" && cfg.Rewriter.APIKey == "" {
			return errors.New("rewriter.api_key must be set when mode=openai")
		}
		if cfg.Rewriter.Mode == "exec" && cfg.Rewriter.Command == "" {
			return errors.New("rewriter.command must be set when mode=exec")
		}
		if cfg.Rewriter.MaxTokens < 0 {
			return errors.New("rewriter.max_tokens must be >= 0")
		}
		if cfg.Rewriter.TimeoutMS <= 0 {
			return errors.New("rewriter.timeout_ms must be positive")
		}
	}
	switch cfg.Delivery.Mode {
	case "type", "clipboard":
	default:
		return errors.New("delivery.mode must be one of type|clipboard")
	}
	if cfg.Remote.Enabled {
		if cfg.Remote.ConvertCommand == "" {
			return errors.New("remote.convert_command must not be empty when remote is enabled")
		}
		if cfg.Remote.MaxBlobBytes <= 0 {
			return errors.New("remote.max_blob_bytes must be positive")
		}
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
