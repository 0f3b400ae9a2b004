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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Session     SessionConfig    `yaml:"session"`
	Transcript  TranscriptConfig `yaml:"transcript"`
	Translate   TranslateConfig  `yaml:"translate"`
	TTS         TTSConfig        `yaml:"tts"`
	Catalog     CatalogConfig    `yaml:"catalog"`
	Store       StoreConfig      `yaml:"store"`
	Analyzer    AnalyzerConfig   `yaml:"analyzer"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type SessionConfig struct {
	AbandonedThresholdSeconds int `yaml:"abandoned_threshold_seconds"`
	ReaperIntervalMS          int `yaml:"reaper_interval_ms"`
	HeartbeatIntervalMS       int `yaml:"heartbeat_interval_ms"`
	HeartbeatGraceSeconds     int `yaml:"heartbeat_grace_seconds"`
}

type TranscriptConfig struct {
	ForcedFinalTimeoutMS int `yaml:"forced_final_timeout_ms"`
	PartialDedupWindowMS int `yaml:"partial_dedup_window_ms"`
	PartialMinIntervalMS int `yaml:"partial_min_interval_ms"`
}

type TranslateConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	CacheSize int    `yaml:"cache_size"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Mode            string   `yaml:"mode"` // mock, exec
	Command         string   `yaml:"command"`
	DefaultTier     string   `yaml:"default_tier"`
	AllowedTiers    []string `yaml:"allowed_tiers"`
	SynthesisMode   string   `yaml:"synthesis_mode"` // unary, streaming
	VertexAIEnabled bool     `yaml:"vertex_ai_enabled"`
	DefaultsPath    string   `yaml:"defaults_path"`
}

type CatalogConfig struct {
	Dir              string   `yaml:"dir"`
	SupportedLocales []string `yaml:"supported_locales"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type AnalyzerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	IndexPath string `yaml:"index_path"`
}

func Default() Config {
	return Config{
		RuntimeName: "exaudi-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Session: SessionConfig{
			AbandonedThresholdSeconds: 300,
			ReaperIntervalMS:          300000,
			HeartbeatIntervalMS:       30000,
			HeartbeatGraceSeconds:     45,
		},
		Transcript: TranscriptConfig{
			ForcedFinalTimeoutMS: 2000,
			PartialDedupWindowMS: 5000,
			PartialMinIntervalMS: 250,
		},
		Translate: TranslateConfig{
			Enabled:   true,
			Mode:      "mock",
			CacheSize: 1024,
			TimeoutMS: 10000,
		},
		TTS: TTSConfig{
			Enabled:       true,
			Mode:          "mock",
			DefaultTier:   "neural2",
			SynthesisMode: "unary",
			DefaultsPath:  "./data/ttsDefaults.json",
		},
		Catalog: CatalogConfig{
			Dir: "",
			SupportedLocales: []string{
				"en-US", "es-ES", "pt-BR", "fr-FR", "de-DE", "it-IT",
				"nl-NL", "pl-PL", "ro-RO", "uk-UA", "ru-RU", "tr-TR",
				"vi-VN", "id-ID", "fil-PH", "cmn-CN", "cmn-TW",
				"ja-JP", "ko-KR", "hi-IN", "ar-XA", "sl-SI",
			},
		},
		Store: StoreConfig{
			Path:          "./data/exaudi.db",
			RetentionDays: 30,
		},
		Analyzer: AnalyzerConfig{
			Enabled:   false,
			IndexPath: "",
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
	overrideString(&cfg.RuntimeName, "EXA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "EXA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "EXA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "EXA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "EXA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "EXA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "EXA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "EXA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "EXA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "EXA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "EXA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "EXA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "EXA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "EXA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "EXA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "EXA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "EXA_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Session.AbandonedThresholdSeconds, "EXA_SESSION_ABANDONED_THRESHOLD_SECONDS")
	overrideInt(&cfg.Session.ReaperIntervalMS, "EXA_SESSION_REAPER_INTERVAL_MS")
	overrideInt(&cfg.Session.HeartbeatIntervalMS, "EXA_SESSION_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Session.HeartbeatGraceSeconds, "EXA_SESSION_HEARTBEAT_GRACE_SECONDS")
	overrideInt(&cfg.Transcript.ForcedFinalTimeoutMS, "EXA_TRANSCRIPT_FORCED_FINAL_TIMEOUT_MS")
	overrideInt(&cfg.Transcript.PartialDedupWindowMS, "EXA_TRANSCRIPT_PARTIAL_DEDUP_WINDOW_MS")
	overrideInt(&cfg.Transcript.PartialMinIntervalMS, "EXA_TRANSCRIPT_PARTIAL_MIN_INTERVAL_MS")
	overrideBool(&cfg.Translate.Enabled, "EXA_TRANSLATE_ENABLED")
	overrideString(&cfg.Translate.Mode, "EXA_TRANSLATE_MODE")
	overrideString(&cfg.Translate.Command, "EXA_TRANSLATE_COMMAND")
	overrideInt(&cfg.Translate.CacheSize, "EXA_TRANSLATE_CACHE_SIZE")
	overrideInt(&cfg.Translate.TimeoutMS, "EXA_TRANSLATE_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "EXA_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "EXA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "EXA_TTS_COMMAND")
	overrideString(&cfg.TTS.DefaultTier, "EXA_TTS_DEFAULT_TIER")
	overrideStringSlice(&cfg.TTS.AllowedTiers, "EXA_TTS_ALLOWED_TIERS")
	overrideString(&cfg.TTS.SynthesisMode, "EXA_TTS_SYNTHESIS_MODE")
	overrideBool(&cfg.TTS.VertexAIEnabled, "EXA_TTS_VERTEX_AI_ENABLED")
	overrideString(&cfg.TTS.DefaultsPath, "EXA_TTS_DEFAULTS_PATH")
	overrideString(&cfg.Catalog.Dir, "EXA_CATALOG_DIR")
	overrideStringSlice(&cfg.Catalog.SupportedLocales, "EXA_CATALOG_SUPPORTED_LOCALES")
	overrideString(&cfg.Store.Path, "EXA_STORE_PATH")
	overrideInt(&cfg.Store.RetentionDays, "EXA_STORE_RETENTION_DAYS")
	overrideBool(&cfg.Store.VacuumOnStart, "EXA_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Analyzer.Enabled, "EXA_ANALYZER_ENABLED")
	overrideString(&cfg.Analyzer.IndexPath, "EXA_ANALYZER_INDEX_PATH")
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

func validTier(tier string) bool {
	switch tier {
	case "standard", "neural2", "chirp3_hd", "gemini", "elevenlabs":
		return true
	}
	return false
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
		if cfg.Bus.StoreDir == "" {
			return errors.New("bus.store_dir must not be empty when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Session.AbandonedThresholdSeconds <= 0 {
		return errors.New("session.abandoned_threshold_seconds must be positive")
	}
	if cfg.Session.ReaperIntervalMS <= 0 {
		return errors.New("session.reaper_interval_ms must be positive")
	}
	if cfg.Session.HeartbeatIntervalMS <= 0 {
		return errors.New("session.heartbeat_interval_ms must be positive")
	}
	if cfg.Session.HeartbeatGraceSeconds <= 0 {
		return errors.New("session.heartbeat_grace_seconds must be positive")
	}
	if cfg.Transcript.ForcedFinalTimeoutMS <= 0 {
		return errors.New("transcript.forced_final_timeout_ms must be positive")
	}
	if cfg.Transcript.PartialDedupWindowMS < 0 {
		return errors.New("transcript.partial_dedup_window_ms must be >= 0")
	}
	if cfg.Transcript.PartialMinIntervalMS < 0 {
		return errors.New("transcript.partial_min_interval_ms must be >= 0")
	}
	if cfg.Translate.Enabled {
		switch cfg.Translate.Mode {
		case "mock", "exec":
		default:
			return errors.New("translate.mode must be one of mock|exec")
		}
		if cfg.Translate.Mode == "exec" && cfg.Translate.Command == "" {
			return errors.New("translate.command must be set when mode=exec")
		}
		if cfg.Translate.CacheSize < 0 {
			return errors.New("translate.cache_size must be >= 0")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if !validTier(cfg.TTS.DefaultTier) {
			return errors.New("tts.default_tier must be one of standard|neural2|chirp3_hd|gemini|elevenlabs")
		}
		for _, tier := range cfg.TTS.AllowedTiers {
			if !validTier(tier) {
				return fmt.Errorf("tts.allowed_tiers contains unknown tier %q", tier)
			}
		}
		switch cfg.TTS.SynthesisMode {
		case "unary", "streaming":
		default:
			return errors.New("tts.synthesis_mode must be one of unary|streaming")
		}
	}
	if len(cfg.Catalog.SupportedLocales) == 0 {
		return errors.New("catalog.supported_locales must not be empty")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	return nil
}
