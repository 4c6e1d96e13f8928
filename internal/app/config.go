package app

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr      string `yaml:"http_addr"`
	PublicBaseURL string `yaml:"public_base_url"`
	DatabaseURL   string `yaml:"database_url"`
	LogLevel      string `yaml:"log_level"`
	Environment   string `yaml:"environment"`
	SentryDSN     string `yaml:"sentry_dsn"`

	// VersesSQLitePath points at a bundled verse database. When set, verse
	// lookups use it instead of the Postgres verses table.
	VersesSQLitePath string `yaml:"verses_sqlite_path"`

	// OpenAI (transcription + detection)
	OpenAIAPIKey          string `yaml:"openai_api_key"`
	OpenAIBaseURL         string `yaml:"openai_base_url"`
	TranscriptionModel    string `yaml:"transcription_model"`
	TranscriptionLanguage string `yaml:"transcription_language"`
	DetectionModel        string `yaml:"detection_model"`

	// JWT Authentication
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`

	// Projection fan-out across instances; empty keeps it in-process.
	NATSURL string `yaml:"nats_url"`

	// Realtime sessions
	SessionIdleTimeout  time.Duration `yaml:"session_idle_timeout"`
	SessionReapInterval time.Duration `yaml:"session_reap_interval"`
	SessionQueueSize    int           `yaml:"session_queue_size"`

	SubstringFallbackBelow     int `yaml:"substring_fallback_below"`
	DefaultConfidenceThreshold int `yaml:"default_confidence_threshold"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:                   ":8080",
		PublicBaseURL:              "http://localhost:8080",
		LogLevel:                   "info",
		Environment:                "development",
		TranscriptionModel:         "whisper-1",
		DetectionModel:             "gpt-4o",
		JWTExpiry:                  24 * time.Hour,
		SessionIdleTimeout:         30 * time.Second,
		SessionReapInterval:        30 * time.Second,
		SessionQueueSize:           4,
		SubstringFallbackBelow:     5,
		DefaultConfidenceThreshold: 50,
	}
}

// LoadConfig builds the config from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.PublicBaseURL = getenv("PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.Environment = getenv("ENVIRONMENT", cfg.Environment)
	cfg.SentryDSN = getenv("SENTRY_DSN", cfg.SentryDSN)
	cfg.VersesSQLitePath = getenv("VERSES_SQLITE_PATH", cfg.VersesSQLitePath)

	cfg.OpenAIAPIKey = getenv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getenv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.TranscriptionModel = getenv("TRANSCRIPTION_MODEL", cfg.TranscriptionModel)
	cfg.TranscriptionLanguage = getenv("TRANSCRIPTION_LANGUAGE", cfg.TranscriptionLanguage)
	cfg.DetectionModel = getenv("DETECTION_MODEL", cfg.DetectionModel)

	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret) // Required - no fallback for security
	cfg.JWTExpiry = getenvDuration("JWT_EXPIRY", cfg.JWTExpiry)

	cfg.NATSURL = getenv("NATS_URL", cfg.NATSURL)

	cfg.SessionIdleTimeout = getenvDuration("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	cfg.SessionReapInterval = getenvDuration("SESSION_REAP_INTERVAL", cfg.SessionReapInterval)
	cfg.SessionQueueSize = getenvIntClamped("SESSION_QUEUE_SIZE", cfg.SessionQueueSize, 1, 64)

	cfg.SubstringFallbackBelow = getenvIntClamped("SUBSTRING_FALLBACK_BELOW", cfg.SubstringFallbackBelow, 0, 50)
	cfg.DefaultConfidenceThreshold = getenvIntClamped("DEFAULT_CONFIDENCE_THRESHOLD", cfg.DefaultConfidenceThreshold, 0, 100)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped parses an int env var, falling back to def when unset or
// invalid and clamping to [min,max].
func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
