package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/snarg/tr-translate/internal/database"
	"github.com/snarg/tr-translate/internal/translate"
)

type Config struct {
	TranslationProvider string `env:"TRANSLATION_PROVIDER" envDefault:"OPENAI"`
	LLMPrompt           string `env:"LLM_PROMPT"`

	OllamaBaseURL             string `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	OllamaModel               string `env:"OLLAMA_MODEL" envDefault:"llama3.1:8b"`
	OllamaHistoryLength       int    `env:"OLLAMA_HISTORY_LENGTH" envDefault:"50"`
	OllamaConversationTimeout int    `env:"OLLAMA_CONVERSATION_TIMEOUT" envDefault:"20"` // seconds

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	LLMModel      string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`

	QueueSize      int           `env:"TRANSLATION_QUEUE_SIZE" envDefault:"1000"`
	PollInterval   time.Duration `env:"TRANSLATION_POLL_INTERVAL" envDefault:"1s"`
	RequestTimeout time.Duration `env:"TRANSLATION_REQUEST_TIMEOUT" envDefault:"2m"`

	DatabaseURL      string        `env:"DATABASE_URL"`
	DBMaxConns       int32         `env:"DB_MAX_CONNS" envDefault:"8"`
	DBMinConns       int32         `env:"DB_MIN_CONNS" envDefault:"1"`
	SegmentRetention time.Duration `env:"SEGMENT_RETENTION" envDefault:"0s"` // 0 keeps segments forever

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTTopics      string `env:"MQTT_TOPICS" envDefault:"tr-translate/transcripts/#"`
	MQTTResultTopic string `env:"MQTT_RESULT_TOPIC" envDefault:"tr-translate/translations"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"tr-translate"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	WatchDir      string `env:"WATCH_DIR"`
	WatchBackfill bool   `env:"WATCH_BACKFILL" envDefault:"false"` // translate files already present at startup
	ExportDir     string `env:"EXPORT_DIR" envDefault:"./exports"`

	S3 S3Config

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"` // 0 keeps SSE streams open
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken      string   `env:"AUTH_TOKEN"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:","` // empty allows any origin
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"40"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config holds the optional S3 export target. Exports go to EXPORT_DIR
// when Bucket is empty.
type S3Config struct {
	Bucket    string `env:"S3_BUCKET"`
	Endpoint  string `env:"S3_ENDPOINT"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Prefix    string `env:"S3_PREFIX"`
	LocalCopy bool   `env:"S3_LOCAL_COPY" envDefault:"false"` // also keep exports under EXPORT_DIR
}

// Enabled reports whether S3 export is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
	Provider string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.Provider != "" {
		cfg.TranslationProvider = overrides.Provider
	}

	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("TRANSLATION_QUEUE_SIZE must be positive, got %d", cfg.QueueSize)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("TRANSLATION_POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.DBMaxConns <= 0 {
		return nil, fmt.Errorf("DB_MAX_CONNS must be positive, got %d", cfg.DBMaxConns)
	}
	if cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", cfg.DBMaxConns, cfg.DBMinConns)
	}
	if cfg.SegmentRetention < 0 {
		return nil, fmt.Errorf("SEGMENT_RETENTION must not be negative, got %s", cfg.SegmentRetention)
	}
	if cfg.OllamaConversationTimeout < 0 {
		return nil, fmt.Errorf("OLLAMA_CONVERSATION_TIMEOUT must not be negative, got %d", cfg.OllamaConversationTimeout)
	}

	return cfg, nil
}

// Provider returns the selected translation back-end.
func (c *Config) Provider() translate.Provider {
	return translate.ParseProvider(c.TranslationProvider)
}

// Database returns the segment store pool options.
func (c *Config) Database() database.Options {
	return database.Options{
		URL:      c.DatabaseURL,
		MaxConns: c.DBMaxConns,
		MinConns: c.DBMinConns,
	}
}

// Translate builds the relay configuration. Callbacks and logger are left
// for the caller to fill in.
func (c *Config) Translate() translate.Config {
	return translate.Config{
		Provider:            c.Provider(),
		Prompt:              c.LLMPrompt,
		OllamaBaseURL:       c.OllamaBaseURL,
		OllamaModel:         c.OllamaModel,
		HistoryLength:       c.OllamaHistoryLength,
		ConversationTimeout: time.Duration(c.OllamaConversationTimeout) * time.Second,
		OpenAIAPIKey:        c.OpenAIAPIKey,
		OpenAIBaseURL:       c.OpenAIBaseURL,
		Model:               c.LLMModel,
		QueueSize:           c.QueueSize,
		PollInterval:        c.PollInterval,
		RequestTimeout:      c.RequestTimeout,
	}
}
