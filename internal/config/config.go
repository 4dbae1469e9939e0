// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envPrefix = "MOODPAIR_"

// Backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Match policies resolve whether a request without a same-tag partner may be
// paired with the oldest waiting user of another tag.
const (
	MatchSameTag = "same_tag"
	MatchAnyTag  = "any_tag"
)

// Default emotion tags offered by the client.
var DefaultEmotions = []string{
	"happy", "anxious", "sad", "angry", "joyful",
	"confused", "hurt", "uneasy", "lost",
}

// Config holds every tunable of the server and the admin CLI.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	QueueBackend string `env:"QUEUE_BACKEND" envDefault:"memory"`
	DatabaseDSN  string `env:"DATABASE_DSN"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AdminAPIKey      string `env:"ADMIN_API_KEY"`
	JWTSecret        string `env:"JWT_SECRET"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`

	QueueTTL         time.Duration `env:"QUEUE_TTL" envDefault:"5m"`
	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	MessageRetention time.Duration `env:"MESSAGE_RETENTION" envDefault:"720h"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	OpTimeout        time.Duration `env:"OP_TIMEOUT" envDefault:"5s"`

	MaxMessageLength int `env:"MAX_MESSAGE_LENGTH" envDefault:"500"`
	HistoryLimit     int `env:"HISTORY_LIMIT" envDefault:"50"`

	MatchPolicy     string   `env:"MATCH_POLICY" envDefault:"same_tag"`
	FilterPolicy    string   `env:"FILTER_POLICY" envDefault:"reject"`
	BannedTermsFile string   `env:"BANNED_TERMS_FILE"`
	Emotions        []string `env:"EMOTIONS" envSeparator:","`

	Language  string `env:"LANGUAGE" envDefault:"en"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// LoadDotEnv loads a .env file when present. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load parses MOODPAIR_* variables, fills defaults and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if len(cfg.Emotions) == 0 {
		cfg.Emotions = append([]string(nil), DefaultEmotions...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum values and the settings each backend requires.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("invalid %sSTORE_BACKEND %q", envPrefix, c.StoreBackend)
	}
	switch c.QueueBackend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("invalid %sQUEUE_BACKEND %q", envPrefix, c.QueueBackend)
	}
	if (c.StoreBackend == BackendPostgres || c.QueueBackend == BackendPostgres) && c.DatabaseDSN == "" {
		return fmt.Errorf("%sDATABASE_DSN is required for the postgres backend", envPrefix)
	}
	switch c.MatchPolicy {
	case MatchSameTag, MatchAnyTag:
	default:
		return fmt.Errorf("invalid %sMATCH_POLICY %q", envPrefix, c.MatchPolicy)
	}
	switch c.FilterPolicy {
	case "reject", "redact":
	default:
		return fmt.Errorf("invalid %sFILTER_POLICY %q", envPrefix, c.FilterPolicy)
	}
	if c.QueueTTL <= 0 || c.SessionTTL <= 0 || c.MessageRetention <= 0 || c.OpTimeout <= 0 {
		return fmt.Errorf("ttl and timeout settings must be positive")
	}
	if c.MaxMessageLength <= 0 || c.HistoryLimit <= 0 {
		return fmt.Errorf("%sMAX_MESSAGE_LENGTH and %sHISTORY_LIMIT must be positive", envPrefix, envPrefix)
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection.
// The Redis broadcaster is used whenever Redis is configured for the queue.
func (c *Config) UsesRedis() bool {
	return c.QueueBackend == BackendRedis
}
