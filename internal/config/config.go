// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	HTTPAddr string

	// history: PostgreSQL when PostgresDSN is set, SQLite at SQLitePath otherwise
	PostgresDSN string
	SQLitePath  string

	// queue and cache: Redis when RedisAddr is set, in memory otherwise
	RedisAddr        string
	QueueKey         string
	ProcessingKey    string
	ProcessingMapKey string
	CacheKeyPrefix   string
	CacheTTL         time.Duration
	CacheSize        int

	Workers         int
	ReapInterval    time.Duration
	ShutdownGrace   time.Duration
	HistoryRetain   int
	InputRoot       string
	StageDelayScale float64

	NATSURL     string
	NATSSubject string

	LogLevel  string
	LogFormat string
}

// Load reads .env files (missing ones are fine) and then the environment.
// Variables already set in the environment win over .env entries.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	processingKey := envOr("REDIS_PROCESSING_KEY", "jobs:processing")
	cfg := Config{
		HTTPAddr:         envOr("HTTP_ADDR", ":8080"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		SQLitePath:       envOr("SQLITE_PATH", "data/history.db"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		QueueKey:         envOr("REDIS_QUEUE_KEY", "jobs:queue"),
		ProcessingKey:    processingKey,
		ProcessingMapKey: envOr("REDIS_PROCESSING_MAP_KEY", processingKey+":map"),
		CacheKeyPrefix:   envOr("CACHE_KEY_PREFIX", "pipeline:cache:"),
		CacheTTL:         envDurationOr("CACHE_TTL", 24*time.Hour),
		CacheSize:        envIntOr("CACHE_SIZE", 1024),
		Workers:          envIntOr("WORKERS", 4),
		ReapInterval:     envDurationOr("REAP_INTERVAL", 30*time.Second),
		ShutdownGrace:    envDurationOr("SHUTDOWN_GRACE", 30*time.Second),
		HistoryRetain:    envIntOr("HISTORY_RETAIN", 256),
		InputRoot:        envOr("INPUT_ROOT", "."),
		StageDelayScale:  envFloatOr("STAGE_DELAY_SCALE", 1),
		NATSURL:          os.Getenv("NATS_URL"),
		NATSSubject:      envOr("NATS_SUBJECT", "pipeline.jobs"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "text"),
	}

	if cfg.Workers <= 0 {
		return Config{}, fmt.Errorf("WORKERS must be positive, got %d", cfg.Workers)
	}
	if cfg.StageDelayScale < 0 {
		return Config{}, fmt.Errorf("STAGE_DELAY_SCALE must not be negative, got %v", cfg.StageDelayScale)
	}
	return cfg, nil
}

// SetupLogging applies LOG_LEVEL and LOG_FORMAT to the logrus standard logger.
func (c Config) SetupLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	switch strings.ToLower(c.LogFormat) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Fields is the startup summary, secrets redacted.
func (c Config) Fields() log.Fields {
	return log.Fields{
		"http_addr":      c.HTTPAddr,
		"postgres_dsn":   RedactDSN(c.PostgresDSN),
		"sqlite_path":    c.SQLitePath,
		"redis_addr":     c.RedisAddr,
		"queue_key":      c.QueueKey,
		"processing_key": c.ProcessingKey,
		"workers":        c.Workers,
		"nats_url":       RedactDSN(c.NATSURL),
		"delay_scale":    c.StageDelayScale,
	}
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid int, using default")
		return def
	}
	return i
}

func envFloatOr(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid float, using default")
		return def
	}
	return f
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid duration, using default")
		return def
	}
	return d
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password of a URL-style DSN: user:pass@ -> user:****@.
// DSNs without a password are returned unchanged.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
