package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the explicit configuration structure both binaries are built
// from. Defaults mirror production: one-hour hard ceiling with a five
// minute soft margin, 24h result retention, 50 jobs per worker slot.
type Config struct {
	HTTPAddr  string
	RedisAddr string

	QueueKey      string
	ProcessingKey string
	JobKeyPrefix  string

	Workers          int
	MaxJobsPerWorker int

	SoftTimeLimit   time.Duration
	HardTimeLimit   time.Duration
	ResultRetention time.Duration

	// Delay per placeholder search stage; shortened in dev setups.
	SearchStageDelay time.Duration
}

// Load reads configuration from the environment, with an optional .env
// file for local runs. REDIS_ADDR is the only required value.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:         envOr("HTTP_ADDR", ":8000"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		QueueKey:         envOr("REDIS_QUEUE_KEY", "jobs:queue"),
		ProcessingKey:    envOr("REDIS_PROCESSING_KEY", "jobs:processing"),
		JobKeyPrefix:     envOr("REDIS_JOB_KEY_PREFIX", "jobs:record:"),
		Workers:          envIntOr("WORKERS", 4),
		MaxJobsPerWorker: envIntOr("MAX_JOBS_PER_WORKER", 50),
		SoftTimeLimit:    envDurationOr("SOFT_TIME_LIMIT", 55*time.Minute),
		HardTimeLimit:    envDurationOr("HARD_TIME_LIMIT", 60*time.Minute),
		ResultRetention:  envDurationOr("RESULT_RETENTION", 24*time.Hour),
		SearchStageDelay: envDurationOr("SEARCH_STAGE_DELAY", 2*time.Second),
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("missing env: REDIS_ADDR")
	}
	if cfg.SoftTimeLimit >= cfg.HardTimeLimit {
		return nil, fmt.Errorf("SOFT_TIME_LIMIT (%s) must be below HARD_TIME_LIMIT (%s)",
			cfg.SoftTimeLimit, cfg.HardTimeLimit)
	}

	return cfg, nil
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
		return def
	}
	return i
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
