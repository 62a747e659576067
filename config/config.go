package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"twitter-social/config/db"
)

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

type Config struct {
	Address         string
	Driver          string
	MongoURI        string
	MongoDatabase   string
	Pool            db.Config
	LogLevel        string
	SlowRequest     time.Duration
	ShutdownTimeout time.Duration
	// SuggestionSeed fixes the suggestion shuffle when set.
	SuggestionSeed *int64
}

func Load() (Config, error) {
	cfg := Config{
		Address:         ":" + envOrDefault("PORT", "8081"),
		Driver:          envOrDefault("DB_DRIVER", DriverMongo),
		MongoURI:        envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   envOrDefault("MONGO_DATABASE", "twitter"),
		Pool:            db.DefaultConfig(),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		ShutdownTimeout: 15 * time.Second,
	}
	if cfg.Driver != DriverMongo && cfg.Driver != DriverMemory {
		return cfg, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverMongo, DriverMemory, cfg.Driver)
	}

	var err error
	if cfg.Pool.Max, err = envInt32("POOL_MAX", cfg.Pool.Max); err != nil {
		return cfg, err
	}
	if cfg.Pool.Min, err = envInt32("POOL_MIN", cfg.Pool.Min); err != nil {
		return cfg, err
	}
	if cfg.Pool.IdleTimeout, err = envMillis("POOL_IDLE_TIMEOUT_MS", cfg.Pool.IdleTimeout); err != nil {
		return cfg, err
	}
	if cfg.Pool.AcquireTimeout, err = envMillis("POOL_ACQUIRE_TIMEOUT_MS", cfg.Pool.AcquireTimeout); err != nil {
		return cfg, err
	}
	if cfg.Pool.ValidateTimeout, err = envMillis("POOL_VALIDATE_TIMEOUT_MS", cfg.Pool.ValidateTimeout); err != nil {
		return cfg, err
	}
	if cfg.SlowRequest, err = envMillis("SLOW_REQUEST_MS", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Pool.Min > cfg.Pool.Max {
		return cfg, fmt.Errorf("POOL_MIN (%d) must not exceed POOL_MAX (%d)", cfg.Pool.Min, cfg.Pool.Max)
	}

	if v := os.Getenv("SUGGESTION_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid SUGGESTION_SEED: %w", err)
		}
		cfg.SuggestionSeed = &seed
	}
	return cfg, nil
}

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt32(key string, defaultVal int32) (int32, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return int32(n), nil
}

func envMillis(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative number of milliseconds", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
