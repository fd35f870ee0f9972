package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the taskdeck service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	EngineBin            string
	EngineArgs           []string
	EngineCallTimeout    time.Duration
	EngineRespawnBackoff time.Duration

	UndoHistoryLimit int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "taskdeck"),
		AllowAnyOrigin:   false,
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		EngineBin:        envOrDefault("ENGINE_BIN", "taskdeck-engine"),
		ShutdownTimeout:  15 * time.Second,
		// The engine answers from memory, so 5s already means something
		// is badly wrong on the other side of the pipe.
		EngineCallTimeout:    5 * time.Second,
		EngineRespawnBackoff: time.Second,
		UndoHistoryLimit:     20,
	}
	if raw := stringsTrimSpace("ENGINE_ARGS"); raw != "" {
		cfg.EngineArgs = strings.Fields(raw)
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EngineCallTimeout, err = durationFromEnv("ENGINE_CALL_TIMEOUT", cfg.EngineCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EngineRespawnBackoff, err = durationFromEnv("ENGINE_RESPAWN_BACKOFF", cfg.EngineRespawnBackoff)
	if err != nil {
		return Config{}, err
	}
	cfg.UndoHistoryLimit, err = intFromEnv("UNDO_HISTORY_LIMIT", cfg.UndoHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.EngineBin == "" {
		return Config{}, fmt.Errorf("ENGINE_BIN must not be empty")
	}
	if cfg.EngineCallTimeout <= 0 {
		return Config{}, fmt.Errorf("ENGINE_CALL_TIMEOUT must be positive")
	}
	if cfg.EngineRespawnBackoff <= 0 {
		return Config{}, fmt.Errorf("ENGINE_RESPAWN_BACKOFF must be positive")
	}
	if cfg.UndoHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("UNDO_HISTORY_LIMIT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
