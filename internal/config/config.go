package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Central  CentralConfig
	Terminal TerminalConfig
	Sync     SyncConfig
}

// CentralConfig configures the central aggregation server.
type CentralConfig struct {
	Port              int
	DatabaseURL       string
	MaintenanceSecret string
}

// TerminalConfig configures a terminal's sync agent.
type TerminalConfig struct {
	LocalDBPath string
	CentralURL  string
	TerminalID  string
}

// SyncConfig tunes the batcher and dispatcher. The values are passed
// into the engine explicitly rather than read from the synchronized
// store mid-sweep.
type SyncConfig struct {
	ChunkSize       int
	InterChunkDelay time.Duration
	DispatchEvery   time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	PurgeAfter      time.Duration
}

// LoadCentral reads the central server configuration from the
// environment, with an optional .env file for development.
func LoadCentral() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	cfg.Central.Port = getEnvInt("PORT", 8080)
	cfg.Central.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.Central.MaintenanceSecret = os.Getenv("MAINTENANCE_SECRET")

	if cfg.Central.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required (environment variable or .env)")
	}
	if cfg.Central.MaintenanceSecret == "" {
		return Config{}, fmt.Errorf("MAINTENANCE_SECRET is required")
	}
	if cfg.Central.Port <= 0 {
		return Config{}, fmt.Errorf("invalid PORT: %d", cfg.Central.Port)
	}
	return cfg, nil
}

// LoadTerminal reads the sync agent configuration. CENTRAL_URL is a
// fallback: the agent prefers the central_url setting persisted in the
// local store, re-read at each cycle start.
func LoadTerminal() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	cfg.Terminal.LocalDBPath = getEnv("LOCAL_DB_PATH", "pos.db")
	cfg.Terminal.CentralURL = os.Getenv("CENTRAL_URL")
	cfg.Terminal.TerminalID = getEnv("TERMINAL_ID", "terminal-1")
	return cfg, nil
}

func defaults() Config {
	return Config{
		Sync: SyncConfig{
			ChunkSize:       getEnvInt("SYNC_CHUNK_SIZE", 50),
			InterChunkDelay: getEnvDuration("SYNC_INTER_CHUNK_DELAY", 250*time.Millisecond),
			DispatchEvery:   getEnvDuration("SYNC_DISPATCH_EVERY", 30*time.Second),
			MaxRetries:      getEnvInt("SYNC_MAX_RETRIES", 10),
			BackoffBase:     getEnvDuration("SYNC_BACKOFF_BASE", 30*time.Second),
			BackoffCap:      getEnvDuration("SYNC_BACKOFF_CAP", time.Hour),
			PurgeAfter:      getEnvDuration("SYNC_PURGE_AFTER", 24*time.Hour),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
