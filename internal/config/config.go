package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr           string
	DatabaseURL    string
	MigrateOnStart bool
	DB             DBConfig
	// Outbox relay settings for the in-memory store.
	PollEvery time.Duration
	Batch     int
}

// DBConfig sizes the Postgres pool.
type DBConfig struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
}

type WorkerConfig struct {
	DatabaseURL  string
	DB           DBConfig
	KafkaBrokers []string
	KafkaTopic   string
	PollEvery    time.Duration
	Batch        int
	RunOnce      bool
}

type CLIConfig struct {
	APIBaseURL string
}

// loadDotEnv reads a .env file from the working directory when present.
// Variables already set in the environment win.
func loadDotEnv() {
	_ = godotenv.Load()
}

// LoadAPIFromEnv reads the API server config. An empty DATABASE_URL selects
// the in-memory store.
func LoadAPIFromEnv() (APIConfig, error) {
	loadDotEnv()
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("TRAINBANK_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:           addr,
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MigrateOnStart: envBoolDefault("TRAINBANK_MIGRATE_ON_START", true),
		DB:             loadDBConfig(),
		PollEvery:      envDurationDefault("TRAINBANK_OUTBOX_POLL_EVERY", 2*time.Second),
		Batch:          envIntDefault("TRAINBANK_OUTBOX_BATCH", 100),
	}
	if cfg.PollEvery <= 0 {
		return cfg, fmt.Errorf("TRAINBANK_OUTBOX_POLL_EVERY must be > 0")
	}
	if cfg.Batch <= 0 {
		return cfg, fmt.Errorf("TRAINBANK_OUTBOX_BATCH must be > 0")
	}
	_, port, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return cfg, fmt.Errorf("invalid listen address %q: %w", cfg.Addr, err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return cfg, fmt.Errorf("invalid listen port %q", port)
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	loadDotEnv()
	cfg := WorkerConfig{
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DB:           loadDBConfig(),
		KafkaBrokers: envList("TRAINBANK_KAFKA_BROKERS"),
		KafkaTopic:   envDefault("TRAINBANK_KAFKA_TOPIC", "trainbank.ledger"),
		PollEvery:    envDurationDefault("TRAINBANK_OUTBOX_POLL_EVERY", 2*time.Second),
		Batch:        envIntDefault("TRAINBANK_OUTBOX_BATCH", 100),
		RunOnce:      envBoolDefault("TRAINBANK_WORKER_RUN_ONCE", false),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.PollEvery <= 0 {
		return cfg, fmt.Errorf("TRAINBANK_OUTBOX_POLL_EVERY must be > 0")
	}
	if cfg.Batch <= 0 {
		return cfg, fmt.Errorf("TRAINBANK_OUTBOX_BATCH must be > 0")
	}
	return cfg, nil
}

func loadDBConfig() DBConfig {
	return DBConfig{
		MaxConns:        envIntDefault("TRAINBANK_DB_MAX_CONNS", 20),
		MinConns:        envIntDefault("TRAINBANK_DB_MIN_CONNS", 2),
		MaxConnLifetime: envDurationDefault("TRAINBANK_DB_MAX_CONN_LIFETIME", 30*time.Minute),
	}
}

func LoadCLIFromEnv() CLIConfig {
	loadDotEnv()
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TB_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

// CLIHomeEnv overrides the directory holding the CLI session and queue.
const CLIHomeEnv = "TB_HOME"

// CLIStateDir returns the CLI state directory, $TB_HOME or ~/.tb, creating
// it when missing.
func CLIStateDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv(CLIHomeEnv))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".tb")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
