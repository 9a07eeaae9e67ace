package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the gRPC listener

	Env string // "dev" | "prod"

	// Storage
	Store       string
	DBPath      string // sqlite file, e.g. "./data/cardkey.db"
	PostgresURL string

	// API surface
	APIEnabled  bool
	DevAPIKey   string // dev only; seeded as an active credential
	RateLimit   int    // requests per minute per IP, 0 = unlimited
	CORSOrigins []string

	// Verification
	LockWait   time.Duration
	RecentLogs int

	// Audit fan-out
	NATSURL     string
	NATSToken   string
	NATSSubject string

	// API call log retention
	CallLogRetentionDays int // 0 = keep forever
	PruneIntervalHours   int

	LogLevel  string
	LogFormat string // "text" | "json"
}

// Load reads an optional .env file into the environment and then calls
// FromEnv.  Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg := FromEnv()
	return cfg, cfg.Validate()
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("CARDKEY_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		HTTPAddr: getenvDefault("CARDKEY_HTTP_ADDR", ":8080"),
		GRPCAddr: strings.TrimSpace(os.Getenv("CARDKEY_GRPC_ADDR")),
		Env:      env,

		Store:       strings.ToLower(getenvDefault("CARDKEY_STORE", StoreSQLite)),
		DBPath:      getenvDefault("CARDKEY_DB_PATH", "./data/cardkey.db"),
		PostgresURL: strings.TrimSpace(os.Getenv("CARDKEY_POSTGRES_URL")),

		APIEnabled:  getenvBool("CARDKEY_API_ENABLED", true),
		DevAPIKey:   strings.TrimSpace(os.Getenv("CARDKEY_DEV_API_KEY")),
		RateLimit:   getenvInt("CARDKEY_RATE_LIMIT", 600),
		CORSOrigins: splitCSV(os.Getenv("CARDKEY_CORS_ORIGINS")),

		LockWait:   time.Duration(getenvInt("CARDKEY_LOCK_WAIT_MS", 3000)) * time.Millisecond,
		RecentLogs: getenvInt("CARDKEY_RECENT_LOGS", 10),

		NATSURL:     strings.TrimSpace(os.Getenv("CARDKEY_NATS_URL")),
		NATSToken:   os.Getenv("CARDKEY_NATS_TOKEN"),
		NATSSubject: getenvDefault("CARDKEY_NATS_SUBJECT", "cardkey.audit"),

		CallLogRetentionDays: getenvInt("CARDKEY_CALL_LOG_RETENTION_DAYS", 90),
		PruneIntervalHours:   getenvInt("CARDKEY_PRUNE_INTERVAL_HOURS", 6),

		LogLevel:  strings.ToLower(getenvDefault("CARDKEY_LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenvDefault("CARDKEY_LOG_FORMAT", "text")),
	}
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("CARDKEY_POSTGRES_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CARDKEY_STORE %q", c.Store))
	}
	if c.Env == "prod" && c.Store == StoreMemory {
		errs = append(errs, errors.New("the memory store is not allowed in prod"))
	}
	if c.Env == "prod" && c.DevAPIKey != "" {
		errs = append(errs, errors.New("CARDKEY_DEV_API_KEY must not be set in prod"))
	}
	if c.LockWait <= 0 {
		errs = append(errs, errors.New("CARDKEY_LOCK_WAIT_MS must be positive"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown CARDKEY_LOG_FORMAT %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
