// Package params loads the coordinator's runtime configuration, spec.md
// §6's external-interfaces list of environment settings. Grounded on the
// teacher's params/config.go: godotenv.Load + env-override-with-default
// pattern, fields renamed from consensus/node settings to the venue's own
// vocabulary.
package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting spec.md §6 names.
type Config struct {
	// AdminSecretKey signs outgoing chain transactions (settle/withdraw).
	AdminSecretKey string
	// OrderbookContractID identifies the on-chain orderbook contract this
	// coordinator serves.
	OrderbookContractID string
	// ChainRPCURL is the chain node RPC endpoint. No real chain client is
	// wired: cmd/coordinator always uses the in-process
	// chain.MockSubmitter/MockEventSource pair, and a non-empty value only
	// produces a fallback log line.
	ChainRPCURL string

	// TimestampSkewWindow bounds how far a signed request's timestamp may
	// drift from the server's clock (default 300s).
	TimestampSkewWindow time.Duration

	// OutgoingRetryMax bounds submission attempts per outgoing intent
	// (default 5).
	OutgoingRetryMax int
	// OutgoingBackoffInitial and OutgoingBackoffCap bound the exponential
	// backoff between retries (defaults 250ms / 10000ms).
	OutgoingBackoffInitial time.Duration
	OutgoingBackoffCap     time.Duration

	// IngestorPollInterval is the deposit ingestor's poll cadence
	// (default 2000ms).
	IngestorPollInterval time.Duration

	// LogLevel is a zapcore level name ("debug", "info", "warn", "error";
	// default "info").
	LogLevel string
}

// Default returns spec.md §6's documented defaults.
func Default() Config {
	return Config{
		TimestampSkewWindow:    300 * time.Second,
		OutgoingRetryMax:       5,
		OutgoingBackoffInitial: 250 * time.Millisecond,
		OutgoingBackoffCap:     10_000 * time.Millisecond,
		IngestorPollInterval:   2000 * time.Millisecond,
		LogLevel:               "info",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.AdminSecretKey = getEnv("ADMIN_SECRET_KEY", cfg.AdminSecretKey)
	cfg.OrderbookContractID = getEnv("ORDERBOOK_CONTRACT_ID", cfg.OrderbookContractID)
	cfg.ChainRPCURL = getEnv("CHAIN_RPC_URL", cfg.ChainRPCURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv("TIMESTAMP_SKEW_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimestampSkewWindow = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("OUTGOING_RETRY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OutgoingRetryMax = n
		}
	}
	if v := os.Getenv("OUTGOING_BACKOFF_INITIAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OutgoingBackoffInitial = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("OUTGOING_BACKOFF_CAP_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OutgoingBackoffCap = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("INGESTOR_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IngestorPollInterval = time.Duration(n) * time.Millisecond
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
