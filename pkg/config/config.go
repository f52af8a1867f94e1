// Package config loads the session coordinator's configuration: listen
// addresses, session/connection timing constants, and the optional audit
// sink credentials. Env vars are read directly (teacher style, os.Getenv +
// strconv), with an optional YAML file layer underneath for file-based
// deployment config — loaded first, then every env var that is set
// overrides the corresponding field.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every configuration value the coordinator process needs.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listen_addr"`
	PublicURL   string `yaml:"public_url"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	// Session/connection timing. The keep-alive interval and AUTH deadline
	// are spec-fixed constants (25s / 10s, see pkg/signaling) and are not
	// configurable — only the two operational constants spec.md §9 flags
	// as not rigorously pinned by the source are.
	//
	// DefaultSessionTimeout is loaded and validated but not passed to
	// session.Manager, which falls back to its own session.DefaultTimeout
	// (15m) when a create request carries no timeout.
	DefaultSessionTimeout time.Duration `yaml:"default_session_timeout"`
	ReconnectionWindow    time.Duration `yaml:"reconnection_window"`
	OutboundQueueSize     int           `yaml:"outbound_queue_size"`

	// Blockchain submission (network.EVMRelay)
	EVMRPCURL  string `yaml:"evm_rpc_url"`
	EVMChainID int64  `yaml:"evm_chain_id"`

	// Audit sinks (pkg/audit) — both disabled by default.
	FirestoreEnabled        bool   `yaml:"firestore_enabled"`
	FirebaseProjectID       string `yaml:"firebase_project_id"`
	FirebaseCredentialsFile string `yaml:"firebase_credentials_file"`

	PostgresAuditEnabled bool   `yaml:"postgres_audit_enabled"`
	PostgresAuditDSN     string `yaml:"postgres_audit_dsn"`
}

// Default returns the coordinator's safe-for-local-development defaults.
func Default() *Config {
	return &Config{
		ListenAddr:            ":8080",
		PublicURL:             "ws://localhost:8080/ws",
		MetricsAddr:           ":9090",
		LogLevel:              "info",
		DefaultSessionTimeout: 15 * time.Minute,
		ReconnectionWindow:    60 * time.Second,
		OutboundQueueSize:     256,
		EVMChainID:            296, // Hedera testnet's EVM-compatible chain id
	}
}

// LoadFile reads a YAML config file into a fresh Config seeded from
// Default(), so a partial file only overrides the fields it sets.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds a Config from, in increasing precedence: built-in defaults,
// an optional YAML file named by HMSC_CONFIG_FILE, then individual
// environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("HMSC_CONFIG_FILE"); path != "" {
		fromFile, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fromFile
	}

	cfg.ListenAddr = getEnv("HMSC_LISTEN_ADDR", cfg.ListenAddr)
	cfg.PublicURL = getEnv("HMSC_PUBLIC_URL", cfg.PublicURL)
	cfg.MetricsAddr = getEnv("HMSC_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = getEnv("HMSC_LOG_LEVEL", cfg.LogLevel)

	cfg.DefaultSessionTimeout = getEnvDuration("HMSC_DEFAULT_SESSION_TIMEOUT", cfg.DefaultSessionTimeout)
	cfg.ReconnectionWindow = getEnvDuration("HMSC_RECONNECTION_WINDOW", cfg.ReconnectionWindow)
	cfg.OutboundQueueSize = getEnvInt("HMSC_OUTBOUND_QUEUE_SIZE", cfg.OutboundQueueSize)

	cfg.EVMRPCURL = getEnv("HMSC_EVM_RPC_URL", cfg.EVMRPCURL)
	cfg.EVMChainID = getEnvInt64("HMSC_EVM_CHAIN_ID", cfg.EVMChainID)

	cfg.FirestoreEnabled = getEnvBool("HMSC_FIRESTORE_ENABLED", cfg.FirestoreEnabled)
	cfg.FirebaseProjectID = getEnv("FIREBASE_PROJECT_ID", cfg.FirebaseProjectID)
	cfg.FirebaseCredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", cfg.FirebaseCredentialsFile)

	cfg.PostgresAuditEnabled = getEnvBool("HMSC_POSTGRES_AUDIT_ENABLED", cfg.PostgresAuditEnabled)
	cfg.PostgresAuditDSN = getEnv("HMSC_POSTGRES_AUDIT_DSN", cfg.PostgresAuditDSN)

	return cfg, nil
}

// Validate checks the configuration is internally consistent enough to
// start the coordinator. It does not require the audit sinks or the EVM
// relay to be configured — both are optional.
func (c *Config) Validate() error {
	var errs []string
	if c.ListenAddr == "" {
		errs = append(errs, "listen address is required")
	}
	if c.OutboundQueueSize <= 0 {
		errs = append(errs, "outbound queue size must be positive")
	}
	if c.DefaultSessionTimeout <= 0 {
		errs = append(errs, "default session timeout must be positive")
	}
	if c.FirestoreEnabled && c.FirebaseProjectID == "" {
		errs = append(errs, "HMSC_FIRESTORE_ENABLED is set but FIREBASE_PROJECT_ID is empty")
	}
	if c.PostgresAuditEnabled && c.PostgresAuditDSN == "" {
		errs = append(errs, "HMSC_POSTGRES_AUDIT_ENABLED is set but HMSC_POSTGRES_AUDIT_DSN is empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
