package config

import (
	"os"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got: %v", err)
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	os.Unsetenv("HMSC_CONFIG_FILE")
	t.Setenv("HMSC_LISTEN_ADDR", ":9999")
	t.Setenv("HMSC_RECONNECTION_WINDOW", "90s")
	t.Setenv("HMSC_OUTBOUND_QUEUE_SIZE", "512")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("expected listen addr :9999, got %s", cfg.ListenAddr)
	}
	if cfg.ReconnectionWindow != 90*time.Second {
		t.Fatalf("expected reconnection window 90s, got %s", cfg.ReconnectionWindow)
	}
	if cfg.OutboundQueueSize != 512 {
		t.Fatalf("expected outbound queue size 512, got %d", cfg.OutboundQueueSize)
	}
}

func TestValidate_RejectsIncompleteFirestoreConfig(t *testing.T) {
	cfg := Default()
	cfg.FirestoreEnabled = true
	cfg.FirebaseProjectID = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when firestore is enabled without a project id")
	}
}

func TestValidate_RejectsIncompletePostgresConfig(t *testing.T) {
	cfg := Default()
	cfg.PostgresAuditEnabled = true
	cfg.PostgresAuditDSN = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when postgres audit is enabled without a dsn")
	}
}

func TestValidate_RejectsNonPositiveTimeout(t *testing.T) {
	cfg := Default()
	cfg.DefaultSessionTimeout = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero session timeout")
	}
}
