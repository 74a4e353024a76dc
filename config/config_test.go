package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TokenTTL != 30*time.Second || cfg.FaceTTL != 30*time.Second {
		t.Fatalf("unexpected TTL defaults: token=%v face=%v", cfg.TokenTTL, cfg.FaceTTL)
	}
	if !cfg.AutoRotate || !cfg.RequireSecondaryFactor {
		t.Fatalf("autoRotate and requireSecondaryFactor default to true")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":8080"
  allowed_origins: ["https://attendance.example.edu"]
dependencies:
  redis_url: "redis://cache:6379/0"
  kafka_brokers: ["kafka-1:9092", "kafka-2:9092"]
attendance:
  tokenTtlSeconds: 45
  autoRotate: false
  requireSecondaryFactor: false
  faceTtlSeconds: 20
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("addr = %q", cfg.HTTPAddr)
	}
	if cfg.TokenTTL != 45*time.Second || cfg.FaceTTL != 20*time.Second {
		t.Errorf("ttl = %v/%v", cfg.TokenTTL, cfg.FaceTTL)
	}
	if cfg.AutoRotate || cfg.RequireSecondaryFactor {
		t.Errorf("explicit false values were ignored")
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.RedisURL == "" {
		t.Errorf("dependencies not applied: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "attendance:\n  tokenTtlSeconds: 45\n")
	t.Setenv("ATTENDANCE_TOKEN_TTL_SECONDS", "10")
	t.Setenv("ATTENDANCE_KAFKA_BROKERS", "a:9092, b:9092 ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TokenTTL != 10*time.Second {
		t.Fatalf("token ttl = %v, want env value", cfg.TokenTTL)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("brokers = %q", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsNonPositiveTTL(t *testing.T) {
	path := writeFile(t, "attendance:\n  tokenTtlSeconds: -5\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for negative ttl")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, "server: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
