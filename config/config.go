// Package config resolves runtime settings in priority order:
// built-in defaults, then the YAML file, then ATTENDANCE_* environment
// variables. Command-line flags are applied last by main.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr       string
	AllowedOrigins []string
	LogLevel       string

	DatabasePath string
	RedisURL     string
	RosterCache  time.Duration
	KafkaBrokers []string
	KafkaTopic   string

	TokenTTL               time.Duration
	AutoRotate             bool
	CountdownInterval      time.Duration
	RequireSecondaryFactor bool
	FaceTTL                time.Duration
	RosterTimeout          time.Duration
	SessionRetention       time.Duration

	// SigningSecret keys the HS256 long-form token. Empty means an
	// ephemeral per-process secret.
	SigningSecret string
	// VerifierKey authenticates the external biometric matcher on
	// /verification/confirm. Empty disables that endpoint.
	VerifierKey string

	WebAuthnRPID          string
	WebAuthnRPDisplayName string
	WebAuthnRPOrigins     []string
}

type configFile struct {
	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		LogLevel       string   `yaml:"log_level"`
	} `yaml:"server"`
	Dependencies struct {
		DatabasePath    string   `yaml:"database_path"`
		RedisURL        string   `yaml:"redis_url"`
		RosterCacheSecs int      `yaml:"roster_cache_seconds"`
		KafkaBrokers    []string `yaml:"kafka_brokers"`
		KafkaTopic      string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
	Attendance struct {
		TokenTTLSeconds        int   `yaml:"tokenTtlSeconds"`
		AutoRotate             *bool `yaml:"autoRotate"`
		RequireSecondaryFactor *bool `yaml:"requireSecondaryFactor"`
		FaceTTLSeconds         int   `yaml:"faceTtlSeconds"`
		RosterTimeoutMillis    int   `yaml:"rosterTimeoutMillis"`
		SessionRetentionMins   int   `yaml:"sessionRetentionMinutes"`
	} `yaml:"attendance"`
	Security struct {
		SigningSecret string `yaml:"signing_secret"`
		VerifierKey   string `yaml:"verifier_key"`
	} `yaml:"security"`
	WebAuthn struct {
		RPID          string   `yaml:"rp_id"`
		RPDisplayName string   `yaml:"rp_display_name"`
		RPOrigins     []string `yaml:"rp_origins"`
	} `yaml:"webauthn"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:               ":6969",
		AllowedOrigins:         []string{"http://localhost:3000"},
		LogLevel:               "info",
		DatabasePath:           "attendance.db",
		RosterCache:            time.Minute,
		KafkaTopic:             "attendance.presence",
		TokenTTL:               30 * time.Second,
		AutoRotate:             true,
		CountdownInterval:      time.Second,
		RequireSecondaryFactor: true,
		FaceTTL:                30 * time.Second,
		RosterTimeout:          2 * time.Second,
		SessionRetention:       time.Hour,
		WebAuthnRPID:           "localhost",
		WebAuthnRPDisplayName:  "QR Attendance",
		WebAuthnRPOrigins:      []string{"http://localhost:3000"},
	}
}

// Load reads path if it exists. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			var f configFile
			if err := yaml.Unmarshal(raw, &f); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
			applyFile(&cfg, f)
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TokenTTL <= 0 {
		return errors.New("tokenTtlSeconds must be positive")
	}
	if c.FaceTTL <= 0 {
		return errors.New("faceTtlSeconds must be positive")
	}
	if c.CountdownInterval <= 0 {
		return errors.New("countdown interval must be positive")
	}
	if c.RosterTimeout <= 0 {
		return errors.New("roster timeout must be positive")
	}
	if c.HTTPAddr == "" {
		return errors.New("server address is required")
	}
	return nil
}

func applyFile(cfg *Config, f configFile) {
	if f.Server.Addr != "" {
		cfg.HTTPAddr = f.Server.Addr
	}
	if len(f.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = f.Server.AllowedOrigins
	}
	if f.Server.LogLevel != "" {
		cfg.LogLevel = f.Server.LogLevel
	}
	if f.Dependencies.DatabasePath != "" {
		cfg.DatabasePath = f.Dependencies.DatabasePath
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if f.Dependencies.RosterCacheSecs > 0 {
		cfg.RosterCache = time.Duration(f.Dependencies.RosterCacheSecs) * time.Second
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Dependencies.KafkaTopic != "" {
		cfg.KafkaTopic = f.Dependencies.KafkaTopic
	}
	// Zero and negative TTLs are passed through so Validate rejects them
	// instead of silently keeping the default.
	if f.Attendance.TokenTTLSeconds != 0 {
		cfg.TokenTTL = time.Duration(f.Attendance.TokenTTLSeconds) * time.Second
	}
	if f.Attendance.AutoRotate != nil {
		cfg.AutoRotate = *f.Attendance.AutoRotate
	}
	if f.Attendance.RequireSecondaryFactor != nil {
		cfg.RequireSecondaryFactor = *f.Attendance.RequireSecondaryFactor
	}
	if f.Attendance.FaceTTLSeconds != 0 {
		cfg.FaceTTL = time.Duration(f.Attendance.FaceTTLSeconds) * time.Second
	}
	if f.Attendance.RosterTimeoutMillis > 0 {
		cfg.RosterTimeout = time.Duration(f.Attendance.RosterTimeoutMillis) * time.Millisecond
	}
	if f.Attendance.SessionRetentionMins > 0 {
		cfg.SessionRetention = time.Duration(f.Attendance.SessionRetentionMins) * time.Minute
	}
	if f.Security.SigningSecret != "" {
		cfg.SigningSecret = f.Security.SigningSecret
	}
	if f.Security.VerifierKey != "" {
		cfg.VerifierKey = f.Security.VerifierKey
	}
	if f.WebAuthn.RPID != "" {
		cfg.WebAuthnRPID = f.WebAuthn.RPID
	}
	if f.WebAuthn.RPDisplayName != "" {
		cfg.WebAuthnRPDisplayName = f.WebAuthn.RPDisplayName
	}
	if len(f.WebAuthn.RPOrigins) > 0 {
		cfg.WebAuthnRPOrigins = f.WebAuthn.RPOrigins
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("ATTENDANCE_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("ATTENDANCE_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("ATTENDANCE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ATTENDANCE_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("ATTENDANCE_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("ATTENDANCE_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("ATTENDANCE_KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}
	if v := os.Getenv("ATTENDANCE_TOKEN_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ATTENDANCE_TOKEN_TTL_SECONDS: %w", err)
		}
		cfg.TokenTTL = time.Duration(n) * time.Second
	}
	if v := os.Getenv("ATTENDANCE_AUTO_ROTATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ATTENDANCE_AUTO_ROTATE: %w", err)
		}
		cfg.AutoRotate = b
	}
	if v := os.Getenv("ATTENDANCE_REQUIRE_SECONDARY_FACTOR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ATTENDANCE_REQUIRE_SECONDARY_FACTOR: %w", err)
		}
		cfg.RequireSecondaryFactor = b
	}
	if v := os.Getenv("ATTENDANCE_FACE_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ATTENDANCE_FACE_TTL_SECONDS: %w", err)
		}
		cfg.FaceTTL = time.Duration(n) * time.Second
	}
	if v := os.Getenv("ATTENDANCE_SIGNING_SECRET"); v != "" {
		cfg.SigningSecret = v
	}
	if v := os.Getenv("ATTENDANCE_VERIFIER_KEY"); v != "" {
		cfg.VerifierKey = v
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
