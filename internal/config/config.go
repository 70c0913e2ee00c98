package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime settings for the API server. Values come
// from an optional YAML file, overridden by GATEKEY_* environment
// variables. The signing key is accepted from either source but is
// never echoed back; log Redacted() instead of the struct.
type Config struct {
	Addr     string `yaml:"addr"`
	Issuer   string `yaml:"issuer"`
	PGDSN    string `yaml:"pg_dsn"`
	RedisURL string `yaml:"redis_url"`

	SigningKey string `yaml:"signing_key"`

	SuperUserRole    string        `yaml:"super_user_role"`
	AccessTTL        time.Duration `yaml:"access_ttl"`
	RefreshTTL       time.Duration `yaml:"refresh_ttl"`
	LockoutThreshold int           `yaml:"lockout_threshold"`
	StalenessWindow  time.Duration `yaml:"staleness_window"`

	MigrationsDir string `yaml:"migrations_dir"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:             ":8080",
		Issuer:           "gatekey",
		SuperUserRole:    "SUPER_ADMIN",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       14 * 24 * time.Hour,
		LockoutThreshold: 5,
		StalenessWindow:  45 * 24 * time.Hour,
		MigrationsDir:    "ops/migrations/sql",
	}
}

// Load builds the config: defaults, then the YAML file at path (if
// any), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Addr, "GATEKEY_ADDR")
	setString(&c.Issuer, "GATEKEY_ISSUER")
	setString(&c.PGDSN, "GATEKEY_PG_DSN")
	setString(&c.RedisURL, "GATEKEY_REDIS_URL")
	setString(&c.SigningKey, "GATEKEY_SIGNING_KEY")
	setString(&c.SuperUserRole, "GATEKEY_SUPER_USER_ROLE")
	setString(&c.MigrationsDir, "GATEKEY_MIGRATIONS_DIR")
	setDuration(&c.AccessTTL, "GATEKEY_ACCESS_TTL")
	setDuration(&c.RefreshTTL, "GATEKEY_REFRESH_TTL")
	setDuration(&c.StalenessWindow, "GATEKEY_STALENESS_WINDOW")
	setInt(&c.LockoutThreshold, "GATEKEY_LOCKOUT_THRESHOLD")
}

// Validate checks the invariants the server cannot start without.
func (c Config) Validate() error {
	if c.SigningKey == "" {
		return errors.New("config: signing key is required (GATEKEY_SIGNING_KEY)")
	}
	if c.Issuer == "" {
		return errors.New("config: issuer is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.RefreshTTL < c.AccessTTL {
		return errors.New("config: refresh ttl must not be shorter than access ttl")
	}
	if c.LockoutThreshold < 1 {
		return errors.New("config: lockout threshold must be at least 1")
	}
	return nil
}

// Redacted returns the settings safe to log. The signing key is
// reported only by presence.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"addr":              c.Addr,
		"issuer":            c.Issuer,
		"pg_dsn_set":        c.PGDSN != "",
		"redis_url_set":     c.RedisURL != "",
		"signing_key_set":   c.SigningKey != "",
		"super_user_role":   c.SuperUserRole,
		"access_ttl":        c.AccessTTL.String(),
		"refresh_ttl":       c.RefreshTTL.String(),
		"lockout_threshold": c.LockoutThreshold,
		"staleness_window":  c.StalenessWindow.String(),
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
