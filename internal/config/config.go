// Package config loads and exposes application configuration (TOML).
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultJWTExpiresIn      = "24h"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "fieldwalk"
	DefaultPGSSLMode         = "disable"
	DefaultGraphAPIBase      = "https://graph.facebook.com/v21.0"
	DefaultWebhookPath       = "/webhook/whatsapp"
	DefaultClassifierTimeout = 10
	DefaultMinConfidence     = 0.5
	DefaultMediaRoot         = "data/media"
	DefaultMaxMediaBytes     = 25 << 20
	DefaultSendRate          = 1.0
	DefaultSendBurst         = 5
	DefaultReminderCron      = "0 7 * * *"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Admin      AdminConfig      `toml:"admin"`
	Auth       AuthConfig       `toml:"auth"`
	Postgres   PostgresConfig   `toml:"postgres"`
	WhatsApp   WhatsAppConfig   `toml:"whatsapp"`
	Classifier ClassifierConfig `toml:"classifier"`
	Media      MediaConfig      `toml:"media"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	Reminder   ReminderConfig   `toml:"reminder"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AdminConfig holds the initial admin account.
type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h). JWTExpiry is the
// parsed form of JWTExpiresIn, filled in by Load.
type AuthConfig struct {
	JWTSecret    string        `toml:"jwt_secret"`
	JWTExpiresIn string        `toml:"jwt_expires_in"`
	JWTExpiry    time.Duration `toml:"-"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// WhatsAppConfig holds WhatsApp Cloud API credentials and webhook settings.
type WhatsAppConfig struct {
	APIBase       string `toml:"api_base"`
	PhoneNumberID string `toml:"phone_number_id"`
	AccessToken   string `toml:"access_token"`
	VerifyToken   string `toml:"verify_token"`
	AppSecret     string `toml:"app_secret"`
	WebhookPath   string `toml:"webhook_path"`
}

// ClassifierConfig holds the intent classifier endpoint and thresholds.
type ClassifierConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MinConfidence  float64 `toml:"min_confidence"`
}

// MediaConfig holds media storage root and size limits.
type MediaConfig struct {
	Root     string `toml:"root"`
	MaxBytes int64  `toml:"max_bytes"`
}

// DispatchConfig holds outbound message rate limiting (per recipient) and the
// phone numbers notified on workflow events.
type DispatchConfig struct {
	RatePerSecond float64  `toml:"rate_per_second"`
	Burst         int      `toml:"burst"`
	NotifyNumbers []string `toml:"notify_numbers"`
}

// ReminderConfig holds the daily reminder schedule (cron expression, server local time).
type ReminderConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "change-your-password-here",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		WhatsApp: WhatsAppConfig{
			APIBase:     DefaultGraphAPIBase,
			WebhookPath: DefaultWebhookPath,
		},
		Classifier: ClassifierConfig{
			TimeoutSeconds: DefaultClassifierTimeout,
			MinConfidence:  DefaultMinConfidence,
		},
		Media: MediaConfig{
			Root:     DefaultMediaRoot,
			MaxBytes: DefaultMaxMediaBytes,
		},
		Dispatch: DispatchConfig{
			RatePerSecond: DefaultSendRate,
			Burst:         DefaultSendBurst,
		},
		Reminder: ReminderConfig{
			Enabled: true,
			Cron:    DefaultReminderCron,
		},
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}

	expiry, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return Config{}, fmt.Errorf("invalid auth.jwt_expires_in %q: %w", cfg.Auth.JWTExpiresIn, err)
	}
	cfg.Auth.JWTExpiry = expiry

	return cfg, nil
}
