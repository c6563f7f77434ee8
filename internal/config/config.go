package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

// Enabled reports whether an SMTP relay is configured.
func (s SMTP) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

// Branding carries the strings shown in page headers and titles.
type Branding struct {
	// SiteName signs outgoing emails and names the TOTP issuer.
	SiteName   string
	SiteHeader string
	SiteTitle  string
	IndexTitle string
}

type Config struct {
	Port        int
	AuthToken   string
	DatabaseURL string
	AutoMigrate bool
	RedisURL    string

	SecretKey  string
	SessionTTL time.Duration
	TimeZone   string
	BaseURL    string

	SMTP SMTP

	MFACodeTTL    time.Duration
	ResetTokenTTL time.Duration

	TokenRetentionDays int
	RetentionSchedule  string

	LogLevel    string
	Environment string

	Branding Branding
}

func Defaults() Config {
	return Config{
		Port:               8080,
		SessionTTL:         12 * time.Hour,
		TimeZone:           "America/Santiago",
		BaseURL:            "http://localhost:8080",
		SMTP:               SMTP{Port: 587, TLS: true, From: "no-reply@nuamcapital.cl"},
		MFACodeTTL:         10 * time.Minute,
		ResetTokenTTL:      24 * time.Hour,
		TokenRetentionDays: 7,
		RetentionSchedule:  "@daily",
		LogLevel:           "info",
		Environment:        "development",
		Branding: Branding{
			SiteName:   "NUAM Capital",
			SiteHeader: "NUAM Capital - Sistema de Gestión Tributaria",
			SiteTitle:  "Panel de Administración NUAM",
			IndexTitle: "Administración del Sistema",
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file named by
// NUAM_CONFIG and NUAM_* environment variables, in that order. A .env file in the
// working directory is loaded into the environment first if present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("NUAM_CONFIG")); path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	loadEnv(&cfg)
	return cfg, nil
}

type fileConfig struct {
	Port               int    `toml:"port"`
	AuthToken          string `toml:"auth_token"`
	DatabaseURL        string `toml:"database_url"`
	AutoMigrate        *bool  `toml:"auto_migrate"`
	RedisURL           string `toml:"redis_url"`
	SecretKey          string `toml:"secret_key"`
	SessionTTL         string `toml:"session_ttl"`
	TimeZone           string `toml:"time_zone"`
	BaseURL            string `toml:"base_url"`
	MFACodeTTL         string `toml:"mfa_code_ttl"`
	ResetTokenTTL      string `toml:"reset_token_ttl"`
	TokenRetentionDays *int   `toml:"token_retention_days"`
	RetentionSchedule  string `toml:"retention_schedule"`
	LogLevel           string `toml:"log_level"`
	Environment        string `toml:"environment"`

	SMTP struct {
		Host     string `toml:"host"`
		Port     int    `toml:"port"`
		Username string `toml:"username"`
		Password string `toml:"password"`
		From     string `toml:"from"`
		TLS      *bool  `toml:"tls"`
	} `toml:"smtp"`

	Branding struct {
		SiteName   string `toml:"site_name"`
		SiteHeader string `toml:"site_header"`
		SiteTitle  string `toml:"site_title"`
		IndexTitle string `toml:"index_title"`
	} `toml:"branding"`
}

func loadFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if fc.Port > 0 && fc.Port < 65536 {
		cfg.Port = fc.Port
	}
	setString(&cfg.AuthToken, fc.AuthToken)
	setString(&cfg.DatabaseURL, fc.DatabaseURL)
	if fc.AutoMigrate != nil {
		cfg.AutoMigrate = *fc.AutoMigrate
	}
	setString(&cfg.RedisURL, fc.RedisURL)
	setString(&cfg.SecretKey, fc.SecretKey)
	setDuration(&cfg.SessionTTL, fc.SessionTTL)
	setString(&cfg.TimeZone, fc.TimeZone)
	setString(&cfg.BaseURL, fc.BaseURL)
	setDuration(&cfg.MFACodeTTL, fc.MFACodeTTL)
	setDuration(&cfg.ResetTokenTTL, fc.ResetTokenTTL)
	if fc.TokenRetentionDays != nil && *fc.TokenRetentionDays >= 0 {
		cfg.TokenRetentionDays = *fc.TokenRetentionDays
	}
	setString(&cfg.RetentionSchedule, fc.RetentionSchedule)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.Environment, fc.Environment)

	setString(&cfg.SMTP.Host, fc.SMTP.Host)
	if fc.SMTP.Port > 0 && fc.SMTP.Port < 65536 {
		cfg.SMTP.Port = fc.SMTP.Port
	}
	setString(&cfg.SMTP.Username, fc.SMTP.Username)
	setString(&cfg.SMTP.Password, fc.SMTP.Password)
	setString(&cfg.SMTP.From, fc.SMTP.From)
	if fc.SMTP.TLS != nil {
		cfg.SMTP.TLS = *fc.SMTP.TLS
	}

	setString(&cfg.Branding.SiteName, fc.Branding.SiteName)
	setString(&cfg.Branding.SiteHeader, fc.Branding.SiteHeader)
	setString(&cfg.Branding.SiteTitle, fc.Branding.SiteTitle)
	setString(&cfg.Branding.IndexTitle, fc.Branding.IndexTitle)
	return nil
}

func loadEnv(cfg *Config) {
	setString(&cfg.AuthToken, os.Getenv("NUAM_AUTH_TOKEN"))
	setString(&cfg.DatabaseURL, os.Getenv("NUAM_DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	setString(&cfg.RedisURL, os.Getenv("NUAM_REDIS_URL"))
	setString(&cfg.SecretKey, os.Getenv("NUAM_SECRET_KEY"))
	setString(&cfg.TimeZone, os.Getenv("NUAM_TIME_ZONE"))
	setString(&cfg.BaseURL, os.Getenv("NUAM_BASE_URL"))
	setString(&cfg.RetentionSchedule, os.Getenv("NUAM_RETENTION_SCHEDULE"))
	setString(&cfg.LogLevel, os.Getenv("NUAM_LOG_LEVEL"))
	setString(&cfg.Environment, os.Getenv("NUAM_ENV"))
	setString(&cfg.Branding.SiteName, os.Getenv("NUAM_SITE_NAME"))

	if v := os.Getenv("NUAM_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			cfg.Port = p
		}
	}
	if v := os.Getenv("NUAM_AUTO_MIGRATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoMigrate = b
		}
	}
	setDuration(&cfg.SessionTTL, os.Getenv("NUAM_SESSION_TTL"))
	setDuration(&cfg.MFACodeTTL, os.Getenv("NUAM_MFA_CODE_TTL"))
	setDuration(&cfg.ResetTokenTTL, os.Getenv("NUAM_RESET_TOKEN_TTL"))
	if v := os.Getenv("NUAM_TOKEN_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.TokenRetentionDays = n
		}
	}

	setString(&cfg.SMTP.Host, os.Getenv("NUAM_SMTP_HOST"))
	if v := os.Getenv("NUAM_SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			cfg.SMTP.Port = p
		}
	}
	setString(&cfg.SMTP.Username, os.Getenv("NUAM_SMTP_USER"))
	setString(&cfg.SMTP.Password, os.Getenv("NUAM_SMTP_PASSWORD"))
	setString(&cfg.SMTP.From, os.Getenv("NUAM_SMTP_FROM"))
	if v := os.Getenv("NUAM_SMTP_TLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SMTP.TLS = b
		}
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) {
	if v = strings.TrimSpace(v); v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}

func (c Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Location resolves TimeZone, falling back to UTC when it is unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
