// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	EmailProviderResend = "resend"
	EmailProviderSMTP   = "smtp"
	EmailProviderLog    = "log"
)

type Config struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty keeps every store in memory.
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBAutoMigrate bool   `mapstructure:"DB_AUTO_MIGRATE"`
	Env           string `mapstructure:"APP_ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`

	EmailProvider string `mapstructure:"EMAIL_PROVIDER"`
	EmailFrom     string `mapstructure:"EMAIL_FROM"`
	ResendAPIKey  string `mapstructure:"RESEND_API_KEY"`
	SMTPHost      string `mapstructure:"SMTP_HOST"`
	SMTPPort      int    `mapstructure:"SMTP_PORT"`
	SMTPUser      string `mapstructure:"SMTP_USER"`
	SMTPPassword  string `mapstructure:"SMTP_PASSWORD"`

	TwilioAccountSID       string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken        string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioVerifyServiceSID string `mapstructure:"TWILIO_VERIFY_SERVICE_SID"`
	// TwilioBaseURL replaces the scheme and host of Verify API calls.
	TwilioBaseURL string `mapstructure:"TWILIO_BASE_URL"`

	// OTPDevMode keeps locally generated codes readable from GET /dev/otp.
	// Refused when APP_ENV=production.
	OTPDevMode          bool `mapstructure:"OTP_DEV_MODE"`
	MaskUnknownAccounts bool `mapstructure:"MASK_UNKNOWN_ACCOUNTS"`
	BcryptCost          int  `mapstructure:"BCRYPT_COST"`

	SweepSchedule   string        `mapstructure:"SWEEP_SCHEDULE"`
	TicketRetention time.Duration `mapstructure:"TICKET_RETENTION"`

	RedisURL          string  `mapstructure:"REDIS_URL"`
	HTTPRatePerSecond float64 `mapstructure:"HTTP_RATE_PER_SECOND"`
	HTTPRateBurst     int     `mapstructure:"HTTP_RATE_BURST"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                 ":8080",
	"DATABASE_URL":              "",
	"DB_AUTO_MIGRATE":           false,
	"APP_ENV":                   "development",
	"LOG_LEVEL":                 "info",
	"EMAIL_PROVIDER":            EmailProviderLog,
	"EMAIL_FROM":                "",
	"RESEND_API_KEY":            "",
	"SMTP_HOST":                 "",
	"SMTP_PORT":                 587,
	"SMTP_USER":                 "",
	"SMTP_PASSWORD":             "",
	"TWILIO_ACCOUNT_SID":        "",
	"TWILIO_AUTH_TOKEN":         "",
	"TWILIO_VERIFY_SERVICE_SID": "",
	"TWILIO_BASE_URL":           "",
	"OTP_DEV_MODE":              false,
	"MASK_UNKNOWN_ACCOUNTS":     true,
	"BCRYPT_COST":               10,
	"SWEEP_SCHEDULE":            "@every 5m",
	"TICKET_RETENTION":          "24h",
	"REDIS_URL":                 "",
	"HTTP_RATE_PER_SECOND":      1.0,
	"HTTP_RATE_BURST":           5,
}

// Load reads .env when present, then builds and validates Config from the
// environment. Environment variables win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.EmailProvider = strings.ToLower(strings.TrimSpace(cfg.EmailProvider))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.OTPDevMode && c.Production() {
		return errors.New("config: OTP_DEV_MODE must not be true when APP_ENV=production")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	switch c.EmailProvider {
	case EmailProviderResend:
		if c.ResendAPIKey == "" || c.EmailFrom == "" {
			return errors.New("config: EMAIL_PROVIDER=resend requires RESEND_API_KEY and EMAIL_FROM")
		}
	case EmailProviderSMTP:
		if c.SMTPHost == "" || c.EmailFrom == "" {
			return errors.New("config: EMAIL_PROVIDER=smtp requires SMTP_HOST and EMAIL_FROM")
		}
	case EmailProviderLog:
	default:
		return fmt.Errorf("config: unknown EMAIL_PROVIDER %q", c.EmailProvider)
	}

	twilioSet := 0
	for _, value := range []string{c.TwilioAccountSID, c.TwilioAuthToken, c.TwilioVerifyServiceSID} {
		if value != "" {
			twilioSet++
		}
	}
	if twilioSet != 0 && twilioSet != 3 {
		return errors.New("config: TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_VERIFY_SERVICE_SID must be set together")
	}

	if c.TicketRetention <= 0 {
		return errors.New("config: TICKET_RETENTION must be positive")
	}
	if c.HTTPRatePerSecond < 0 || c.HTTPRateBurst < 0 {
		return errors.New("config: HTTP_RATE_PER_SECOND and HTTP_RATE_BURST must not be negative")
	}
	return nil
}

func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioVerifyServiceSID != ""
}

// Level returns the parsed LOG_LEVEL. Load has already validated it.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
