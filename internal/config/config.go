// Package config loads service configuration from a YAML file and
// environment variables, with sane defaults for local development.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the auth service.
type Config struct {
	Environment string       `mapstructure:"environment"`
	LogLevel    string       `mapstructure:"log_level"`
	Server      ServerConfig `mapstructure:"server"`
	Redis       RedisConfig  `mapstructure:"redis"`
	Database    DBConfig     `mapstructure:"database"`
	JWT         JWTConfig    `mapstructure:"jwt"`
	OTP         OTPConfig    `mapstructure:"otp"`
	Reset       ResetConfig  `mapstructure:"reset"`
	Lockout     Lockout      `mapstructure:"lockout"`
	RateLimits  RateLimits   `mapstructure:"rate_limits"`
	SMTP        SMTPConfig   `mapstructure:"smtp"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DBConfig holds the Postgres credential store settings.
type DBConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

// OTPConfig holds one-time code settings.
type OTPConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Digits int           `mapstructure:"digits"`
}

// ResetConfig holds verification token settings for password changes.
type ResetConfig struct {
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Lockout holds login escalation settings.
type Lockout struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

// Rule bounds attempts for one endpoint within a fixed window.
type Rule struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
}

// RateLimits holds the per-endpoint attempt rules.
type RateLimits struct {
	Login          Rule `mapstructure:"login"`
	OTPSend        Rule `mapstructure:"otp_send"`
	OTPVerify      Rule `mapstructure:"otp_verify"`
	PasswordChange Rule `mapstructure:"password_change"`
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Load reads configuration from config.yaml (optional) and the AUTHCORE_*
// environment, applying defaults first.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	// Empty defaults keep env-only keys visible to Unmarshal.
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "authcore")
	v.SetDefault("jwt.access_ttl", 30*time.Minute)
	v.SetDefault("jwt.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("otp.ttl", 5*time.Minute)
	v.SetDefault("otp.digits", 6)
	v.SetDefault("reset.token_ttl", 30*time.Minute)
	v.SetDefault("lockout.threshold", 10)
	v.SetDefault("lockout.duration", time.Hour)
	v.SetDefault("rate_limits.login.max_attempts", 5)
	v.SetDefault("rate_limits.login.window", 15*time.Minute)
	v.SetDefault("rate_limits.otp_send.max_attempts", 3)
	v.SetDefault("rate_limits.otp_send.window", 5*time.Minute)
	v.SetDefault("rate_limits.otp_verify.max_attempts", 5)
	v.SetDefault("rate_limits.otp_verify.window", 15*time.Minute)
	v.SetDefault("rate_limits.password_change.max_attempts", 3)
	v.SetDefault("rate_limits.password_change.window", 30*time.Minute)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/authcore")

	v.SetEnvPrefix("AUTHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return fmt.Errorf("jwt token TTLs must be positive")
	}
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return fmt.Errorf("otp.digits must be between 6 and 10")
	}
	if c.Lockout.Threshold < 1 {
		return fmt.Errorf("lockout.threshold must be >= 1")
	}
	return nil
}
