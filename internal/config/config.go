package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const minSecretKeyLen = 32

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	Environment string

	SecretKey string
	Algorithm string

	AccessTokenExpireMinutes int
	RefreshTokenExpireDays   int

	OTPExpireMinutes      int
	MaxOTPAttempts        int
	MaxOTPRequestsPerHour int

	BypassOTP           bool
	RequireRefreshRedis bool

	SMSProvider string
}

// IsDevelopment reports whether the process runs under the development profile.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads configuration from environment variables. Weak or missing
// SECRET_KEY outside development is a startup error, never a runtime one.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                     "8080",
		Environment:              "development",
		Algorithm:                "HS256",
		AccessTokenExpireMinutes: 15,
		RefreshTokenExpireDays:   30,
		OTPExpireMinutes:         5,
		MaxOTPAttempts:           3,
		MaxOTPRequestsPerHour:    5,
		SMSProvider:              "console",
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = strings.ToLower(env)
	}

	cfg.SecretKey = os.Getenv("SECRET_KEY")
	if !cfg.IsDevelopment() {
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("SECRET_KEY must be set outside the development environment")
		}
		if len(cfg.SecretKey) < minSecretKeyLen {
			return nil, fmt.Errorf("SECRET_KEY must be at least %d bytes outside the development environment", minSecretKeyLen)
		}
	}
	if cfg.SecretKey == "" {
		// Development fallback so a bare checkout boots.
		cfg.SecretKey = "dev-insecure-secret-key-do-not-use"
	}

	if alg := os.Getenv("ALGORITHM"); alg != "" {
		if alg != "HS256" && alg != "HS384" && alg != "HS512" {
			return nil, fmt.Errorf("unsupported ALGORITHM %q (HMAC only)", alg)
		}
		cfg.Algorithm = alg
	}

	var err error
	if cfg.AccessTokenExpireMinutes, err = intEnv("ACCESS_TOKEN_EXPIRE_MINUTES", cfg.AccessTokenExpireMinutes); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenExpireDays, err = intEnv("REFRESH_TOKEN_EXPIRE_DAYS", cfg.RefreshTokenExpireDays); err != nil {
		return nil, err
	}
	if cfg.OTPExpireMinutes, err = intEnv("OTP_EXPIRE_MINUTES", cfg.OTPExpireMinutes); err != nil {
		return nil, err
	}
	if cfg.MaxOTPAttempts, err = intEnv("MAX_OTP_ATTEMPTS", cfg.MaxOTPAttempts); err != nil {
		return nil, err
	}
	if cfg.MaxOTPRequestsPerHour, err = intEnv("MAX_OTP_REQUESTS_PER_HOUR", cfg.MaxOTPRequestsPerHour); err != nil {
		return nil, err
	}

	cfg.BypassOTP = boolEnv("BYPASS_OTP")
	if cfg.BypassOTP && !cfg.IsDevelopment() {
		// The bypass code path must be unreachable in production profiles.
		return nil, fmt.Errorf("BYPASS_OTP cannot be enabled outside the development environment")
	}

	cfg.RequireRefreshRedis = boolEnv("REQUIRE_REFRESH_REDIS")

	if p := os.Getenv("SMS_PROVIDER"); p != "" {
		cfg.SMSProvider = strings.ToLower(p)
	}

	return cfg, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return v, nil
}

func boolEnv(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
