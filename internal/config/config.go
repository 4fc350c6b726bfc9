package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Control surface
	APIToken          string
	ServerPort        string
	CORSAllowedOrigin string

	// Skool
	SkoolBaseURL string

	// Engine
	PollInterval     time.Duration
	OperationTimeout time.Duration
	LoginTimeout     time.Duration
	SendConfirmWait  time.Duration
	FreshnessWindow  time.Duration
	MaxAuthFailures  int
	RetryFailed      bool

	// Browser
	Headless  bool
	NoSandbox bool

	// Rate Limit
	SendMinInterval  time.Duration
	RateLimitGeneral int
	RateLimitTestDM  int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.APIToken = os.Getenv("API_TOKEN")
	if cfg.APIToken == "" {
		missing = append(missing, "API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.SkoolBaseURL = getEnvString("SKOOL_BASE_URL", "https://www.skool.com")
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", 30*time.Second)
	cfg.OperationTimeout = getEnvDuration("OPERATION_TIMEOUT", 30*time.Second)
	cfg.LoginTimeout = getEnvDuration("LOGIN_TIMEOUT", 60*time.Second)
	cfg.SendConfirmWait = getEnvDuration("SEND_CONFIRM_WAIT", 5*time.Second)
	cfg.FreshnessWindow = getEnvDuration("SESSION_FRESHNESS_WINDOW", 15*time.Minute)
	cfg.MaxAuthFailures = getEnvInt("MAX_AUTH_FAILURES", 3)
	cfg.RetryFailed = getEnvBool("RETRY_FAILED_OUTREACH", false)
	cfg.Headless = getEnvBool("BROWSER_HEADLESS", true)
	cfg.NoSandbox = getEnvBool("BROWSER_NO_SANDBOX", false)
	cfg.SendMinInterval = getEnvDuration("SEND_MIN_INTERVAL", 2*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitTestDM = getEnvInt("RATE_LIMIT_TEST_DM", 10)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
