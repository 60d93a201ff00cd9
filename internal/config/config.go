// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendURL     string
	BackendAnonKey string
	StorageBucket  string

	// Credential store
	CredentialStorePath string

	// Database（migrateとヘルスチェックのみ）
	DatabaseURL string

	// Session
	SessionBootTimeout time.Duration
	SignOutTimeout     time.Duration
	TokenTimeout       time.Duration

	// Repository host
	GitHubToken  string
	GitHubAPIURL string

	// Stats sync
	StatsSyncInterval    time.Duration
	StatsSyncConcurrency int

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAuth    int

	// Logging
	LogLevel string

	// Server
	ServerPort        string
	WorkerMetricsPort string
	BaseURL           string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、またはURLとして解釈できない場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.BackendURL = strings.TrimRight(os.Getenv("BACKEND_URL"), "/")
	if cfg.BackendURL == "" {
		missing = append(missing, "BACKEND_URL")
	}

	cfg.BackendAnonKey = os.Getenv("BACKEND_ANON_KEY")
	if cfg.BackendAnonKey == "" {
		missing = append(missing, "BACKEND_ANON_KEY")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	for key, raw := range map[string]string{"BACKEND_URL": cfg.BackendURL, "BASE_URL": cfg.BaseURL} {
		if err := validateHTTPURL(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}

	// Optional fields with defaults
	cfg.StorageBucket = getEnvString("STORAGE_BUCKET", "images")
	cfg.CredentialStorePath = getEnvString("CREDENTIAL_STORE_PATH", ".directory/credentials.json")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SessionBootTimeout = getEnvDuration("SESSION_BOOT_TIMEOUT", 5*time.Second)
	cfg.SignOutTimeout = getEnvDuration("SIGNOUT_TIMEOUT", time.Second)
	cfg.TokenTimeout = getEnvDuration("TOKEN_TIMEOUT", 2*time.Second)
	cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	cfg.GitHubAPIURL = getEnvString("GITHUB_API_URL", "https://api.github.com")
	cfg.StatsSyncInterval = getEnvDuration("STATS_SYNC_INTERVAL", time.Hour)
	cfg.StatsSyncConcurrency = getEnvInt("STATS_SYNC_CONCURRENCY", 4)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9091")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

	return cfg, nil
}

// RequireDatabase はDATABASE_URLが設定されているかを確認する。
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url: %q", raw)
	}
	return nil
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
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
