// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	Port              string
	BaseURL           string
	CORSAllowedOrigin string
	CookieSecure      bool

	// Logging
	LogLevel          string
	LogFile           string
	LogFileMaxSizeMB  int
	LogFileMaxBackups int

	// Auth
	JWTSecret   string
	TokenTTL    time.Duration
	AdminEmails []string

	// LLM
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
	LLMTimeout time.Duration

	// Aggregation
	AggregationInterval    time.Duration
	RescoreInterval        time.Duration
	SchedulerEnabled       bool
	AdapterTimeout         time.Duration
	AdapterMaxSize         int64
	PolitenessReddit       time.Duration
	PolitenessYouTube      time.Duration
	PolitenessRSS          time.Duration
	PolitenessForum        time.Duration
	IngestInterval         time.Duration
	RedditLimit            int
	AggregationSourcesFile string

	// Rescore
	RescoreSampleSize  int
	RescoreWindow      time.Duration
	RescoreAPIInterval time.Duration
	RescoreMaxCalls    int

	// Retention（0で無効）
	PostRetentionDays int

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitAnalyze int

	// Cache
	RedisURL        string
	SummaryCacheTTL time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値の形式が不正な場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	var p parser
	cfg.Port = getEnvString("PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.Port)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFile = getEnvString("LOG_FILE", "")
	cfg.LogFileMaxSizeMB = p.int("LOG_FILE_MAX_SIZE_MB", 100)
	cfg.LogFileMaxBackups = p.int("LOG_FILE_MAX_BACKUPS", 5)

	cfg.JWTSecret = getEnvString("JWT_SECRET", "")
	cfg.TokenTTL = p.duration("TOKEN_TTL", 168*time.Hour)
	cfg.AdminEmails = getEnvList("ADMIN_EMAILS")

	cfg.LLMAPIKey = getEnvString("LLM_API_KEY", "")
	cfg.LLMBaseURL = getEnvString("LLM_BASE_URL", "https://api.openai.com/v1")
	cfg.LLMModel = getEnvString("LLM_MODEL", "gpt-4o")
	cfg.LLMTimeout = p.duration("LLM_TIMEOUT", 15*time.Second)

	cfg.AggregationInterval = p.duration("AGGREGATION_INTERVAL", 2*time.Hour)
	cfg.RescoreInterval = p.duration("RESCORE_INTERVAL", 3*time.Hour)
	cfg.SchedulerEnabled = p.bool("SCHEDULER_ENABLED", true)
	cfg.AdapterTimeout = p.duration("ADAPTER_TIMEOUT", 15*time.Second)
	cfg.AdapterMaxSize = p.int64("ADAPTER_MAX_SIZE", 5<<20)
	cfg.PolitenessReddit = p.duration("POLITENESS_REDDIT", 2*time.Second)
	cfg.PolitenessYouTube = p.duration("POLITENESS_YOUTUBE", 2*time.Second)
	cfg.PolitenessRSS = p.duration("POLITENESS_RSS", 2*time.Second)
	cfg.PolitenessForum = p.duration("POLITENESS_FORUM", 2*time.Second)
	cfg.IngestInterval = p.duration("INGEST_INTERVAL", time.Second)
	cfg.RedditLimit = p.int("REDDIT_LIMIT", 25)
	cfg.AggregationSourcesFile = getEnvString("AGGREGATION_SOURCES_FILE", "")

	cfg.RescoreSampleSize = p.int("RESCORE_SAMPLE_SIZE", 50)
	cfg.RescoreWindow = p.duration("RESCORE_WINDOW", 168*time.Hour)
	cfg.RescoreAPIInterval = p.duration("RESCORE_API_INTERVAL", 2*time.Second)
	cfg.RescoreMaxCalls = p.int("RESCORE_MAX_CALLS", 25)
	cfg.PostRetentionDays = p.int("POST_RETENTION_DAYS", 180)

	cfg.RateLimitGeneral = p.int("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAnalyze = p.int("RATE_LIMIT_ANALYZE", 10)

	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.SummaryCacheTTL = p.duration("SUMMARY_CACHE_TTL", 10*time.Minute)

	if len(p.invalid) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", p.invalid)
	}
	if cfg.PostRetentionDays < 0 {
		return nil, fmt.Errorf("POST_RETENTION_DAYS must not be negative")
	}
	if cfg.AggregationInterval <= 0 || cfg.RescoreInterval <= 0 {
		return nil, fmt.Errorf("AGGREGATION_INTERVAL and RESCORE_INTERVAL must be positive")
	}
	return cfg, nil
}

// parser は形式不正な環境変数名を収集する。
type parser struct {
	invalid []string
}

func (p *parser) int(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return defaultVal
	}
	return i
}

func (p *parser) int64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return defaultVal
	}
	return i
}

func (p *parser) duration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return defaultVal
	}
	return d
}

func (p *parser) bool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return defaultVal
	}
	return b
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
