// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
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

	// 外部サービス
	AppViewURL       string
	ConstellationURL string
	MLServiceURL     string

	// 分析パイプライン
	DefaultMaxPosts     int
	PostsPerPage        int
	CandidateWindow     int
	DiscoveryWaveSize   int
	CandidateWaveSize   int
	MaxBacklinksPerType int

	// スコアリング
	ScoringBatchSize    int
	ScoringBatchTimeout time.Duration

	// Constellationへのリクエストペーシング（req/sec）
	ConstellationRateLimit float64

	// Retry
	RetryMaxRetries int
	RetryBaseDelay  time.Duration

	// モニタリングワーカー
	MonitorInterval       time.Duration
	MonitorMaxConcurrency int

	// Rate Limit（req/min）
	RateLimitGeneral  int
	RateLimitAnalysis int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}

	cfg.AppViewURL = getEnvString("APPVIEW_URL", "https://public.api.bsky.app")
	cfg.ConstellationURL = getEnvString("CONSTELLATION_URL", "https://constellation.microcosm.blue")
	cfg.MLServiceURL = getEnvString("ML_SERVICE_URL", "http://ml-service:3001")

	cfg.DefaultMaxPosts = getEnvInt("ANALYSIS_DEFAULT_MAX_POSTS", 100)
	cfg.PostsPerPage = getEnvInt("ANALYSIS_POSTS_PER_PAGE", 50)
	cfg.CandidateWindow = getEnvInt("ANALYSIS_CANDIDATE_WINDOW", 50)
	cfg.DiscoveryWaveSize = getEnvInt("ANALYSIS_DISCOVERY_WAVE_SIZE", 10)
	cfg.CandidateWaveSize = getEnvInt("ANALYSIS_CANDIDATE_WAVE_SIZE", 5)
	cfg.MaxBacklinksPerType = getEnvInt("ANALYSIS_MAX_BACKLINKS_PER_TYPE", 1000)

	cfg.ScoringBatchSize = getEnvInt("SCORING_BATCH_SIZE", 50)
	cfg.ScoringBatchTimeout = getEnvDuration("SCORING_BATCH_TIMEOUT", 30*time.Second)

	cfg.ConstellationRateLimit = getEnvFloat("CONSTELLATION_RATE_LIMIT", 10)

	cfg.RetryMaxRetries = getEnvInt("RETRY_MAX_RETRIES", 3)
	cfg.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", 100*time.Millisecond)

	cfg.MonitorInterval = getEnvDuration("MONITOR_INTERVAL", 6*time.Hour)
	cfg.MonitorMaxConcurrency = getEnvInt("MONITOR_MAX_CONCURRENCY", 3)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAnalysis = getEnvInt("RATE_LIMIT_ANALYSIS", 6)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
