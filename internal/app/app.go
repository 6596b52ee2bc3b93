package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/musicjunkieg/ideal-telegram/internal/analysis"
	"github.com/musicjunkieg/ideal-telegram/internal/bluesky"
	"github.com/musicjunkieg/ideal-telegram/internal/config"
	"github.com/musicjunkieg/ideal-telegram/internal/constellation"
	"github.com/musicjunkieg/ideal-telegram/internal/database"
	"github.com/musicjunkieg/ideal-telegram/internal/handler"
	"github.com/musicjunkieg/ideal-telegram/internal/logger"
	"github.com/musicjunkieg/ideal-telegram/internal/metrics"
	"github.com/musicjunkieg/ideal-telegram/internal/middleware"
	"github.com/musicjunkieg/ideal-telegram/internal/repository"
	"github.com/musicjunkieg/ideal-telegram/internal/retry"
	"github.com/musicjunkieg/ideal-telegram/internal/security"
	"github.com/musicjunkieg/ideal-telegram/internal/toxicity"
	"github.com/musicjunkieg/ideal-telegram/internal/worker/monitor"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// buildPipeline は分析パイプラインとその依存関係をワイヤリングする。
// serveモードとworkerモードで共通の構築処理。
func buildPipeline(cfg *config.Config, db *sql.DB, collector *metrics.Collector) (*analysis.Pipeline, *toxicity.Client, repository.UserRepository) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	flaggedRepo := repository.NewPostgresFlaggedUserRepo(db)
	evidenceRepo := repository.NewPostgresEvidenceRepo(db)

	// 2. 外部APIクライアントの初期化
	retryCfg := retry.Config{
		MaxRetries: cfg.RetryMaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}

	blueskyClient := bluesky.NewClient(httpClient, slog.Default(), retryCfg)
	blueskyClient.SetBaseURL(cfg.AppViewURL)

	limiter := rate.NewLimiter(rate.Limit(cfg.ConstellationRateLimit), 1)
	constellationClient := constellation.NewClient(httpClient, slog.Default(), limiter, retryCfg)
	constellationClient.SetBaseURL(cfg.ConstellationURL)

	toxicityClient := toxicity.NewClient(
		httpClient, slog.Default(), cfg.MLServiceURL, retryCfg,
		cfg.ScoringBatchSize, cfg.ScoringBatchTimeout,
	)

	// 3. パイプラインの組み立て
	sanitizer := security.NewEvidenceSanitizer()
	pipeline := analysis.NewPipeline(
		blueskyClient, blueskyClient, constellationClient, toxicityClient,
		userRepo, flaggedRepo, evidenceRepo,
		sanitizer, collector, slog.Default(),
		analysis.Config{
			DefaultMaxPosts:     cfg.DefaultMaxPosts,
			PostsPerPage:        cfg.PostsPerPage,
			CandidateWindow:     cfg.CandidateWindow,
			DiscoveryWaveSize:   cfg.DiscoveryWaveSize,
			CandidateWaveSize:   cfg.CandidateWaveSize,
			MaxBacklinksPerType: cfg.MaxBacklinksPerType,
		},
	)

	return pipeline, toxicityClient, userRepo
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスとパイプラインの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	pipeline, toxicityClient, _ := buildPipeline(cfg, db, collector)

	// 3. レート制限（req/min単位の設定をreq/secに変換）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitAnalysis > 0 {
		rateLimiterCfg.AnalysisRate = rate.Limit(float64(cfg.RateLimitAnalysis) / 60.0)
		rateLimiterCfg.AnalysisBurst = cfg.RateLimitAnalysis
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 4. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: rateLimiter,
		Runner:      pipeline,
		DB:          db,
		Scorer:      toxicityClient,
		Gatherer:    registry,
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、モニタリングスケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. パイプラインの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	pipeline, _, userRepo := buildPipeline(cfg, db, collector)

	// 3. スケジューラの初期化
	scheduler := monitor.NewScheduler(
		userRepo, pipeline, slog.Default(), cfg.MonitorMaxConcurrency,
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("monitor_interval", cfg.MonitorInterval),
		slog.Int("max_concurrency", cfg.MonitorMaxConcurrency),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.MonitorInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
